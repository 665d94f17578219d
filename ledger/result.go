package ledger

// Status tells the caller how a request was served.
type Status int

const (
	// StatusOK means the preferred backend served the request.
	StatusOK Status = iota
	// StatusDegraded means a fallback backend served the request.
	StatusDegraded
	// StatusFailed means Err is set.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// Result carries a value together with the backend that produced it.
// Backend is empty only when no backend could be reached.
type Result[T any] struct {
	Value   T
	Status  Status
	Backend string
	Err     error
}

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// Degraded reports whether a fallback backend served the request.
func (r Result[T]) Degraded() bool {
	return r.Status == StatusDegraded
}

// mapResult carries r's backend and status over to a derived value.
func mapResult[T, U any](r Result[T], fn func(T) U) Result[U] {
	out := Result[U]{Status: r.Status, Backend: r.Backend, Err: r.Err}
	if r.Err == nil {
		out.Value = fn(r.Value)
	}
	return out
}
