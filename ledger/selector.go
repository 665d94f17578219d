/*
selector.go - Ordered backend fallback

PURPOSE:
  The service must keep working when the network backend is unreachable.
  The Selector holds an ordered chain of stores (remote, file, memory) and
  runs each operation against the first one that can serve it.

RULES:
  1. Every call starts at the head of the chain. There is no demoted state.
  2. Only errors matching ErrStoreUnavailable move to the next backend.
     They are logged and counted, never returned while a fallback succeeds.
  3. Business errors (insufficient balance, not found) stop the walk: a
     record missing from the remote store is not looked up in the file.
  4. Each attempt gets its own deadline so a stalled remote call cannot
     hold a request forever.

DEGRADED WRITES:
  Writes served by a fallback stay there. They are not replayed into the
  remote store when it recovers.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a single backend attempt.
const DefaultCallTimeout = 5 * time.Second

// Outcome labels for Observer.
const (
	OutcomeServed      = "served"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// Observer is notified of every backend attempt.
type Observer interface {
	BackendCall(backend, op, outcome string, elapsed time.Duration)
}

// Selector runs operations against an ordered chain of stores.
type Selector struct {
	backends []Store
	timeout  time.Duration
	log      *zap.Logger
	observer Observer
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithCallTimeout sets the per-attempt deadline. Zero disables it.
func WithCallTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) { s.timeout = d }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(log *zap.Logger) SelectorOption {
	return func(s *Selector) { s.log = log }
}

// WithObserver registers an observer for backend attempts.
func WithObserver(o Observer) SelectorOption {
	return func(s *Selector) { s.observer = o }
}

// NewSelector creates a selector over backends, most preferred first.
func NewSelector(backends []Store, opts ...SelectorOption) *Selector {
	s := &Selector{
		backends: backends,
		timeout:  DefaultCallTimeout,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backends returns the chain in priority order.
func (s *Selector) Backends() []Store {
	return s.backends
}

// Close closes every backend that holds a connection.
func (s *Selector) Close() error {
	var errs []error
	for _, b := range s.backends {
		if c, ok := b.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// run executes fn against each backend in turn until one serves it.
func run[T any](ctx context.Context, s *Selector, op string, fn func(context.Context, Store) (T, error)) Result[T] {
	var lastErr error
	for i, b := range s.backends {
		if err := ctx.Err(); err != nil {
			return Result[T]{Status: StatusFailed, Err: err}
		}

		start := time.Now()
		v, err := attempt(ctx, s.timeout, b, fn)
		elapsed := time.Since(start)

		if err == nil {
			s.observe(b.Name(), op, OutcomeServed, elapsed)
			status := StatusOK
			if i > 0 {
				status = StatusDegraded
			}
			return Result[T]{Value: v, Status: status, Backend: b.Name()}
		}

		if !errors.Is(err, ErrStoreUnavailable) {
			s.observe(b.Name(), op, OutcomeRejected, elapsed)
			return Result[T]{Status: StatusFailed, Backend: b.Name(), Err: err}
		}

		s.observe(b.Name(), op, OutcomeUnavailable, elapsed)
		s.log.Warn("backend unavailable, falling back",
			zap.String("backend", b.Name()),
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no backends configured")
	}
	return Result[T]{
		Status: StatusFailed,
		Err:    fmt.Errorf("%w: every backend failed for %s: %v", ErrStoreUnavailable, op, lastErr),
	}
}

func attempt[T any](ctx context.Context, timeout time.Duration, b Store, fn func(context.Context, Store) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, b)
}

func (s *Selector) observe(backend, op, outcome string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.BackendCall(backend, op, outcome, elapsed)
	}
}
