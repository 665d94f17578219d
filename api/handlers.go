/*
handlers.go - HTTP API handlers for the household points ledger

PURPOSE:
  Exposes the ledger over REST. Handles HTTP request/response, form and
  JSON decoding, image uploads, and delegates everything else to
  ledger.Ledger.

ENDPOINTS:
  History:
    GET    /api/history          Unified feed, newest first
    DELETE /api/history/{id}     Delete an entry or a redemption

  Points:
    POST   /api/points           Add an entry (multipart, form or JSON)
    GET    /api/total-points     Current balance

  Redemptions:
    POST   /api/redemptions      Spend points on a gift

  Operations:
    GET    /api/backend          Which backend serves reads right now

REQUEST FLOW:
  1. Decode the body (JSON, multipart or url-encoded form)
  2. Upload the image, if any
  3. Call the ledger
  4. Copy the Result's backend and status into response headers
  5. Serialize the value or map the error to a status code

RESPONSE HEADERS:
  X-Ledger-Backend:  name of the backend that served the request
  X-Ledger-Degraded: "true" when a fallback served it

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Malformed input, insufficient points, unreadable body
  - 404: Record id not found
  - 413: Body or image too large
  - 503: No backend could serve the request
  - 500: Anything else

SECURITY NOTE:
  No authentication. The service is meant for one household on a private
  network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/upload"
	"go.uber.org/zap"
)

const (
	headerBackend  = "X-Ledger-Backend"
	headerDegraded = "X-Ledger-Degraded"

	// maxBodySize bounds a request body: one image plus form fields.
	maxBodySize = upload.MaxSize + 1<<20
	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20
)

var (
	errBadRequest   = errors.New("invalid request body")
	errUploadFailed = errors.New("image upload failed")
)

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", errBadRequest, err)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Ledger
	Uploads upload.Uploader
	Log     *zap.Logger
}

// NewHandler creates a handler. uploads may be nil, in which case requests
// carrying an image are rejected.
func NewHandler(l *ledger.Ledger, uploads upload.Uploader, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Ledger: l, Uploads: uploads, Log: log}
}

// =============================================================================
// HISTORY ENDPOINTS
// =============================================================================

// GetHistory returns entries and redemptions merged, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	res := h.Ledger.History(r.Context())
	setResultHeaders(w, res)
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}

	items := res.Value
	if items == nil {
		items = []ledger.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// DeleteHistory deletes the entry or redemption with the given id.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.RecordID(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	res := h.Ledger.DeleteByID(ctx, id)
	setResultHeaders(w, res)
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}

	resp := DeleteResponse{
		Success: true,
		Status:  "deleted",
		ID:      res.Value.ID,
		Kind:    res.Value.Kind,
	}
	if bal := h.Ledger.Balance(ctx); bal.Err == nil {
		resp.TotalPoints = &bal.Value
	} else {
		h.Log.Warn("balance after delete", zap.String("id", string(id)), zap.Error(bal.Err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// POINTS ENDPOINTS
// =============================================================================

// AddPoints records an earn or deduct entry, with an optional image.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	in, err := h.decodeNewEntry(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res := h.Ledger.AddEntry(r.Context(), in)
	setResultHeaders(w, res)
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Value)
}

// GetTotalPoints returns the current balance.
func (h *Handler) GetTotalPoints(w http.ResponseWriter, r *http.Request) {
	res := h.Ledger.Balance(r.Context())
	setResultHeaders(w, res)
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, TotalPointsResponse{TotalPoints: res.Value})
}

func (h *Handler) decodeNewEntry(r *http.Request) (ledger.NewEntry, error) {
	switch mediaType(r) {
	case "application/json":
		var req AddPointsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return ledger.NewEntry{}, badRequest(err)
		}
		return ledger.NewEntry{
			Type:         req.Type,
			Description:  req.Description,
			PointsChange: string(req.PointsChange),
		}, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return ledger.NewEntry{}, badRequest(err)
		}
		in := formEntry(r)
		// Validate before uploading so a bad value does not leave an orphan image.
		if _, err := ledger.ParsePoints("points_change", in.PointsChange); err != nil {
			return ledger.NewEntry{}, err
		}
		url, err := h.saveImage(r)
		if err != nil {
			return ledger.NewEntry{}, err
		}
		in.ImageURL = url
		return in, nil

	default:
		if err := r.ParseForm(); err != nil {
			return ledger.NewEntry{}, badRequest(err)
		}
		return formEntry(r), nil
	}
}

func formEntry(r *http.Request) ledger.NewEntry {
	return ledger.NewEntry{
		Type:         r.FormValue("type"),
		Description:  r.FormValue("description"),
		PointsChange: r.FormValue("points_change"),
	}
}

// saveImage uploads the optional "image" part. No part means no URL.
func (h *Handler) saveImage(r *http.Request) (*string, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badRequest(err)
	}
	defer file.Close()

	if h.Uploads == nil {
		return nil, badRequest(errors.New("image uploads are disabled"))
	}
	url, err := h.Uploads.Save(r.Context(), header.Filename, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUploadFailed, err)
	}
	return &url, nil
}

// =============================================================================
// REDEMPTION ENDPOINTS
// =============================================================================

// AddRedemption spends points on a gift. It fails with 400 when the
// balance does not cover the cost.
func (h *Handler) AddRedemption(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req AddRedemptionRequest
	switch mediaType(r) {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.fail(w, r, badRequest(err))
			return
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.fail(w, r, badRequest(err))
			return
		}
		req.GiftName = r.FormValue("gift_name")
		req.PointsCost = pointsValue(r.FormValue("points_cost"))
	default:
		if err := r.ParseForm(); err != nil {
			h.fail(w, r, badRequest(err))
			return
		}
		req.GiftName = r.FormValue("gift_name")
		req.PointsCost = pointsValue(r.FormValue("points_cost"))
	}

	res := h.Ledger.AddRedemption(r.Context(), req.GiftName, string(req.PointsCost))
	setResultHeaders(w, res)
	if res.Err != nil {
		h.fail(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Value)
}

// =============================================================================
// OPERATIONS ENDPOINTS
// =============================================================================

// GetBackend probes the chain with a balance read and reports which
// backend answered.
func (h *Handler) GetBackend(w http.ResponseWriter, r *http.Request) {
	res := h.Ledger.Balance(r.Context())
	setResultHeaders(w, res)

	resp := BackendResponse{
		Backend:  res.Backend,
		Status:   res.Status.String(),
		Degraded: res.Degraded(),
		Chain:    h.Ledger.Backends(),
	}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func setResultHeaders[T any](w http.ResponseWriter, res ledger.Result[T]) {
	if res.Backend != "" {
		w.Header().Set(headerBackend, res.Backend)
	}
	w.Header().Set(headerDegraded, strconv.FormatBool(res.Degraded()))
}

// statusFor maps an error to an HTTP status and a short message.
func statusFor(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, ledger.ErrMalformedInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient points"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "record not found"
	case errors.As(err, &tooBig), errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "request too large"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid request body"
	case errors.Is(err, ledger.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "storage unavailable"
	case errors.Is(err, errUploadFailed):
		return http.StatusInternalServerError, "image upload failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail logs server-side failures and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(msg,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, msg, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
