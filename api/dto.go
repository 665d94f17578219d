/*
dto.go - Request and response bodies for the points API

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response wrappers that are not ledger types

Entries, redemptions and history items are returned as the ledger types
themselves; their JSON tags are the wire contract.

POINT VALUES:
  Clients send points_change and points_cost either as JSON numbers or as
  strings (HTML forms post strings). pointsValue accepts both and keeps
  the text, so "10.5" reaches ledger.ParsePoints and is rejected there
  instead of being truncated by the decoder.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Entry, Redemption, HistoryItem
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hearth/points-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AddPointsRequest is the JSON body for POST /api/points. It has no image
// field: image_url is only ever set from a multipart upload.
type AddPointsRequest struct {
	Type         string      `json:"type"`
	Description  string      `json:"description"`
	PointsChange pointsValue `json:"points_change"`
}

// AddRedemptionRequest is the JSON body for POST /api/redemptions.
type AddRedemptionRequest struct {
	GiftName   string      `json:"gift_name"`
	PointsCost pointsValue `json:"points_cost"`
}

// pointsValue is the raw text of a number-or-string JSON value.
type pointsValue string

func (p *pointsValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = pointsValue(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("points must be a number or a string: %w", err)
		}
		*p = pointsValue(n)
	}
	return nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TotalPointsResponse is returned by GET /api/total-points.
type TotalPointsResponse struct {
	TotalPoints int64 `json:"total_points"`
}

// DeleteResponse is returned by DELETE /api/history/{id}. TotalPoints is
// omitted when the balance could not be read after the delete.
type DeleteResponse struct {
	Success     bool              `json:"success"`
	Status      string            `json:"status"`
	ID          ledger.RecordID   `json:"id"`
	Kind        ledger.Collection `json:"kind"`
	TotalPoints *int64            `json:"total_points,omitempty"`
}

// BackendResponse is returned by GET /api/backend.
type BackendResponse struct {
	Backend  string   `json:"backend"`
	Status   string   `json:"status"`
	Degraded bool     `json:"degraded"`
	Chain    []string `json:"chain"`
	Error    string   `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
