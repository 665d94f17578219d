package file

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hearth/points-ledger/ledger"
	"github.com/tidwall/gjson"
)

// Aliases accepted on load, current name first.
var (
	entriesKeys     = []string{"entries", "pointsHistory", "points_history", "history"}
	redemptionsKeys = []string{"redemptions", "redemption_history"}
	totalKeys       = []string{"total_points", "totalPoints"}

	idKeys          = []string{"id", "_id"}
	typeKeys        = []string{"type"}
	descriptionKeys = []string{"description", "desc"}
	pointsKeys      = []string{"points_change", "pointsChange", "points"}
	imageKeys       = []string{"image_url", "imageUrl"}
	createdKeys     = []string{"created_at", "createdAt"}
	giftKeys        = []string{"gift_name", "giftName", "name"}
	costKeys        = []string{"points_cost", "pointsCost", "cost"}
)

var errInvalidJSON = errors.New("invalid JSON document")

// decodeDocument parses the current layout and the legacy ones.
func decodeDocument(data []byte) (*document, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &document{Entries: []ledger.Entry{}, Redemptions: []ledger.Redemption{}}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errInvalidJSON
	}

	doc := &document{
		Entries:     []ledger.Entry{},
		Redemptions: []ledger.Redemption{},
		TotalPoints: first(root, totalKeys...).Int(),
	}
	first(root, entriesKeys...).ForEach(func(_, v gjson.Result) bool {
		doc.Entries = append(doc.Entries, decodeEntry(v))
		return true
	})
	first(root, redemptionsKeys...).ForEach(func(_, v gjson.Result) bool {
		doc.Redemptions = append(doc.Redemptions, decodeRedemption(v))
		return true
	})
	return doc, nil
}

func decodeEntry(v gjson.Result) ledger.Entry {
	id := decodeID(v)
	e := ledger.Entry{
		ID:           id,
		Type:         first(v, typeKeys...).String(),
		Description:  first(v, descriptionKeys...).String(),
		PointsChange: decodePoints(first(v, pointsKeys...)),
		CreatedAt:    decodeTime(first(v, createdKeys...), id),
	}
	if e.Type == "" {
		e.Type = ledger.DefaultEntryType
	}
	if img := first(v, imageKeys...); img.Type == gjson.String && img.Str != "" {
		url := img.Str
		e.ImageURL = &url
	}
	return e
}

func decodeRedemption(v gjson.Result) ledger.Redemption {
	id := decodeID(v)
	return ledger.Redemption{
		ID:         id,
		GiftName:   first(v, giftKeys...).String(),
		PointsCost: decodePoints(first(v, costKeys...)),
		CreatedAt:  decodeTime(first(v, createdKeys...), id),
	}
}

// decodeID accepts strings, integers and Mongo extended JSON object ids.
func decodeID(v gjson.Result) ledger.RecordID {
	id := first(v, idKeys...)
	if id.IsObject() {
		id = id.Get(gjson.Escape("$oid"))
	}
	return ledger.RecordID(id.String())
}

// decodePoints accepts numbers and numeric strings. Anything else counts
// as zero so one bad legacy row cannot make the whole file unreadable.
func decodePoints(v gjson.Result) int64 {
	switch v.Type {
	case gjson.Number:
		return v.Int()
	case gjson.String:
		n, err := ledger.ParsePoints("points", v.Str)
		if err == nil {
			return n
		}
	}
	return 0
}

// decodeTime accepts RFC 3339 strings and epoch milliseconds. Rows without
// a timestamp fall back to a millisecond id.
func decodeTime(v gjson.Result, id ledger.RecordID) time.Time {
	switch v.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	}
	if ms, err := strconv.ParseInt(string(id), 10, 64); err == nil && ms > 0 && ms < 1e14 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// first returns the first key of obj that is present.
func first(obj gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := obj.Get(gjson.Escape(k)); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}
