package request

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/pixelvide/ownmailer/pkg/email"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListQuery is a list request as received. Nil fields take their defaults.
type ListQuery struct {
	Limit  *int    `json:"limit,omitempty"`
	Cursor *int64  `json:"cursor,omitempty"`
	Search string  `json:"search,omitempty"`
	Status *string `json:"status,omitempty"`
}

// Query is a validated list request.
type Query struct {
	Limit  int
	Cursor int64
	Search string
	Status email.Status
}

// Normalize validates q. A limit outside 1..100 is rejected, never clamped.
func (q ListQuery) Normalize() (Query, error) {
	out := Query{Limit: DefaultLimit, Search: q.Search}
	if q.Limit != nil {
		if *q.Limit < 1 || *q.Limit > MaxLimit {
			return Query{}, email.NewValidationError(fmt.Sprintf("limit must be between 1 and %d, got %d", MaxLimit, *q.Limit), nil)
		}
		out.Limit = *q.Limit
	}
	if q.Cursor != nil {
		if *q.Cursor < 0 {
			return Query{}, email.NewValidationError("cursor must not be negative", nil)
		}
		out.Cursor = *q.Cursor
	}
	if q.Status != nil {
		status, err := email.ParseStatus(*q.Status)
		if err != nil {
			return Query{}, err
		}
		out.Status = status
	}
	return out, nil
}

// ParseListQuery reads a ListQuery from URL query parameters.
func ParseListQuery(values url.Values) (Query, error) {
	var q ListQuery
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return Query{}, email.NewValidationError("limit must be an integer", err)
		}
		q.Limit = &limit
	}
	if v := values.Get("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Query{}, email.NewValidationError("cursor must be an integer", err)
		}
		q.Cursor = &cursor
	}
	q.Search = values.Get("search")
	if values.Has("status") {
		status := values.Get("status")
		q.Status = &status
	}
	return q.Normalize()
}
