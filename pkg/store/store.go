// Package store persists emails and their lifecycle logs.
//
// Every implementation serializes mutations per email and lets reads proceed
// against the last committed state. Lists are newest first and paginated with
// a keyset cursor over a store-assigned sequence, so entries created while a
// caller is paging never shift or repeat the entries it has already seen.
package store

import (
	"context"
	"errors"

	"github.com/pixelvide/ownmailer/pkg/email"
)

// ErrNoChange may be returned by a Mutation to leave the email untouched.
// AppendLog then returns the current email and a nil error.
var ErrNoChange = errors.New("no change")

// Mutation modifies an email inside AppendLog. Returning an error discards
// every change it made.
type Mutation func(e *email.Email) error

// Filter selects a page of emails.
type Filter struct {
	Status email.Status
	Search string
	Cursor int64
	Limit  int
}

// Page is one slice of a listing. NextCursor is zero when there is nothing
// more to read.
type Page struct {
	Data       []*email.Email `json:"data"`
	NextCursor int64          `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// Store is the backing store of the lifecycle core.
type Store interface {
	// Create persists a new email. An id or external id that is already
	// taken is a conflict.
	Create(ctx context.Context, e *email.Email) (*email.Email, error)
	Get(ctx context.Context, id string) (*email.Email, error)
	GetByExternalID(ctx context.Context, externalID string) (*email.Email, error)
	// AppendLog loads the email, runs fn on it and persists the result as
	// one atomic step. Concurrent calls for the same id run one at a time.
	AppendLog(ctx context.Context, id string, fn Mutation) (*email.Email, error)
	List(ctx context.Context, f Filter) (Page, error)
	// Migrate creates whatever schema the store needs.
	Migrate(ctx context.Context) error
}

func notFound(id string) error {
	return email.NewNotFoundError("email "+id+" not found", nil)
}

func limitOf(f Filter) int {
	if f.Limit <= 0 {
		return 10
	}
	return f.Limit
}
