package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pixelvide/ownmailer/pkg/email"
)

type entry struct {
	seq int64
	// mu serializes writers of this email only
	mu        sync.Mutex
	committed atomic.Pointer[email.Email]
}

// MemoryStore keeps emails in process memory. Readers never block on
// writers; writers of different emails never block each other.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	byExternal map[string]string
	order      []*entry // ascending seq
	seq        int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*entry),
		byExternal: make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, e *email.Email) (*email.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return nil, email.NewConflictError("email "+e.ID+" already exists", nil)
	}
	if e.ExternalID != "" {
		if _, exists := s.byExternal[e.ExternalID]; exists {
			return nil, email.NewConflictError("external id "+e.ExternalID+" already belongs to an email", nil)
		}
		s.byExternal[e.ExternalID] = e.ID
	}

	s.seq++
	en := &entry{seq: s.seq}
	en.committed.Store(e.Clone())
	s.entries[e.ID] = en
	s.order = append(s.order, en)
	return e.Clone(), nil
}

func (s *MemoryStore) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	en, ok := s.entries[id]
	return en, ok
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*email.Email, error) {
	en, ok := s.lookup(id)
	if !ok {
		return nil, notFound(id)
	}
	return en.committed.Load().Clone(), nil
}

func (s *MemoryStore) GetByExternalID(ctx context.Context, externalID string) (*email.Email, error) {
	s.mu.RLock()
	id, ok := s.byExternal[externalID]
	s.mu.RUnlock()
	if !ok {
		return nil, email.NewNotFoundError("no email with external id "+externalID, nil)
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) AppendLog(ctx context.Context, id string, fn Mutation) (*email.Email, error) {
	en, ok := s.lookup(id)
	if !ok {
		return nil, notFound(id)
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, email.NewStoreError("append to email "+id, err)
	}

	current := en.committed.Load()
	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}

	if next.ExternalID != current.ExternalID {
		if err := s.indexExternal(next); err != nil {
			return nil, err
		}
	}

	en.committed.Store(next)
	return next.Clone(), nil
}

func (s *MemoryStore) indexExternal(e *email.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, exists := s.byExternal[e.ExternalID]; exists && owner != e.ID {
		return email.NewConflictError("external id "+e.ExternalID+" already belongs to an email", nil)
	}
	s.byExternal[e.ExternalID] = e.ID
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) (Page, error) {
	limit := limitOf(f)

	s.mu.RLock()
	order := s.order
	s.mu.RUnlock()

	page := Page{Data: make([]*email.Email, 0, limit)}
	var last int64
	for i := len(order) - 1; i >= 0; i-- {
		en := order[i]
		if f.Cursor > 0 && en.seq >= f.Cursor {
			continue
		}
		e := en.committed.Load()
		if f.Status != "" && e.Status() != f.Status {
			continue
		}
		if !e.Matches(f.Search) {
			continue
		}
		if len(page.Data) == limit {
			page.HasMore = true
			page.NextCursor = last
			break
		}
		page.Data = append(page.Data, e.Clone())
		last = en.seq
	}
	return page, nil
}
