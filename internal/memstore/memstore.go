// Package memstore is an in-memory stream.Store for tests and local development.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xpadev-net/memorial-livestream/internal/ids"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Store keeps streams, memorials and audit entries in maps. Reads return
// copies so callers never alias stored records.
type Store struct {
	mu        sync.RWMutex
	streams   map[string]*stream.Stream
	memorials map[string]*stream.Memorial
	audit     map[string][]*stream.AuditEntry
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		streams:   make(map[string]*stream.Stream),
		memorials: make(map[string]*stream.Memorial),
		audit:     make(map[string][]*stream.AuditEntry),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get implements stream.Store.
func (s *Store) Get(_ context.Context, id string) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
	}
	return st.Clone(), nil
}

// Create implements stream.Store.
func (s *Store) Create(_ context.Context, st *stream.Stream) (string, error) {
	if st.MemorialID == "" {
		return "", fmt.Errorf("memorial id is required: %w", stream.ErrInvalid)
	}
	if !st.Provider.Valid() {
		return "", fmt.Errorf("provider %q: %w", st.Provider, stream.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := st.Clone()
	if c.ID == "" {
		c.ID = ids.NewStreamID()
	}
	if _, exists := s.streams[c.ID]; exists {
		return "", fmt.Errorf("stream %s already exists: %w", c.ID, stream.ErrConflict)
	}
	if c.Status == "" {
		c.Status = stream.StatusScheduled
	}
	if c.Visibility == "" {
		c.Visibility = stream.VisibilityPublic
	}
	now := s.now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.streams[c.ID] = c
	return c.ID, nil
}

// Update implements stream.Store.
func (s *Store) Update(_ context.Context, id string, patch stream.Patch) (*stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
	}
	if patch.Empty() {
		return st.Clone(), nil
	}
	patch.Apply(st)
	st.UpdatedAt = s.now().UTC()
	return st.Clone(), nil
}

// Delete implements stream.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[id]; !ok {
		return fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
	}
	delete(s.streams, id)
	return nil
}

// ListByMemorial implements stream.Store.
func (s *Store) ListByMemorial(_ context.Context, memorialID string, filter stream.ListFilter) ([]*stream.Stream, int, error) {
	filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*stream.Stream
	for _, st := range s.streams {
		if st.MemorialID != memorialID {
			continue
		}
		if filter.Status != nil && st.Status != *filter.Status {
			continue
		}
		if filter.Visibility != nil && st.Visibility != *filter.Visibility {
			continue
		}
		matched = append(matched, st)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*stream.Stream{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	out := make([]*stream.Stream, 0, end-filter.Offset)
	for _, st := range matched[filter.Offset:end] {
		out = append(out, st.Clone())
	}
	return out, total, nil
}

// FindByProviderInputID implements stream.Store. The most recently
// created stream wins if an input was ever reused.
func (s *Store) FindByProviderInputID(_ context.Context, p stream.Provider, inputID string) (*stream.Stream, error) {
	if inputID == "" {
		return nil, stream.ErrNotFound
	}
	return s.findLatest(func(st *stream.Stream) bool {
		return st.Provider == p && st.ProviderInputID == inputID
	}, "input "+inputID)
}

// FindByProviderAssetID implements stream.Store.
func (s *Store) FindByProviderAssetID(_ context.Context, p stream.Provider, assetID string) (*stream.Stream, error) {
	if assetID == "" {
		return nil, stream.ErrNotFound
	}
	return s.findLatest(func(st *stream.Stream) bool {
		return st.Provider == p && st.ProviderAssetID == assetID
	}, "asset "+assetID)
}

func (s *Store) findLatest(match func(*stream.Stream) bool, what string) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *stream.Stream
	for _, st := range s.streams {
		if !match(st) {
			continue
		}
		if found == nil || st.CreatedAt.After(found.CreatedAt) {
			found = st
		}
	}
	if found == nil {
		return nil, fmt.Errorf("stream for %s: %w", what, stream.ErrNotFound)
	}
	return found.Clone(), nil
}

// ListReconcilable implements stream.Store.
func (s *Store) ListReconcilable(_ context.Context, limit int) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*stream.Stream
	for _, st := range s.streams {
		if isReconcilable(st) {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isReconcilable(st *stream.Stream) bool {
	switch st.Status {
	case stream.StatusArmed, stream.StatusLive:
		return st.ProviderInputID != ""
	case stream.StatusCompleted:
		return st.AwaitingRecording() && st.ProviderInputID != ""
	}
	return false
}

// GetMemorial implements stream.Store.
func (s *Store) GetMemorial(_ context.Context, id string) (*stream.Memorial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memorials[id]
	if !ok {
		return nil, fmt.Errorf("memorial %s: %w", id, stream.ErrNotFound)
	}
	c := *m
	return &c, nil
}

// UpsertMemorial implements stream.Store.
func (s *Store) UpsertMemorial(_ context.Context, m *stream.Memorial) error {
	if m.ID == "" {
		return fmt.Errorf("memorial id is required: %w", stream.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	if existing, ok := s.memorials[m.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.memorials[m.ID] = &c
	return nil
}

// AppendAudit implements stream.Store.
func (s *Store) AppendAudit(_ context.Context, e *stream.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	if c.ID == "" {
		c.ID = ids.NewAuditID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.audit[c.StreamID] = append(s.audit[c.StreamID], &c)
	return nil
}

// ListAudit implements stream.Store, newest first.
func (s *Store) ListAudit(_ context.Context, streamID string, limit int) ([]*stream.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[streamID]
	out := make([]*stream.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		c := *entries[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ stream.Store = (*Store)(nil)
