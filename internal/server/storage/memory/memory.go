// Package memory is the in-process storage.Backend used for tests and
// single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/storage"
)

type collection struct {
	records   map[string]*models.Record // by id
	codes     map[string]string         // code -> id
	keys      map[string]string         // natural key -> id
	revisions map[string][]*models.Revision // by entity ref
}

func newCollection() *collection {
	return &collection{
		records:   make(map[string]*models.Record),
		codes:     make(map[string]string),
		keys:      make(map[string]string),
		revisions: make(map[string][]*models.Revision),
	}
}

// Store keeps every collection in maps guarded by one RWMutex. Records are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	newID       func() string
}

var _ storage.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		newID:       uuid.NewString,
	}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	return c
}

func (s *Store) Insert(ctx context.Context, name string, rec *models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	if rec.Code != "" {
		if _, taken := c.codes[rec.Code]; taken {
			return common.ErrDuplicateCode
		}
	}
	if rec.NaturalKey != "" {
		if _, taken := c.keys[rec.NaturalKey]; taken {
			return common.ErrAlreadyExists
		}
	}

	rec.ID = s.newID()
	stored := rec.Clone()
	c.records[rec.ID] = stored
	if rec.Code != "" {
		c.codes[rec.Code] = rec.ID
	}
	if rec.NaturalKey != "" {
		c.keys[rec.NaturalKey] = rec.ID
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, name string, f storage.Filter) (*models.Record, error) {
	f.Limit = 1
	found, err := s.Find(ctx, name, f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, common.ErrorNotFound
	}
	return found[0], nil
}

func (s *Store) Find(ctx context.Context, name string, f storage.Filter) ([]*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}

	var out []*models.Record
	for _, r := range c.records {
		if matches(r, f) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(r *models.Record, f storage.Filter) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.Code != "" && r.Code != f.Code {
		return false
	}
	if !f.IncludeDeleted && r.IsDeleted {
		return false
	}
	return r.Data.Matches(f.Data)
}

func (s *Store) LastCode(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var last string
	if c, ok := s.collections[name]; ok {
		for code := range c.codes {
			if code > last {
				last = code
			}
		}
	}
	return last, nil
}

func (s *Store) Count(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.collections[name]; ok {
		return len(c.records), nil
	}
	return 0, nil
}

func (s *Store) Replace(ctx context.Context, name string, rec *models.Record, expectedRevision int, archive *models.Revision) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	cur, ok := c.records[rec.ID]
	if !ok {
		return common.ErrorNotFound
	}
	if cur.Revision != expectedRevision {
		return common.ErrVersionConflict
	}
	if err := c.reindex(cur, rec.Code, rec.NaturalKey); err != nil {
		return err
	}

	if archive != nil {
		a := *archive
		a.Data = archive.Data.Clone()
		c.revisions[a.EntityRef] = append(c.revisions[a.EntityRef], &a)
	}
	c.records[rec.ID] = rec.Clone()
	return nil
}

func (s *Store) Merge(ctx context.Context, name, id string, p storage.Patch) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(name)
	cur, ok := c.records[id]
	if !ok || !cur.Data.Matches(p.Expect) {
		return nil, common.ErrorNotFound
	}

	next := cur.Clone()
	next.Data = cur.Data.Merge(p.Data)
	if p.NaturalKey != nil {
		next.NaturalKey = *p.NaturalKey
	}
	if p.IsDeleted != nil {
		next.IsDeleted = *p.IsDeleted
	}
	if p.ModifiedAt != nil {
		t := *p.ModifiedAt
		next.ModifiedAt = &t
	}
	if p.ModifiedBy != nil {
		by := *p.ModifiedBy
		next.ModifiedBy = &by
	}
	if err := c.reindex(cur, next.Code, next.NaturalKey); err != nil {
		return nil, err
	}

	c.records[id] = next
	return next.Clone(), nil
}

// reindex moves the unique indexes of cur to code and key. Caller holds the lock.
func (c *collection) reindex(cur *models.Record, code, key string) error {
	if code != cur.Code && code != "" {
		if _, taken := c.codes[code]; taken {
			return common.ErrDuplicateCode
		}
	}
	if key != cur.NaturalKey && key != "" {
		if _, taken := c.keys[key]; taken {
			return common.ErrAlreadyExists
		}
	}
	if code != cur.Code {
		delete(c.codes, cur.Code)
		if code != "" {
			c.codes[code] = cur.ID
		}
	}
	if key != cur.NaturalKey {
		delete(c.keys, cur.NaturalKey)
		if key != "" {
			c.keys[key] = cur.ID
		}
	}
	return nil
}

func (s *Store) Revisions(ctx context.Context, name, entityRef string) ([]*models.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	src := c.revisions[entityRef]
	out := make([]*models.Revision, 0, len(src))
	for _, r := range src {
		cp := *r
		cp.Data = r.Data.Clone()
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func (s *Store) Close() error { return nil }
