// Package entity implements the generic entity repository on top of a
// storage.Backend: sequential codes, append-only revisions, soft deletion,
// audit stamps and cache invalidation broadcasts.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/storage"
)

const (
	defaultMaxRetries = 5
	defaultPageSize   = 10
	maxPageSize       = 100
)

// Publisher is the part of the event bus the repository needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// SeedRecord is one row inserted into an empty collection at startup.
type SeedRecord struct {
	Code string
	Data models.Document
}

// Config describes one collection. Each repository owns its own copy.
type Config struct {
	Collection string
	// Revisions turns on archiving of the previous version on every update.
	Revisions bool
	// CodeLength is the width of generated codes; 0 means the collection has no codes.
	CodeLength int
	// SystemAccount is the actor recorded when no principal is attached to the context.
	SystemAccount string
	// NaturalKey derives the per-collection unique business key from the data.
	NaturalKey func(models.Document) string
	// Seed supplies rows inserted when the collection is empty at startup.
	Seed func(ctx context.Context) ([]SeedRecord, error)
	// MaxRetries bounds code allocation and compare-and-swap retries.
	MaxRetries int
}

// Page is one page of List results.
type Page struct {
	Rows       []*models.Record
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

type Repository struct {
	cfg    Config
	store  storage.Backend
	bus    Publisher
	logger logging.Logger
	now    func() time.Time
}

type Option func(*Repository)

// WithClock replaces time.Now for stamping records.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(store storage.Backend, bus Publisher, l logging.Logger, cfg Config, opts ...Option) *Repository {
	if cfg.SystemAccount == "" {
		cfg.SystemAccount = common.DefaultSystemAccountCode
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	r := &Repository{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: l.With("module", "entity", "collection", cfg.Collection),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repository) Collection() string { return r.cfg.Collection }

func (r *Repository) CodeLength() int { return r.cfg.CodeLength }

// Create stores a new entity at revision 1 stamped with the current actor.
func (r *Repository) Create(ctx context.Context, code string, data models.Document) (*models.Record, error) {
	rec := &models.Record{
		Code:       code,
		NaturalKey: r.naturalKey(data),
		Revision:   1,
		Data:       data.Clone(),
		CreatedAt:  r.now(),
		CreatedBy:  r.actor(ctx),
	}
	if rec.Data == nil {
		rec.Data = models.Document{}
	}
	if err := r.store.Insert(ctx, r.cfg.Collection, rec); err != nil {
		return nil, fmt.Errorf("%s create: %w", r.cfg.Collection, err)
	}
	r.changed(ctx)
	return rec, nil
}

// CreateWithNextCode allocates the next free code and creates the entity,
// retrying when a concurrent writer took the same code.
func (r *Repository) CreateWithNextCode(ctx context.Context, data models.Document) (*models.Record, error) {
	if r.cfg.CodeLength <= 0 {
		return nil, fmt.Errorf("%s: collection has no codes", r.cfg.Collection)
	}

	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		code, err := r.GetNextFreeCode(ctx, r.cfg.CodeLength)
		if err != nil {
			return nil, err
		}
		rec, err := r.Create(ctx, code, data)
		if errors.Is(err, common.ErrDuplicateCode) {
			r.logger.Debug(ctx, "code taken concurrently, retrying", "code", code, "attempt", attempt+1)
			continue
		}
		return rec, err
	}
	return nil, fmt.Errorf("%s: no free code after %d attempts: %w", r.cfg.Collection, r.cfg.MaxRetries, common.ErrDuplicateCode)
}

// GetNextFreeCode returns the code following the greatest one ever used in
// the collection, soft-deleted entities included.
func (r *Repository) GetNextFreeCode(ctx context.Context, length int) (string, error) {
	last, err := r.store.LastCode(ctx, r.cfg.Collection)
	if err != nil {
		return "", fmt.Errorf("%s last code: %w", r.cfg.Collection, err)
	}
	code, err := NextCode(last, length)
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.cfg.Collection, err)
	}
	return code, nil
}

// Update merges data into the entity. With revisions on, the previous
// version is archived and the entity moves to the next revision.
func (r *Repository) Update(ctx context.Context, id string, data models.Document) (*models.Record, error) {
	return r.update(ctx, id, data, nil)
}

// SoftDelete marks the entity deleted through the regular update path.
func (r *Repository) SoftDelete(ctx context.Context, id string) (*models.Record, error) {
	deleted := true
	return r.update(ctx, id, nil, &deleted)
}

// UpdateWithoutRevision merges data in place with no archiving and no stamps.
func (r *Repository) UpdateWithoutRevision(ctx context.Context, id string, data models.Document) (*models.Record, error) {
	return r.UpdateWithoutRevisionIf(ctx, id, nil, data)
}

// UpdateWithoutRevisionIf is UpdateWithoutRevision guarded by expect: the
// merge happens only while the stored data still contains it, otherwise
// the entity is reported as not found.
func (r *Repository) UpdateWithoutRevisionIf(ctx context.Context, id string, expect, data models.Document) (*models.Record, error) {
	if id == "" {
		return nil, r.missingID()
	}
	p := storage.Patch{Data: data, Expect: expect}
	if err := r.patchNaturalKey(ctx, id, data, &p); err != nil {
		return nil, err
	}
	rec, err := r.store.Merge(ctx, r.cfg.Collection, id, p)
	if err != nil {
		return nil, r.wrapLookup(err, storage.Filter{ID: id, IncludeDeleted: true}, "update")
	}
	r.changed(ctx)
	return rec, nil
}

func (r *Repository) update(ctx context.Context, id string, data models.Document, deleted *bool) (*models.Record, error) {
	if id == "" {
		return nil, r.missingID()
	}
	if !r.cfg.Revisions {
		return r.updateInPlace(ctx, id, data, deleted)
	}

	byID := storage.Filter{ID: id, IncludeDeleted: true}
	for attempt := 1; ; attempt++ {
		cur, err := r.store.FindOne(ctx, r.cfg.Collection, byID)
		if errors.Is(err, common.ErrorNotFound) {
			r.logger.Warn(ctx, "revision archive skipped, entity not found", "id", id)
			return nil, r.notFound(byID)
		}
		if err != nil {
			return nil, fmt.Errorf("%s update: %w", r.cfg.Collection, err)
		}

		now, by := r.now(), r.actor(ctx)

		next := cur.Clone()
		next.Data = cur.Data.Merge(data)
		next.NaturalKey = r.naturalKey(next.Data)
		next.Revision = cur.Revision + 1
		next.CreatedAt = now
		next.CreatedBy = by
		next.ModifiedAt = nil
		next.ModifiedBy = nil
		if deleted != nil {
			next.IsDeleted = *deleted
		}

		err = r.store.Replace(ctx, r.cfg.Collection, next, cur.Revision, cur.Snapshot(now, by))
		switch {
		case err == nil:
			r.changed(ctx)
			return next, nil
		case errors.Is(err, common.ErrVersionConflict) && attempt < r.cfg.MaxRetries:
			r.logger.Debug(ctx, "concurrent update, retrying", "id", id, "attempt", attempt)
			continue
		case errors.Is(err, common.ErrorNotFound):
			r.logger.Warn(ctx, "revision archive skipped, entity not found", "id", id)
			return nil, r.notFound(byID)
		default:
			return nil, fmt.Errorf("%s update: %w", r.cfg.Collection, err)
		}
	}
}

func (r *Repository) updateInPlace(ctx context.Context, id string, data models.Document, deleted *bool) (*models.Record, error) {
	now, by := r.now(), r.actor(ctx)
	p := storage.Patch{Data: data, IsDeleted: deleted, ModifiedAt: &now, ModifiedBy: &by}
	if err := r.patchNaturalKey(ctx, id, data, &p); err != nil {
		return nil, err
	}

	rec, err := r.store.Merge(ctx, r.cfg.Collection, id, p)
	if err != nil {
		return nil, r.wrapLookup(err, storage.Filter{ID: id, IncludeDeleted: true}, "update")
	}
	r.changed(ctx)
	return rec, nil
}

// patchNaturalKey recomputes the natural key when the collection has one.
func (r *Repository) patchNaturalKey(ctx context.Context, id string, data models.Document, p *storage.Patch) error {
	if r.cfg.NaturalKey == nil || len(data) == 0 {
		return nil
	}
	if id == "" {
		return r.missingID()
	}
	byID := storage.Filter{ID: id, IncludeDeleted: true}
	cur, err := r.store.FindOne(ctx, r.cfg.Collection, byID)
	if err != nil {
		return r.wrapLookup(err, byID, "update")
	}
	key := r.naturalKey(cur.Data.Merge(data))
	p.NaturalKey = &key
	return nil
}

// FindOne returns the first non-deleted entity whose data contains query.
func (r *Repository) FindOne(ctx context.Context, query models.Document) (*models.Record, error) {
	return r.findOne(ctx, storage.Filter{Data: query})
}

// FindOneByCode returns the non-deleted entity with code.
func (r *Repository) FindOneByCode(ctx context.Context, code string) (*models.Record, error) {
	if code == "" {
		return nil, r.missingCode()
	}
	return r.findOne(ctx, storage.Filter{Code: code})
}

// FindByID returns the non-deleted entity with id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Record, error) {
	if id == "" {
		return nil, r.missingID()
	}
	return r.findOne(ctx, storage.Filter{ID: id})
}

func (r *Repository) findOne(ctx context.Context, f storage.Filter) (*models.Record, error) {
	f.IncludeDeleted = false
	rec, err := r.store.FindOne(ctx, r.cfg.Collection, f)
	if err != nil {
		return nil, r.wrapLookup(err, f, "find")
	}
	return rec, nil
}

// FindAll returns every non-deleted entity whose data contains query, ordered by code.
func (r *Repository) FindAll(ctx context.Context, query models.Document) ([]*models.Record, error) {
	recs, err := r.store.Find(ctx, r.cfg.Collection, storage.Filter{Data: query})
	if err != nil {
		return nil, fmt.Errorf("%s find: %w", r.cfg.Collection, err)
	}
	return recs, nil
}

// ListQuery selects and orders a page of entities.
type ListQuery struct {
	Query    models.Document
	Page     int
	PageSize int
	// Sort is a space or comma separated list of fields; a leading "-" sorts descending.
	Sort string
	// Search matches case-insensitively as a substring of any SearchFields value.
	Search       string
	SearchFields []string
}

// List pages through the non-deleted entities matching query, ordered by code.
func (r *Repository) List(ctx context.Context, query models.Document, page, pageSize int) (*Page, error) {
	return r.Query(ctx, ListQuery{Query: query, Page: page, PageSize: pageSize})
}

// Query is List with search and sort.
func (r *Repository) Query(ctx context.Context, q ListQuery) (*Page, error) {
	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	all, err := r.store.Find(ctx, r.cfg.Collection, storage.Filter{Data: q.Query})
	if err != nil {
		return nil, fmt.Errorf("%s list: %w", r.cfg.Collection, err)
	}
	all = search(all, q.Search, q.SearchFields)
	sortRecords(all, q.Sort)

	res := &Page{
		Total:      len(all),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (len(all) + pageSize - 1) / pageSize,
	}
	from := (page - 1) * pageSize
	if from < len(all) {
		to := min(from+pageSize, len(all))
		res.Rows = all[from:to]
	}
	return res, nil
}

// Revisions returns the archived versions of the entity with code,
// soft-deleted entities included.
func (r *Repository) Revisions(ctx context.Context, code string) ([]*models.Revision, error) {
	if code == "" {
		return nil, r.missingCode()
	}
	return r.revisionsOf(ctx, storage.Filter{Code: code, IncludeDeleted: true})
}

// RevisionsByID returns the archived versions of the entity with id.
func (r *Repository) RevisionsByID(ctx context.Context, id string) ([]*models.Revision, error) {
	if id == "" {
		return nil, r.missingID()
	}
	return r.revisionsOf(ctx, storage.Filter{ID: id, IncludeDeleted: true})
}

func (r *Repository) revisionsOf(ctx context.Context, f storage.Filter) ([]*models.Revision, error) {
	cur, err := r.store.FindOne(ctx, r.cfg.Collection, f)
	if err != nil {
		return nil, r.wrapLookup(err, f, "revisions")
	}
	revs, err := r.store.Revisions(ctx, r.cfg.Collection, cur.ID)
	if err != nil {
		return nil, fmt.Errorf("%s revisions: %w", r.cfg.Collection, err)
	}
	return revs, nil
}

// Seed inserts the configured seed rows when the collection is empty.
func (r *Repository) Seed(ctx context.Context) error {
	if r.cfg.Seed == nil {
		return nil
	}

	n, err := r.store.Count(ctx, r.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%s seed count: %w", r.cfg.Collection, err)
	}
	if n > 0 {
		return nil
	}

	rows, err := r.cfg.Seed(ctx)
	if err != nil {
		return fmt.Errorf("%s seed: %w", r.cfg.Collection, err)
	}
	for _, row := range rows {
		rec := &models.Record{
			Code:       row.Code,
			NaturalKey: r.naturalKey(row.Data),
			Revision:   1,
			Data:       row.Data.Clone(),
			CreatedAt:  r.now(),
			CreatedBy:  r.cfg.SystemAccount,
		}
		if err := r.store.Insert(ctx, r.cfg.Collection, rec); err != nil {
			return fmt.Errorf("%s seed insert: %w", r.cfg.Collection, err)
		}
	}
	r.logger.Info(ctx, "collection seeded", "rows", len(rows))
	return nil
}

func (r *Repository) actor(ctx context.Context) string {
	if p, ok := models.PrincipalFrom(ctx); ok && p.Employee != "" {
		return p.Employee
	}
	return r.cfg.SystemAccount
}

func (r *Repository) naturalKey(d models.Document) string {
	if r.cfg.NaturalKey == nil {
		return ""
	}
	return r.cfg.NaturalKey(d)
}

func (r *Repository) changed(ctx context.Context) {
	if r.bus != nil {
		r.bus.Publish(ctx, events.CacheClean(r.cfg.Collection), nil)
	}
}

func (r *Repository) notFound(f storage.Filter) error {
	return &common.NotFoundError{Collection: r.cfg.Collection, Query: f.String()}
}

// An empty id or code never selects an entity.
func (r *Repository) missingID() error {
	return &common.NotFoundError{Collection: r.cfg.Collection, Query: `{"_id":""}`}
}

func (r *Repository) missingCode() error {
	return &common.NotFoundError{Collection: r.cfg.Collection, Query: `{"code":""}`}
}

func (r *Repository) wrapLookup(err error, f storage.Filter, op string) error {
	if errors.Is(err, common.ErrorNotFound) {
		return r.notFound(f)
	}
	return fmt.Errorf("%s %s: %w", r.cfg.Collection, op, err)
}
