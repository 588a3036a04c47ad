package services

import (
	"context"
	"fmt"

	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/events"
	"github.com/orgware/owconnect/internal/server/models"
)

// Definition declares one entity collection and how it is exposed.
type Definition struct {
	// Collection is the storage collection and the list field name ("companies").
	Collection string
	// Singular is the read field name ("company").
	Singular string
	// Type names the create/update/delete fields ("Company" -> createCompany).
	Type string
	// Tag prefixes the publication tags ("COMPANY" -> COMPANY_CREATED).
	Tag string

	CodeLength   int
	Revisions    bool
	Input        func() any
	NaturalKey   func(models.Document) string
	SearchFields []string
	Seed         []entity.SeedRecord
}

func (d Definition) CreatedTag() string { return d.Tag + "_CREATED" }
func (d Definition) UpdatedTag() string { return d.Tag + "_UPDATED" }

// RepositoryConfig derives the repository configuration of the collection.
func (d Definition) RepositoryConfig(systemAccount string) entity.Config {
	cfg := entity.Config{
		Collection:    d.Collection,
		Revisions:     d.Revisions,
		CodeLength:    d.CodeLength,
		SystemAccount: systemAccount,
		NaturalKey:    d.NaturalKey,
	}
	if len(d.Seed) > 0 {
		rows := d.Seed
		cfg.Seed = func(context.Context) ([]entity.SeedRecord, error) { return rows, nil }
	}
	return cfg
}

// bookkeeping fields are owned by the repository and never taken from input.
var bookkeeping = []string{"_id", "code", "revision", "createdAt", "createdBy", "modifiedAt", "modifiedBy", "isDeleted"}

func sanitize(args models.Document) models.Document {
	out := args.Clone()
	if out == nil {
		out = models.Document{}
	}
	for _, k := range bookkeeping {
		delete(out, k)
	}
	return out
}

// EntityService is the generic CRUD surface of one collection: input
// validation, code allocation and publication of change tags.
type EntityService struct {
	def    Definition
	repo   *entity.Repository
	bus    entity.Publisher
	logger logging.Logger
}

func NewEntityService(def Definition, repo *entity.Repository, bus entity.Publisher, l logging.Logger) *EntityService {
	return &EntityService{
		def:    def,
		repo:   repo,
		bus:    bus,
		logger: l.With("module", "services", "collection", def.Collection),
	}
}

func (s *EntityService) Definition() Definition { return s.def }

func (s *EntityService) Repository() *entity.Repository { return s.repo }

func (s *EntityService) publish(ctx context.Context, tag, code string) {
	if s.bus != nil {
		s.bus.Publish(ctx, events.GraphQLPublish, events.Publication{Tag: tag, Code: code})
	}
}

func (s *EntityService) Create(ctx context.Context, args models.Document) (*models.Record, error) {
	data := sanitize(args)
	if err := validateDocument(s.def.Input, data); err != nil {
		return nil, err
	}

	var (
		rec *models.Record
		err error
	)
	if s.def.CodeLength > 0 {
		rec, err = s.repo.CreateWithNextCode(ctx, data)
	} else {
		rec, err = s.repo.Create(ctx, "", data)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.def.CreatedTag(), rec.Code)
	return rec, nil
}

// Update merges args into the entity with id. The merged result must pass validation.
func (s *EntityService) Update(ctx context.Context, id string, args models.Document) (*models.Record, error) {
	data := sanitize(args)

	cur, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(s.def.Input, cur.Data.Merge(data)); err != nil {
		return nil, err
	}

	rec, err := s.repo.Update(ctx, id, data)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.def.UpdatedTag(), rec.Code)
	return rec, nil
}

func (s *EntityService) Delete(ctx context.Context, id string) (*models.Record, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	rec, err := s.repo.SoftDelete(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.def.UpdatedTag(), rec.Code)
	return rec, nil
}

func (s *EntityService) Read(ctx context.Context, code string) (*models.Record, error) {
	return s.repo.FindOneByCode(ctx, code)
}

func (s *EntityService) FindOne(ctx context.Context, query models.Document) (*models.Record, error) {
	return s.repo.FindOne(ctx, query)
}

func (s *EntityService) FindAll(ctx context.Context, query models.Document) ([]*models.Record, error) {
	return s.repo.FindAll(ctx, query)
}

func (s *EntityService) List(ctx context.Context, q entity.ListQuery) (*entity.Page, error) {
	if q.Search != "" && len(q.SearchFields) == 0 {
		q.SearchFields = s.def.SearchFields
	}
	return s.repo.Query(ctx, q)
}

func (s *EntityService) Revisions(ctx context.Context, code string) ([]*models.Revision, error) {
	return s.repo.Revisions(ctx, code)
}

// RevisionsByID serves collections without codes.
func (s *EntityService) RevisionsByID(ctx context.Context, id string) ([]*models.Revision, error) {
	return s.repo.RevisionsByID(ctx, id)
}

// Seed populates the collection when it is empty.
func (s *EntityService) Seed(ctx context.Context) error {
	if err := s.repo.Seed(ctx); err != nil {
		return fmt.Errorf("seed %s: %w", s.def.Collection, err)
	}
	return nil
}
