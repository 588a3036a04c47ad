// Package storage defines the document-store boundary used by the entity
// repository. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/orgware/owconnect/internal/server/models"
)

// Backend is a collection-oriented document store.
//
// Codes are unique per collection (deleted rows included) and so are
// non-empty natural keys; violations surface as common.ErrDuplicateCode and
// common.ErrAlreadyExists. Lookups that match nothing return common.ErrorNotFound.
type Backend interface {
	// Insert stores rec and assigns rec.ID.
	Insert(ctx context.Context, collection string, rec *models.Record) error
	FindOne(ctx context.Context, collection string, f Filter) (*models.Record, error)
	// Find returns matches ordered by code, then creation time.
	Find(ctx context.Context, collection string, f Filter) ([]*models.Record, error)
	// LastCode returns the greatest code in the collection, "" when there is none.
	LastCode(ctx context.Context, collection string) (string, error)
	Count(ctx context.Context, collection string) (int, error)
	// Replace writes rec only if the stored revision still equals
	// expectedRevision, appending archive to the revision store in the same
	// atomic step. A stale revision yields common.ErrVersionConflict.
	Replace(ctx context.Context, collection string, rec *models.Record, expectedRevision int, archive *models.Revision) error
	// Merge applies p in place and returns the updated record.
	Merge(ctx context.Context, collection, id string, p Patch) (*models.Record, error)
	// Revisions lists the archives whose EntityRef is entityRef, ordered by revision.
	Revisions(ctx context.Context, collection, entityRef string) ([]*models.Revision, error)
	Close() error
}

// Filter selects records. Zero fields do not constrain the match.
type Filter struct {
	ID             string
	Code           string
	Data           models.Document
	IncludeDeleted bool
	Offset         int
	Limit          int
}

func (f Filter) String() string {
	q := models.Document{}
	for k, v := range f.Data {
		q[k] = v
	}
	if f.ID != "" {
		q["_id"] = f.ID
	}
	if f.Code != "" {
		q["code"] = f.Code
	}
	if !f.IncludeDeleted {
		q["isDeleted"] = false
	}
	return q.Key()
}

// Patch is an in-place update. Data keys overwrite stored keys; nil pointer
// fields are left untouched.
type Patch struct {
	Data       models.Document
	Expect     models.Document // applied only while the stored data contains Expect
	NaturalKey *string
	IsDeleted  *bool
	ModifiedAt *time.Time
	ModifiedBy *string
}

// RevisionsCollection names the revision store paired with collection.
func RevisionsCollection(collection string) string {
	return fmt.Sprintf("%sRevisions", collection)
}
