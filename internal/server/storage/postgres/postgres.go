// Package postgres implements storage.Backend on PostgreSQL. All collections
// share the documents table; archived revisions go to the revisions table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/dbx"
	"github.com/orgware/owconnect/internal/server/migrations"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/storage"
	"github.com/pressly/goose/v3"
)

const (
	codeIndex       = "documents_code_uq"
	naturalKeyIndex = "documents_natural_key_uq"

	recordColumns = `id, code, natural_key, revision, data, created_at, created_by, modified_at, modified_by, is_deleted`
)

// Store is a storage.Backend over *sql.DB using the pgx driver.
type Store struct {
	db *sql.DB
}

var _ storage.Backend = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	s := New(db)
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrations error: %w", err)
	}
	return s, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, ".")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, collection string, rec *models.Record) error {
	data, err := marshalData(rec.Data)
	if err != nil {
		return err
	}

	query :=
		`INSERT INTO documents (collection, code, natural_key, revision, data, created_at, created_by, modified_at, modified_by, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id
		 `

	err = s.db.QueryRowContext(ctx, query,
		collection, rec.Code, rec.NaturalKey, rec.Revision, data, rec.CreatedAt, rec.CreatedBy,
		nullTime(rec.ModifiedAt), nullString(rec.ModifiedBy), rec.IsDeleted).Scan(&rec.ID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) FindOne(ctx context.Context, collection string, f storage.Filter) (*models.Record, error) {
	f.Limit = 1
	found, err := s.Find(ctx, collection, f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, common.ErrorNotFound
	}
	return found[0], nil
}

func (s *Store) Find(ctx context.Context, collection string, f storage.Filter) ([]*models.Record, error) {
	if f.ID != "" {
		if _, err := uuid.Parse(f.ID); err != nil {
			return nil, nil
		}
	}

	where, args, err := buildWhere(collection, f)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM documents WHERE " + where + " ORDER BY code, created_at, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func buildWhere(collection string, f storage.Filter) (string, []any, error) {
	conds := []string{"collection = $1"}
	args := []any{collection}

	if f.ID != "" {
		args = append(args, f.ID)
		conds = append(conds, fmt.Sprintf("id = $%d", len(args)))
	}
	if f.Code != "" {
		args = append(args, f.Code)
		conds = append(conds, fmt.Sprintf("code = $%d", len(args)))
	}
	if !f.IncludeDeleted {
		conds = append(conds, "is_deleted = FALSE")
	}
	if len(f.Data) > 0 {
		data, err := marshalData(f.Data)
		if err != nil {
			return "", nil, err
		}
		args = append(args, data)
		conds = append(conds, fmt.Sprintf("data @> $%d::jsonb", len(args)))
	}
	return strings.Join(conds, " AND "), args, nil
}

func (s *Store) LastCode(ctx context.Context, collection string) (string, error) {
	query :=
		`SELECT code FROM documents
		 WHERE collection = $1 AND code <> ''
		 ORDER BY code DESC
		 LIMIT 1
		 `

	var code string
	err := s.db.QueryRowContext(ctx, query, collection).Scan(&code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return code, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = $1`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (s *Store) Replace(ctx context.Context, collection string, rec *models.Record, expectedRevision int, archive *models.Revision) error {
	data, err := marshalData(rec.Data)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query :=
			`UPDATE documents SET
			 code = $3, natural_key = $4, revision = $5, data = $6, created_at = $7, created_by = $8,
			 modified_at = $9, modified_by = $10, is_deleted = $11
			 WHERE collection = $1 AND id = $2 AND revision = $12
			 `
		res, err := tx.ExecContext(ctx, query,
			collection, rec.ID, rec.Code, rec.NaturalKey, rec.Revision, data, rec.CreatedAt, rec.CreatedBy,
			nullTime(rec.ModifiedAt), nullString(rec.ModifiedBy), rec.IsDeleted, expectedRevision)
		if err != nil {
			return mapError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		switch n {
		case 1:
		case 0:
			return staleOrMissing(ctx, tx, collection, rec.ID)
		default:
			return fmt.Errorf("unexpected rows affected: %d", n)
		}

		if archive == nil {
			return nil
		}
		return insertRevision(ctx, tx, storage.RevisionsCollection(collection), archive)
	})
}

func staleOrMissing(ctx context.Context, tx dbx.DBTX, collection, id string) error {
	var rev int
	err := tx.QueryRowContext(ctx, `SELECT revision FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return common.ErrVersionConflict
}

func insertRevision(ctx context.Context, tx dbx.DBTX, collection string, r *models.Revision) error {
	data, err := marshalData(r.Data)
	if err != nil {
		return err
	}
	query :=
		`INSERT INTO revisions (collection, entity_ref, code, natural_key, revision, data, created_at, created_by, modified_at, modified_by, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 `
	_, err = tx.ExecContext(ctx, query,
		collection, r.EntityRef, r.Code, r.NaturalKey, r.Revision, data, r.CreatedAt, r.CreatedBy,
		nullTime(r.ModifiedAt), nullString(r.ModifiedBy), r.IsDeleted)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, p storage.Patch) (*models.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	data, err := marshalData(p.Data)
	if err != nil {
		return nil, err
	}
	expect, err := marshalData(p.Expect)
	if err != nil {
		return nil, err
	}

	query :=
		`UPDATE documents SET
		 data = data || $3::jsonb,
		 natural_key = COALESCE($4, natural_key),
		 is_deleted = COALESCE($5, is_deleted),
		 modified_at = COALESCE($6, modified_at),
		 modified_by = COALESCE($7, modified_by)
		 WHERE collection = $1 AND id = $2 AND data @> $8::jsonb
		 RETURNING ` + recordColumns

	var deleted sql.NullBool
	if p.IsDeleted != nil {
		deleted = sql.NullBool{Bool: *p.IsDeleted, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, query, collection, id, data,
		nullString(p.NaturalKey), deleted, nullTime(p.ModifiedAt), nullString(p.ModifiedBy), expect)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, mapError(err)
	}
	return r, nil
}

func (s *Store) Revisions(ctx context.Context, collection, entityRef string) ([]*models.Revision, error) {
	query :=
		`SELECT entity_ref, code, natural_key, revision, data, created_at, created_by, modified_at, modified_by, is_deleted
		 FROM revisions
		 WHERE collection = $1 AND entity_ref = $2
		 ORDER BY revision, seq
		 `
	rows, err := s.db.QueryContext(ctx, query, storage.RevisionsCollection(collection), entityRef)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Revision
	for rows.Next() {
		var (
			r          models.Revision
			data       []byte
			modifiedAt sql.NullTime
			modifiedBy sql.NullString
		)
		if err := rows.Scan(&r.EntityRef, &r.Code, &r.NaturalKey, &r.Revision, &data, &r.CreatedAt, &r.CreatedBy,
			&modifiedAt, &modifiedBy, &r.IsDeleted); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if r.Data, err = unmarshalData(data); err != nil {
			return nil, err
		}
		r.ModifiedAt, r.ModifiedBy = fromNullTime(modifiedAt), fromNullString(modifiedBy)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		r          models.Record
		data       []byte
		modifiedAt sql.NullTime
		modifiedBy sql.NullString
	)
	err := row.Scan(&r.ID, &r.Code, &r.NaturalKey, &r.Revision, &data, &r.CreatedAt, &r.CreatedBy,
		&modifiedAt, &modifiedBy, &r.IsDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if r.Data, err = unmarshalData(data); err != nil {
		return nil, err
	}
	r.ModifiedAt, r.ModifiedBy = fromNullTime(modifiedAt), fromNullString(modifiedBy)
	return &r, nil
}

func mapError(err error) error {
	if constraint, ok := dbx.UniqueViolation(err); ok {
		if constraint == codeIndex {
			return common.ErrDuplicateCode
		}
		return common.ErrAlreadyExists
	}
	return fmt.Errorf("db error: %w", err)
}

func marshalData(d models.Document) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode data: %w", err)
	}
	return string(b), nil
}

func unmarshalData(b []byte) (models.Document, error) {
	d := models.Document{}
	if len(b) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
