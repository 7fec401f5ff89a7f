// Package pgstore stores CSV documents in PostgreSQL.
//
// Documents are rows of csv_documents keyed by UUID; the UUID string is the
// document handle. Every export inserts a new row, so exports never
// overwrite each other.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgreSQL SQLSTATE codes we translate.
const (
	codeInsufficientPrivilege = "42501"
	codeUndefinedTable        = "42P01"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS csv_documents (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	size       BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS csv_documents_created_at_idx ON csv_documents (created_at DESC);
`

// Store implements core.Store on PostgreSQL.
type Store struct {
	db      DBTX
	maxSize int64
}

var _ core.Store = (*Store)(nil)

// New creates a Store. maxSize (<= 0 for none) caps readable documents.
func New(db DBTX, maxSize int64) *Store {
	return &Store{db: db, maxSize: maxSize}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", translate(err))
	}
	return nil
}

// parseHandle converts a handle to a UUID.
func parseHandle(handle string) (pgtype.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(handle))
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("%w: %q is not a document id", core.ErrInvalidHandle, handle)
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}

// Read implements core.FileReader.
func (s *Store) Read(ctx context.Context, handle string) (string, error) {
	id, err := parseHandle(handle)
	if err != nil {
		return "", err
	}

	var content string
	var size int64
	err = s.db.QueryRow(ctx,
		`SELECT content, size FROM csv_documents WHERE id = $1`, id,
	).Scan(&content, &size)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("document %s: %w", handle, fs.ErrNotExist)
	}
	if err != nil {
		return "", translate(err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", core.ErrFileTooLarge, size, s.maxSize)
	}

	return core.ReadText(strings.NewReader(content), s.maxSize)
}

// Write implements core.FileWriter. The handle is the new row's UUID.
func (s *Store) Write(ctx context.Context, text, suggestedName string) (string, error) {
	name := strings.TrimSpace(suggestedName)
	if name == "" {
		name = core.DefaultExportName
	}

	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO csv_documents (id, name, content, size) VALUES ($1, $2, $3, $4)`,
		pgtype.UUID{Bytes: id, Valid: true}, name, text, int64(len(text)),
	)
	if err != nil {
		return "", translate(err)
	}
	return id.String(), nil
}

// List implements core.DocumentLister, newest first.
func (s *Store) List(ctx context.Context) ([]core.DocumentInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, size, created_at FROM csv_documents ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var docs []core.DocumentInfo
	for rows.Next() {
		var (
			id      pgtype.UUID
			name    string
			size    int64
			created time.Time
		)
		if err := rows.Scan(&id, &name, &size, &created); err != nil {
			return nil, err
		}
		docs = append(docs, core.DocumentInfo{
			Handle:  uuid.UUID(id.Bytes).String(),
			Name:    name,
			Size:    size,
			ModTime: created,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return docs, nil
}

// translate maps PostgreSQL errors onto core error kinds.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeInsufficientPrivilege:
		return fmt.Errorf("%w: %w", core.ErrPermissionDenied, err)
	case codeUndefinedTable:
		return fmt.Errorf("documents table missing (run with STORAGE_INIT_SCHEMA=true): %w", err)
	}
	return err
}
