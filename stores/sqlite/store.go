package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT,
		content TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL DEFAULT 1,
		collaborators TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	versionTableStmt := `
	CREATE TABLE IF NOT EXISTS document_versions (
		doc_id TEXT NOT NULL,
		revision INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME,
		PRIMARY KEY (doc_id, revision)
	);`
	if _, err = db.Exec(versionTableStmt); err != nil {
		log.Fatalf("failed to create document_versions table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	doc := core.Document{ID: id}
	var collaborators string

	err := s.db.QueryRowContext(ctx,
		"SELECT owner_id, title, content, revision, collaborators, created_at, updated_at FROM documents WHERE id = ?", id).
		Scan(&doc.OwnerID, &doc.Title, &doc.Content, &doc.Revision, &collaborators, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	if err := json.Unmarshal([]byte(collaborators), &doc.Collaborators); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *sqliteStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := document.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now()

	collaborators, err := json.Marshal(document.Collaborators)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO documents (id, owner_id, title, content, revision, collaborators, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?, ?)",
		id, document.OwnerID, document.Title, document.Content, string(collaborators), now, now)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO document_versions (doc_id, revision, content, created_at) VALUES (?, 1, ?, ?)",
		id, document.Content, now)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	logrus.WithField("document_id", id).Info("Document created")
	return id, nil
}

func (s *sqliteStore) UpdateContent(ctx context.Context, id, content string) (*core.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var revision int
	err = tx.QueryRowContext(ctx, "SELECT revision FROM documents WHERE id = ?", id).Scan(&revision)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	revision++
	now := time.Now()

	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET content = ?, revision = ?, updated_at = ? WHERE id = ?",
		content, revision, now, id)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO document_versions (doc_id, revision, content, created_at) VALUES (?, ?, ?, ?)",
		id, revision, content, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindID(ctx, id)
}

func (s *sqliteStore) SetCollaborators(ctx context.Context, id string, collaborators []core.Collaborator) (*core.Document, error) {
	data, err := json.Marshal(collaborators)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET collaborators = ?, updated_at = ? WHERE id = ?",
		string(data), time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, core.ErrNotFound
	}
	return s.FindID(ctx, id)
}

func (s *sqliteStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	return s.list(ctx, "SELECT id, owner_id, title, content, revision, collaborators, created_at, updated_at FROM documents WHERE owner_id = ?", ownerID)
}

func (s *sqliteStore) ListByCollaborator(ctx context.Context, userID string) ([]*core.Document, error) {
	// Collaborators are stored as a JSON array; filter in process to keep the
	// schema portable across sqlite builds without the JSON1 extension.
	docs, err := s.list(ctx, "SELECT id, owner_id, title, content, revision, collaborators, created_at, updated_at FROM documents")
	if err != nil {
		return nil, err
	}

	result := []*core.Document{}
	for _, doc := range docs {
		if doc.CollaboratorLevel(userID) != core.PermissionNone {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		var doc core.Document
		var collaborators string
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content, &doc.Revision, &collaborators, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(collaborators), &doc.Collaborators); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Versions(ctx context.Context, id string) ([]*core.DocVersion, error) {
	if _, err := s.FindID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_id, revision, content, created_at FROM document_versions WHERE doc_id = ? ORDER BY revision ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []*core.DocVersion{}
	for rows.Next() {
		var v core.DocVersion
		if err := rows.Scan(&v.DocID, &v.Revision, &v.Content, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

var _ core.DocumentStore = (*sqliteStore)(nil)
