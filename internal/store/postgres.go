package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document key has never been written.
var ErrNotFound = errors.New("document not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetDocument(ctx context.Context, key string) (Document, error) {
	const query = `
		SELECT key, value, updated_at, COALESCE(updated_by_client_id, '')
		FROM documents
		WHERE key = $1
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, key).Scan(&doc.Key, &doc.Value, &doc.UpdatedAt, &doc.UpdatedByClientID)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", key, err)
	}
	return doc, nil
}

// PutDocument replaces the whole row. The database assigns updated_at so all
// pull cursors observe a single clock.
func (s *PostgresStore) PutDocument(ctx context.Context, key string, value json.RawMessage, clientID string) (Document, error) {
	if !json.Valid(value) {
		return Document{}, fmt.Errorf("put document %s: value is not valid JSON", key)
	}
	const query = `
		INSERT INTO documents (key, value, updated_at, updated_by_client_id)
		VALUES ($1, $2, NOW(), NULLIF($3, ''))
		ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value,
				updated_at = NOW(),
				updated_by_client_id = EXCLUDED.updated_by_client_id
		RETURNING key, value, updated_at, COALESCE(updated_by_client_id, '')
	`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, key, []byte(value), clientID).Scan(&doc.Key, &doc.Value, &doc.UpdatedAt, &doc.UpdatedByClientID)
	if err != nil {
		return Document{}, fmt.Errorf("put document %s: %w", key, err)
	}
	return doc, nil
}

// ListDocumentsSince returns documents updated strictly after since, oldest
// first, capped at limit. Callers paginate by advancing since.
func (s *PostgresStore) ListDocumentsSince(ctx context.Context, since time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `
		SELECT key, value, updated_at, COALESCE(updated_by_client_id, '')
		FROM documents
		WHERE updated_at > $1
		ORDER BY updated_at ASC, key ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents since %s: %w", since, err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Key, &doc.Value, &doc.UpdatedAt, &doc.UpdatedByClientID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

// ListKeysOlderThan returns keys in a namespace whose last write predates
// cutoff. Used by the archive janitor to find prune candidates.
func (s *PostgresStore) ListKeysOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	const query = `
		SELECT key FROM documents
		WHERE key LIKE $1 || '%' AND updated_at < $2
		ORDER BY updated_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, prefix, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list keys older than %s: %w", cutoff, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteDocument removes a row. Only the archive janitor calls this, and only
// after the value has been copied to object storage.
func (s *PostgresStore) DeleteDocument(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete document %s: %w", key, err)
	}
	return nil
}
