// Package sqlite provides a durable UploadStore backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    upload_id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '',
    file_size INTEGER NOT NULL,
    chunk_size INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS upload_chunks (
    upload_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    received_at DATETIME NOT NULL,
    PRIMARY KEY (upload_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON upload_sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON upload_sessions(updated_at);
`

// Store is a SQLite-backed UploadStore. Unlike the in-memory reference
// store, sessions survive process restart.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; serialize access through a single connection
	// so concurrent chunk marks do not race on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, init store.SessionInit, chunkSize int64, ttl time.Duration) (*models.UploadSession, error) {
	now := s.now().UTC()
	session := &models.UploadSession{
		UploadID:    init.UploadID,
		FileName:    init.FileName,
		MimeType:    init.MimeType,
		Metadata:    init.Metadata,
		FileSize:    init.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: utils.TotalChunks(init.FileSize, chunkSize),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		session.ExpiresAt = &exp
	}

	meta, err := encodeMetadata(init.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (
			upload_id, file_name, mime_type, metadata, file_size, chunk_size,
			total_chunks, status, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UploadID, session.FileName, session.MimeType, meta,
		session.FileSize, session.ChunkSize, session.TotalChunks,
		string(session.Status), session.CreatedAt, session.UpdatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, err := s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions WHERE upload_id = ?`, uploadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	// Expired sessions are reported as absent; the cleanup sweep removes them.
	if session.ExpiresAt != nil && !session.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, uploadID string, patch models.SessionPatch) (*models.UploadSession, error) {
	current, err := s.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, store.ErrSessionNotFound
	}

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.MimeType != nil {
		current.MimeType = *patch.MimeType
	}
	if patch.Metadata != nil {
		if current.Metadata == nil {
			current.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			current.Metadata[k] = v
		}
	}
	current.UpdatedAt = s.now().UTC()

	meta, err := encodeMetadata(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE upload_sessions
		SET status = ?, mime_type = ?, metadata = ?, updated_at = ?
		WHERE upload_id = ?`,
		string(current.Status), current.MimeType, meta, current.UpdatedAt, uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update upload session: %w", err)
	}
	return current, nil
}

func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	session, err := s.GetSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if session == nil {
		return store.ErrSessionNotFound
	}

	now := s.now().UTC()
	// INSERT OR IGNORE makes re-marking a known index a no-op.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO upload_chunks (upload_id, chunk_index, received_at)
		VALUES (?, ?, ?)`, uploadID, index, now)
	if err != nil {
		return fmt.Errorf("failed to mark chunk received: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE upload_sessions SET updated_at = ? WHERE upload_id = ?`, now, uploadID)
	if err != nil {
		return fmt.Errorf("failed to refresh session activity: %w", err)
	}
	return nil
}

func (s *Store) ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	session, err := s.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, store.ErrSessionNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index FROM upload_chunks
		WHERE upload_id = ? ORDER BY chunk_index ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list received chunks: %w", err)
	}
	defer rows.Close()

	indices := []int{}
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, fmt.Errorf("failed to scan chunk index: %w", err)
		}
		indices = append(indices, i)
	}
	return indices, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, uploadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_chunks WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete chunk index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return nil
}

// ListExpiredSessions returns non-completed sessions whose expiry has passed.
func (s *Store) ListExpiredSessions(ctx context.Context) ([]*models.UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions
		WHERE expires_at IS NOT NULL AND expires_at < ? AND status != ?`,
		s.now().UTC(), string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()
	return s.collectSessions(rows)
}

// ListAllSessions returns every stored session.
func (s *Store) ListAllSessions(ctx context.Context) ([]*models.UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return s.collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*models.UploadSession, error) {
	var (
		session   models.UploadSession
		meta      string
		status    string
		expiresAt sql.NullTime
	)
	err := row.Scan(&session.UploadID, &session.FileName, &session.MimeType, &meta,
		&session.FileSize, &session.ChunkSize, &session.TotalChunks, &status,
		&session.CreatedAt, &session.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	session.Status = models.UploadStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		session.ExpiresAt = &t
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func (s *Store) collectSessions(rows *sql.Rows) ([]*models.UploadSession, error) {
	var sessions []*models.UploadSession
	for rows.Next() {
		session, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode session metadata: %w", err)
	}
	return string(b), nil
}
