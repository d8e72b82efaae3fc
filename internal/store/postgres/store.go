// Package postgres provides a PostgreSQL UploadStore for multi-node
// deployments where sessions must be visible across server processes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    upload_id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL DEFAULT '',
    mime_type TEXT NOT NULL DEFAULT '',
    metadata JSONB,
    file_size BIGINT NOT NULL,
    chunk_size BIGINT NOT NULL,
    total_chunks INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS upload_chunks (
    upload_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (upload_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_expires_at ON upload_sessions(expires_at);
`

// Store is a PostgreSQL-backed UploadStore.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	config.MaxConns = 25
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO upload_sessions (
			upload_id, file_name, mime_type, metadata, file_size, chunk_size,
			total_chunks, status, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
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
	session, err := s.scanSession(s.pool.QueryRow(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions WHERE upload_id = $1`, uploadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
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

	_, err = s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = $1, mime_type = $2, metadata = $3, updated_at = $4
		WHERE upload_id = $5`,
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
	_, err = s.pool.Exec(ctx, `
		INSERT INTO upload_chunks (upload_id, chunk_index, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (upload_id, chunk_index) DO NOTHING`, uploadID, index, now)
	if err != nil {
		return fmt.Errorf("failed to mark chunk received: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE upload_sessions SET updated_at = $1 WHERE upload_id = $2`, now, uploadID)
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

	rows, err := s.pool.Query(ctx, `
		SELECT chunk_index FROM upload_chunks
		WHERE upload_id = $1 ORDER BY chunk_index ASC`, uploadID)
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
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM upload_chunks WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("failed to delete chunk index: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return nil
}

// ListExpiredSessions returns non-completed sessions whose expiry has passed.
func (s *Store) ListExpiredSessions(ctx context.Context) ([]*models.UploadSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND status != $2`,
		s.now().UTC(), string(models.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()
	return s.collectSessions(rows)
}

// ListAllSessions returns every stored session.
func (s *Store) ListAllSessions(ctx context.Context) ([]*models.UploadSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT upload_id, file_name, mime_type, metadata, file_size, chunk_size,
		       total_chunks, status, created_at, updated_at, expires_at
		FROM upload_sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	return s.collectSessions(rows)
}

func (s *Store) scanSession(row pgx.Row) (*models.UploadSession, error) {
	var (
		session   models.UploadSession
		meta      []byte
		status    string
		expiresAt *time.Time
	)
	err := row.Scan(&session.UploadID, &session.FileName, &session.MimeType, &meta,
		&session.FileSize, &session.ChunkSize, &session.TotalChunks, &status,
		&session.CreatedAt, &session.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	session.Status = models.UploadStatus(status)
	session.ExpiresAt = expiresAt
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func (s *Store) collectSessions(rows pgx.Rows) ([]*models.UploadSession, error) {
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

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session metadata: %w", err)
	}
	return b, nil
}
