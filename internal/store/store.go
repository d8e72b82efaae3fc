// Package store defines session and chunk-index persistence for uploads.
// Implementations must make chunk marking and listing atomic with respect to
// a single upload id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/torrin-io/torrin/internal/models"
)

// ErrSessionNotFound is returned by UpdateSession, MarkChunkReceived and
// ListReceivedChunks when the session does not exist or has expired.
var ErrSessionNotFound = errors.New("upload session not found")

// SessionInit carries the caller-supplied fields of a new session.
type SessionInit struct {
	UploadID string
	FileName string
	MimeType string
	Metadata map[string]string
	FileSize int64
}

// UploadStore persists upload sessions and their received-chunk index.
type UploadStore interface {
	// CreateSession persists a new session in status pending. A zero ttl
	// creates a session without expiry.
	CreateSession(ctx context.Context, init SessionInit, chunkSize int64, ttl time.Duration) (*models.UploadSession, error)

	// GetSession returns the session, or nil when unknown or expired.
	GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// UpdateSession applies a patch and refreshes UpdatedAt.
	UpdateSession(ctx context.Context, uploadID string, patch models.SessionPatch) (*models.UploadSession, error)

	// MarkChunkReceived records a chunk index. Re-marking a known index is a
	// no-op. UpdatedAt is refreshed either way.
	MarkChunkReceived(ctx context.Context, uploadID string, index int) error

	// ListReceivedChunks returns the received indices in ascending order.
	ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error)

	// DeleteSession removes the session and its chunk index.
	DeleteSession(ctx context.Context, uploadID string) error
}

// ExpiredLister is the optional capability behind TTL cleanup sweeps.
// Completed sessions are not returned.
type ExpiredLister interface {
	ListExpiredSessions(ctx context.Context) ([]*models.UploadSession, error)
}

// AllLister is the optional capability behind stale-session sweeps.
type AllLister interface {
	ListAllSessions(ctx context.Context) ([]*models.UploadSession, error)
}
