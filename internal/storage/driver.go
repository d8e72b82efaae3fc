// Package storage abstracts byte persistence for chunked uploads. Drivers
// stage chunks as they arrive and materialize the final artifact on
// finalize; the upload service never touches bytes directly.
package storage

import (
	"context"
	"io"

	"github.com/torrin-io/torrin/internal/models"
)

// Driver is the byte-persistence capability set behind the upload service.
// Implementations must tolerate concurrent WriteChunk calls for distinct
// indices of the same session, and overwrite on a repeated index
// (last writer wins).
type Driver interface {
	// InitUpload prepares per-session state (a staging directory, a
	// multipart upload, ...). Called once, before any chunk arrives.
	InitUpload(ctx context.Context, session *models.UploadSession) error

	// WriteChunk persists one chunk from r. expectedSize is the exact byte
	// length the chunk must have; hash is an optional client-supplied
	// hex SHA-256 of the chunk, which drivers may verify or ignore.
	WriteChunk(ctx context.Context, session *models.UploadSession, index int, r io.Reader, expectedSize int64, hash string) error

	// FinalizeUpload assembles the received chunks into the final artifact
	// and releases staging state. Not idempotent; callers must not retry.
	FinalizeUpload(ctx context.Context, session *models.UploadSession) (models.StorageLocation, error)

	// AbortUpload discards staging state. Absent state is a no-op.
	AbortUpload(ctx context.Context, session *models.UploadSession) error
}
