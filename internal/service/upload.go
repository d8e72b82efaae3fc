// Package service implements the upload coordination engine. The service
// validates inputs, sequences store and driver calls, enforces the session
// state machine and surfaces typed errors; it holds the store and driver
// behind their interfaces and never by concrete type.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/torrin-io/torrin/internal/metrics"
	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/storage"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/uploaderr"
	"github.com/torrin-io/torrin/internal/utils"
)

// Options configure the service.
type Options struct {
	// DefaultChunkSize is used when init requests no chunk size. Zero
	// selects utils.DefaultChunkSize.
	DefaultChunkSize int64
	// SessionTTL bounds session lifetime. Zero creates sessions without
	// expiry.
	SessionTTL time.Duration
}

// UploadService coordinates upload sessions over a store and a driver.
type UploadService struct {
	store  store.UploadStore
	driver storage.Driver
	opts   Options
}

// New creates an UploadService.
func New(st store.UploadStore, driver storage.Driver, opts Options) *UploadService {
	if opts.DefaultChunkSize <= 0 {
		opts.DefaultChunkSize = utils.DefaultChunkSize
	}
	return &UploadService{store: st, driver: driver, opts: opts}
}

// InitInput carries the caller-supplied fields for InitUpload.
type InitInput struct {
	FileName         string
	FileSize         int64
	MimeType         string
	Metadata         map[string]string
	DesiredChunkSize int64
}

// multipartIDProvider is implemented by drivers that expose a native
// multipart upload id (the S3 driver). The id is mirrored into session
// metadata for operator reconciliation.
type multipartIDProvider interface {
	MultipartID(uploadID string) string
}

// InitUpload validates the input, creates the session record and prepares
// driver state. Both must succeed for the session to exist.
func (s *UploadService) InitUpload(ctx context.Context, input InitInput) (*models.UploadSession, error) {
	if input.FileSize <= 0 {
		return nil, uploaderr.Invalid(fmt.Sprintf("fileSize must be positive, got %d", input.FileSize))
	}

	desired := input.DesiredChunkSize
	if desired <= 0 {
		desired = s.opts.DefaultChunkSize
	}
	chunkSize := utils.ClampChunkSize(desired, input.FileSize)

	session, err := s.store.CreateSession(ctx, store.SessionInit{
		UploadID: utils.GenerateUploadID(),
		FileName: input.FileName,
		MimeType: input.MimeType,
		Metadata: input.Metadata,
		FileSize: input.FileSize,
	}, chunkSize, s.opts.SessionTTL)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.CodeInternalError, "failed to create session", err)
	}

	if err := s.driver.InitUpload(ctx, session); err != nil {
		// Session without driver state is unusable; drop it.
		if delErr := s.store.DeleteSession(ctx, session.UploadID); delErr != nil {
			slog.Error("failed to delete session after driver init failure",
				"upload_id", session.UploadID, "error", delErr)
		}
		return nil, uploaderr.AsError(err)
	}

	if p, ok := s.driver.(multipartIDProvider); ok {
		if id := p.MultipartID(session.UploadID); id != "" {
			if patched, err := s.store.UpdateSession(ctx, session.UploadID, models.SessionPatch{
				Metadata: map[string]string{"s3.multipartId": id},
			}); err == nil {
				session = patched
			}
		}
	}

	metrics.UploadsInitiatedTotal.Inc()
	slog.Info("upload initialized",
		"upload_id", session.UploadID,
		"file_name", session.FileName,
		"file_size", session.FileSize,
		"chunk_size", session.ChunkSize,
		"total_chunks", session.TotalChunks,
	)
	return session, nil
}

// ChunkInput carries one incoming chunk.
type ChunkInput struct {
	UploadID string
	Index    int
	Size     int64
	Hash     string
	Body     io.Reader
}

// HandleChunk validates and persists one chunk. Writing the same index
// twice is idempotent; the storage layer has last-writer-wins semantics.
func (s *UploadService) HandleChunk(ctx context.Context, in ChunkInput) error {
	session, err := s.getSession(ctx, in.UploadID)
	if err != nil {
		return err
	}
	if err := rejectTerminal(session); err != nil {
		return err
	}

	if in.Index < 0 || in.Index >= session.TotalChunks {
		return uploaderr.OutOfRange(in.Index, session.TotalChunks)
	}

	expected := utils.ExpectedChunkSize(in.Index, session.TotalChunks, session.FileSize, session.ChunkSize)
	if in.Size != expected {
		return uploaderr.SizeMismatch(expected, in.Size)
	}

	if err := s.driver.WriteChunk(ctx, session, in.Index, in.Body, expected, in.Hash); err != nil {
		return uploaderr.AsError(err)
	}

	if err := s.store.MarkChunkReceived(ctx, in.UploadID, in.Index); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return uploaderr.NotFound(in.UploadID)
		}
		return uploaderr.Wrap(uploaderr.CodeInternalError, "failed to record chunk", err)
	}

	if session.Status == models.StatusPending {
		status := models.StatusInProgress
		if _, err := s.store.UpdateSession(ctx, in.UploadID, models.SessionPatch{Status: &status}); err != nil {
			slog.Error("failed to advance session to in_progress",
				"upload_id", in.UploadID, "error", err)
		}
	}

	metrics.ChunksReceivedTotal.Inc()
	metrics.ChunkBytesTotal.Add(float64(expected))
	metrics.ChunkSizeBytes.Observe(float64(expected))

	slog.Debug("chunk received",
		"upload_id", in.UploadID,
		"chunk_index", in.Index,
		"size", expected,
	)
	return nil
}

// GetStatus returns the full status view of a session.
func (s *UploadService) GetStatus(ctx context.Context, uploadID string) (*models.UploadStatusInfo, error) {
	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	received, err := s.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, uploaderr.NotFound(uploadID)
		}
		return nil, uploaderr.Wrap(uploaderr.CodeInternalError, "failed to list chunks", err)
	}

	return &models.UploadStatusInfo{
		UploadID:       session.UploadID,
		Status:         session.Status,
		FileName:       session.FileName,
		FileSize:       session.FileSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ReceivedChunks: received,
		MissingChunks:  utils.MissingChunks(received, session.TotalChunks),
	}, nil
}

// CompleteUpload finalizes a fully-received session. Finalize and the
// status patch are not transactional: when the driver succeeds and the
// patch fails, the artifact exists while the session stays in_progress.
// The location is still returned; finalize is never retried.
func (s *UploadService) CompleteUpload(ctx context.Context, uploadID string, hash string) (*models.CompleteResult, error) {
	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := rejectTerminal(session); err != nil {
		return nil, err
	}

	received, err := s.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.CodeInternalError, "failed to list chunks", err)
	}
	if missing := utils.MissingChunks(received, session.TotalChunks); len(missing) > 0 {
		return nil, uploaderr.MissingChunks(missing)
	}

	location, err := s.driver.FinalizeUpload(ctx, session)
	if err != nil {
		return nil, uploaderr.AsError(err)
	}

	status := models.StatusCompleted
	if _, err := s.store.UpdateSession(ctx, uploadID, models.SessionPatch{Status: &status}); err != nil {
		slog.Error("artifact finalized but session patch failed; session left in_progress",
			"upload_id", uploadID, "error", err)
	}

	metrics.UploadsCompletedTotal.Inc()
	slog.Info("upload completed",
		"upload_id", uploadID,
		"file_size", session.FileSize,
		"total_chunks", session.TotalChunks,
		"location_type", location.Type,
	)

	return &models.CompleteResult{
		UploadID: uploadID,
		FileName: session.FileName,
		FileSize: session.FileSize,
		Status:   models.StatusCompleted,
		Location: location,
	}, nil
}

// AbortUpload cancels a session and discards its staged bytes. Aborting an
// already-canceled session is a no-op.
func (s *UploadService) AbortUpload(ctx context.Context, uploadID string) error {
	session, err := s.getSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if session.Status == models.StatusCompleted {
		return uploaderr.AlreadyCompleted(uploadID)
	}
	if session.Status == models.StatusCanceled {
		return nil
	}

	if err := s.driver.AbortUpload(ctx, session); err != nil {
		return uploaderr.AsError(err)
	}

	status := models.StatusCanceled
	if _, err := s.store.UpdateSession(ctx, uploadID, models.SessionPatch{Status: &status}); err != nil {
		return uploaderr.Wrap(uploaderr.CodeInternalError, "failed to mark session canceled", err)
	}

	metrics.UploadsAbortedTotal.Inc()
	slog.Info("upload aborted", "upload_id", uploadID)
	return nil
}

// CleanupExpiredUploads removes sessions past their TTL. Requires the
// store's expired-listing capability; per-session errors are collected
// without aborting the sweep.
func (s *UploadService) CleanupExpiredUploads(ctx context.Context) models.CleanupResult {
	lister, ok := s.store.(store.ExpiredLister)
	if !ok {
		return models.CleanupResult{Errors: []string{"not supported: store cannot list expired sessions"}}
	}

	sessions, err := lister.ListExpiredSessions(ctx)
	if err != nil {
		return models.CleanupResult{Errors: []string{fmt.Sprintf("list expired: %v", err)}}
	}
	return s.sweep(ctx, sessions)
}

// CleanupStaleUploads removes non-completed sessions idle for longer than
// maxAge. Requires the store's all-listing capability.
func (s *UploadService) CleanupStaleUploads(ctx context.Context, maxAge time.Duration) models.CleanupResult {
	lister, ok := s.store.(store.AllLister)
	if !ok {
		return models.CleanupResult{Errors: []string{"not supported: store cannot list sessions"}}
	}

	sessions, err := lister.ListAllSessions(ctx)
	if err != nil {
		return models.CleanupResult{Errors: []string{fmt.Sprintf("list sessions: %v", err)}}
	}

	now := time.Now()
	var stale []*models.UploadSession
	for _, session := range sessions {
		if session.Status == models.StatusCompleted {
			continue
		}
		if now.Sub(session.UpdatedAt) > maxAge {
			stale = append(stale, session)
		}
	}
	return s.sweep(ctx, stale)
}

// sweep aborts driver state and deletes the session record for each
// candidate. Operates on a snapshot; a session deleted concurrently is still
// aborted and deleted again, and counted as cleaned.
func (s *UploadService) sweep(ctx context.Context, sessions []*models.UploadSession) models.CleanupResult {
	result := models.CleanupResult{Errors: []string{}}
	for _, session := range sessions {
		if session.Status != models.StatusCompleted {
			if err := s.driver.AbortUpload(ctx, session); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s: abort: %v", session.UploadID, err))
				continue
			}
		}
		if err := s.store.DeleteSession(ctx, session.UploadID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: delete: %v", session.UploadID, err))
			continue
		}
		result.Cleaned++
		metrics.SessionsCleanedTotal.Inc()
		slog.Debug("session cleaned", "upload_id", session.UploadID)
	}
	return result
}

func (s *UploadService) getSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if !utils.ValidateUploadID(uploadID) {
		return nil, uploaderr.Invalid(fmt.Sprintf("invalid upload id %q", uploadID))
	}
	session, err := s.store.GetSession(ctx, uploadID)
	if err != nil {
		return nil, uploaderr.Wrap(uploaderr.CodeInternalError, "failed to get session", err)
	}
	if session == nil {
		return nil, uploaderr.NotFound(uploadID)
	}
	return session, nil
}

func rejectTerminal(session *models.UploadSession) error {
	switch session.Status {
	case models.StatusCompleted:
		return uploaderr.AlreadyCompleted(session.UploadID)
	case models.StatusCanceled:
		return uploaderr.Canceled(session.UploadID)
	}
	return nil
}
