package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
	"github.com/torrin-io/torrin/internal/utils"
)

// Status is the client-side upload lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusPaused       Status = "paused"
	StatusCompleting   Status = "completing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// Progress is emitted after every chunk success, in completion order.
type Progress struct {
	BytesUploaded   int64
	TotalBytes      int64
	Percentage      int
	ChunkIndex      int
	ChunksCompleted int
	TotalChunks     int
}

// Upload defaults.
const (
	DefaultConcurrency   = 3
	MaxConcurrency       = 10
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second

	// stateSaveInterval bounds resume-store write frequency: state is
	// saved every N successful chunks and after the last one.
	stateSaveInterval = 10
)

// UploadOptions configure one Upload.
type UploadOptions struct {
	// ChunkSize requests a chunk size; the server clamps it.
	ChunkSize int64
	// Concurrency is the maximum number of in-flight chunk uploads.
	// Defaults to 3; capped at 10.
	Concurrency int
	// RetryAttempts is the total number of tries per chunk, the first
	// included. Defaults to 3.
	RetryAttempts int
	// RetryDelay is the base delay of the exponential backoff. Defaults
	// to one second.
	RetryDelay time.Duration
	// Metadata is carried end-to-end unchanged.
	Metadata map[string]string
	// MimeType overrides the sniffed content type.
	MimeType string
	// ResumeStore enables resume across client runs. Nil disables it.
	ResumeStore ResumeStore
}

func (o *UploadOptions) withDefaults() UploadOptions {
	opts := UploadOptions{}
	if o != nil {
		opts = *o
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return opts
}

// Upload drives one source through the upload protocol: slice, upload
// chunks in parallel with retry, resume by fingerprint, pause and cancel
// cooperatively.
type Upload struct {
	client *Client
	source Source
	opts   UploadOptions
	events *emitter

	mu       sync.Mutex
	status   Status
	uploadID string

	gate     *gate
	cancelMu sync.Mutex
	canceled bool
	cancelFn context.CancelFunc
}

// NewUpload prepares an upload; Start begins the transfer.
func NewUpload(c *Client, source Source, opts *UploadOptions) *Upload {
	return &Upload{
		client: c,
		source: source,
		opts:   opts.withDefaults(),
		events: newEmitter(),
		status: StatusIdle,
		gate:   newGate(),
	}
}

// OnProgress registers a progress handler.
func (u *Upload) OnProgress(h ProgressHandler) *Subscription {
	return u.events.subscribe(EventProgress, handlerEntry{progress: h})
}

// OnStatus registers a status handler.
func (u *Upload) OnStatus(h StatusHandler) *Subscription {
	return u.events.subscribe(EventStatus, handlerEntry{status: h})
}

// OnError registers a terminal-error handler.
func (u *Upload) OnError(h ErrorHandler) *Subscription {
	return u.events.subscribe(EventError, handlerEntry{err: h})
}

// Status returns the current lifecycle state.
func (u *Upload) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// UploadID returns the session id once known, or "".
func (u *Upload) UploadID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploadID
}

func (u *Upload) setStatus(s Status) {
	u.mu.Lock()
	u.status = s
	u.mu.Unlock()
	u.events.emitStatus(s)
}

func (u *Upload) setUploadID(id string) {
	u.mu.Lock()
	u.uploadID = id
	u.mu.Unlock()
}

// Pause suspends the upload. In-flight chunks finish; new work parks at
// the next checkpoint. A no-op unless uploading.
func (u *Upload) Pause() {
	u.mu.Lock()
	if u.status != StatusUploading {
		u.mu.Unlock()
		return
	}
	u.status = StatusPaused
	u.mu.Unlock()

	u.gate.shut()
	u.events.emitStatus(StatusPaused)
}

// Resume releases a paused upload.
func (u *Upload) Resume() {
	u.mu.Lock()
	if u.status != StatusPaused {
		u.mu.Unlock()
		return
	}
	u.status = StatusUploading
	u.mu.Unlock()

	u.gate.open()
	u.events.emitStatus(StatusUploading)
}

// Cancel aborts the upload. Paused tasks are released so they observe the
// cancellation; the server session is deleted best-effort; saved resume
// state is purged. In-flight chunk requests are not left to finish: they are
// aborted through the context Start runs under, and their results are
// discarded.
func (u *Upload) Cancel(ctx context.Context) {
	u.cancelMu.Lock()
	if u.canceled {
		u.cancelMu.Unlock()
		return
	}
	u.canceled = true
	cancelFn := u.cancelFn
	u.cancelMu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	u.gate.open()

	if id := u.UploadID(); id != "" {
		if err := u.client.CancelUpload(ctx, id); err != nil {
			// Best effort; the TTL sweep collects leftovers.
			_ = err
		}
	}
	u.purgeResumeState()
	u.setStatus(StatusCanceled)
}

func (u *Upload) isCanceled() bool {
	u.cancelMu.Lock()
	defer u.cancelMu.Unlock()
	return u.canceled
}

// Start runs the upload to completion. It blocks until the artifact is
// finalized, the upload fails, or it is canceled.
func (u *Upload) Start(ctx context.Context) (*models.CompleteResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.cancelMu.Lock()
	u.cancelFn = cancel
	u.cancelMu.Unlock()

	result, err := u.run(ctx)
	if err != nil {
		if u.isCanceled() {
			u.purgeResumeState()
			u.setStatus(StatusCanceled)
			return nil, uploaderr.Canceled(u.UploadID())
		}
		if uploaderr.Is(err, uploaderr.CodeUploadCanceled) {
			return nil, uploaderr.Canceled(u.UploadID())
		}
		u.setStatus(StatusFailed)
		u.events.emitError(err)
		return nil, err
	}
	return result, nil
}

func (u *Upload) run(ctx context.Context) (*models.CompleteResult, error) {
	u.setStatus(StatusInitializing)

	plan, err := u.initOrResume(ctx)
	if err != nil {
		return nil, err
	}
	u.setUploadID(plan.uploadID)

	u.setStatus(StatusUploading)
	if err := u.pump(ctx, plan); err != nil {
		return nil, err
	}

	u.setStatus(StatusCompleting)
	u.saveState(plan)

	result, err := u.client.CompleteUpload(ctx, plan.uploadID, "")
	if err != nil {
		return nil, err
	}

	u.purgeResumeState()
	u.setStatus(StatusCompleted)
	return result, nil
}

// uploadPlan is the resolved geometry and progress baseline of a transfer.
type uploadPlan struct {
	uploadID    string
	chunkSize   int64
	totalChunks int
	fileSize    int64

	mu              sync.Mutex
	received        map[int]bool
	bytesUploaded   int64
	chunksCompleted int
	sinceSave       int
}

// initOrResume discovers a resumable session by fingerprint, adopting the
// server's geometry and received set, or initializes a fresh session.
func (u *Upload) initOrResume(ctx context.Context) (*uploadPlan, error) {
	fileKey := u.source.FileKey()

	if u.opts.ResumeStore != nil && fileKey != "" {
		if plan, ok := u.tryResume(ctx, fileKey); ok {
			return plan, nil
		}
	}

	mime := u.opts.MimeType
	if mime == "" {
		mime = u.source.MimeType()
	}

	resp, err := u.client.InitUpload(ctx, models.InitUploadRequest{
		FileName:         u.source.Name(),
		FileSize:         u.source.Size(),
		MimeType:         mime,
		Metadata:         u.opts.Metadata,
		DesiredChunkSize: u.opts.ChunkSize,
	})
	if err != nil {
		return nil, err
	}

	plan := &uploadPlan{
		uploadID:    resp.UploadID,
		chunkSize:   resp.ChunkSize,
		totalChunks: resp.TotalChunks,
		fileSize:    u.source.Size(),
		received:    map[int]bool{},
	}

	if u.opts.ResumeStore != nil {
		u.saveState(plan)
		if fileKey != "" {
			if err := u.opts.ResumeStore.SetFileKey(fileKey, plan.uploadID); err != nil {
				return nil, fmt.Errorf("saving file key: %w", err)
			}
		}
	}
	return plan, nil
}

// tryResume returns (plan, true) when a saved session is adoptable. A
// session the server reports completed or canceled is evicted and a fresh
// init is performed.
func (u *Upload) tryResume(ctx context.Context, fileKey string) (*uploadPlan, bool) {
	uploadID, err := u.opts.ResumeStore.FindByFile(fileKey)
	if err != nil || uploadID == "" {
		return nil, false
	}

	status, err := u.client.GetStatus(ctx, uploadID)
	if err != nil {
		u.evictResumeState(uploadID, fileKey)
		return nil, false
	}
	if status.Status == models.StatusCompleted || status.Status == models.StatusCanceled {
		u.evictResumeState(uploadID, fileKey)
		return nil, false
	}

	plan := &uploadPlan{
		uploadID:    uploadID,
		chunkSize:   status.ChunkSize,
		totalChunks: status.TotalChunks,
		fileSize:    status.FileSize,
		received:    map[int]bool{},
	}
	// Reconstruct the byte baseline exactly: the last index carries the
	// remainder, every other index a full chunk.
	for _, idx := range status.ReceivedChunks {
		plan.received[idx] = true
		plan.bytesUploaded += utils.ExpectedChunkSize(idx, plan.totalChunks, plan.fileSize, plan.chunkSize)
	}
	plan.chunksCompleted = len(status.ReceivedChunks)
	return plan, true
}

func (u *Upload) evictResumeState(uploadID, fileKey string) {
	if u.opts.ResumeStore == nil {
		return
	}
	u.opts.ResumeStore.Delete(uploadID)
	u.opts.ResumeStore.DeleteFileKey(fileKey)
}

func (u *Upload) purgeResumeState() {
	if u.opts.ResumeStore == nil {
		return
	}
	if id := u.UploadID(); id != "" {
		u.opts.ResumeStore.Delete(id)
	}
	if fileKey := u.source.FileKey(); fileKey != "" {
		u.opts.ResumeStore.DeleteFileKey(fileKey)
	}
}

func (u *Upload) saveState(plan *uploadPlan) {
	if u.opts.ResumeStore == nil {
		return
	}
	plan.mu.Lock()
	received := make([]int, 0, len(plan.received))
	for idx := range plan.received {
		received = append(received, idx)
	}
	plan.mu.Unlock()

	u.opts.ResumeStore.Save(&UploadState{
		UploadID:       plan.uploadID,
		FileName:       u.source.Name(),
		FileSize:       plan.fileSize,
		ChunkSize:      plan.chunkSize,
		TotalChunks:    plan.totalChunks,
		ReceivedChunks: utils.SortedChunks(received),
		Metadata:       u.opts.Metadata,
	})
}

// pump uploads every pending chunk with at most opts.Concurrency in
// flight. When a chunk exhausts its retries the pump stops launching new
// work, waits for in-flight chunks to settle and surfaces the first error.
func (u *Upload) pump(ctx context.Context, plan *uploadPlan) error {
	plan.mu.Lock()
	pending := make([]int, 0, plan.totalChunks)
	for i := 0; i < plan.totalChunks; i++ {
		if !plan.received[i] {
			pending = append(pending, i)
		}
	}
	plan.mu.Unlock()

	sem := make(chan struct{}, u.opts.Concurrency)
	var wg sync.WaitGroup

	var errMu sync.Mutex
	var firstErr error
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}
	failed := func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return firstErr != nil
	}

	for _, index := range pending {
		if failed() || u.isCanceled() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := u.uploadChunkWithRetry(ctx, plan, index); err != nil {
				setErr(err)
				return
			}
			u.afterChunk(plan, index)
		}(index)
	}

	// Orphan prevention: every launched chunk settles before we return.
	wg.Wait()

	if u.isCanceled() {
		return uploaderr.Canceled(plan.uploadID)
	}
	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// afterChunk updates progress accounting, emits a progress event (in
// completion order, not index order) and persists state on the save cadence.
func (u *Upload) afterChunk(plan *uploadPlan, index int) {
	size := utils.ExpectedChunkSize(index, plan.totalChunks, plan.fileSize, plan.chunkSize)

	plan.mu.Lock()
	plan.received[index] = true
	plan.bytesUploaded += size
	plan.chunksCompleted++
	plan.sinceSave++
	save := plan.sinceSave >= stateSaveInterval || plan.chunksCompleted == plan.totalChunks
	if save {
		plan.sinceSave = 0
	}
	progress := Progress{
		BytesUploaded:   plan.bytesUploaded,
		TotalBytes:      plan.fileSize,
		Percentage:      utils.Progress(plan.bytesUploaded, plan.fileSize),
		ChunkIndex:      index,
		ChunksCompleted: plan.chunksCompleted,
		TotalChunks:     plan.totalChunks,
	}
	plan.mu.Unlock()

	if save {
		u.saveState(plan)
	}
	u.events.emitProgress(progress)
}

// uploadChunkWithRetry uploads one chunk with exponential backoff:
// delay * 2^(attempt-1), the first attempt included in the count. The
// pause gate is polled before the body slice and before each retry sleep.
func (u *Upload) uploadChunkWithRetry(ctx context.Context, plan *uploadPlan, index int) error {
	// Checkpoint: pause/cancel before slicing the body.
	if err := u.checkpoint(ctx, plan.uploadID); err != nil {
		return err
	}

	data, err := u.sliceChunk(plan, index)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= u.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			// Checkpoint: pause/cancel before the retry sleep.
			if err := u.checkpoint(ctx, plan.uploadID); err != nil {
				return err
			}
			delay := u.opts.RetryDelay * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return uploaderr.Canceled(plan.uploadID)
			case <-time.After(delay):
			}
		}

		lastErr = u.client.PutChunk(ctx, plan.uploadID, index, data, "")
		if lastErr == nil {
			return nil
		}
		if u.isCanceled() {
			return uploaderr.Canceled(plan.uploadID)
		}
	}
	return fmt.Errorf("chunk %d failed after %d attempts: %w", index, u.opts.RetryAttempts, lastErr)
}

// checkpoint parks on the pause gate and observes cancellation.
func (u *Upload) checkpoint(ctx context.Context, uploadID string) error {
	if err := u.gate.wait(ctx); err != nil {
		return uploaderr.Canceled(uploadID)
	}
	if u.isCanceled() {
		return uploaderr.Canceled(uploadID)
	}
	return nil
}

func (u *Upload) sliceChunk(plan *uploadPlan, index int) ([]byte, error) {
	size := utils.ExpectedChunkSize(index, plan.totalChunks, plan.fileSize, plan.chunkSize)
	offset := int64(index) * plan.chunkSize

	data := make([]byte, size)
	n, err := u.source.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	if int64(n) != size {
		return nil, fmt.Errorf("short read for chunk %d: got %d, want %d", index, n, size)
	}
	return data, nil
}
