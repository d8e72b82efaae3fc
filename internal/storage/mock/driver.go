// Package mock provides an in-memory storage driver for tests.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// Driver records every call and keeps chunk bytes in memory.
type Driver struct {
	mu sync.Mutex

	// Chunks holds written chunk bytes keyed by upload id then index.
	Chunks map[string]map[int][]byte
	// Inited, Finalized, Aborted record lifecycle calls per upload id.
	Inited    map[string]bool
	Finalized map[string]bool
	Aborted   map[string]bool

	// Failure hooks. When set, the corresponding call fails.
	FailInit     error
	FailWrite    error
	FailFinalize error
	FailAbort    error
}

// New creates an empty mock driver.
func New() *Driver {
	return &Driver{
		Chunks:    make(map[string]map[int][]byte),
		Inited:    make(map[string]bool),
		Finalized: make(map[string]bool),
		Aborted:   make(map[string]bool),
	}
}

func (d *Driver) InitUpload(ctx context.Context, session *models.UploadSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailInit != nil {
		return uploaderr.Storage("init failed", d.FailInit)
	}
	d.Inited[session.UploadID] = true
	d.Chunks[session.UploadID] = make(map[int][]byte)
	return nil
}

func (d *Driver) WriteChunk(ctx context.Context, session *models.UploadSession, index int, r io.Reader, expectedSize int64, hash string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return uploaderr.Storage("read failed", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWrite != nil {
		return uploaderr.Storage("write failed", d.FailWrite)
	}
	if int64(len(data)) != expectedSize {
		return uploaderr.SizeMismatch(expectedSize, int64(len(data)))
	}
	if d.Chunks[session.UploadID] == nil {
		d.Chunks[session.UploadID] = make(map[int][]byte)
	}
	d.Chunks[session.UploadID][index] = data
	return nil
}

func (d *Driver) FinalizeUpload(ctx context.Context, session *models.UploadSession) (models.StorageLocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailFinalize != nil {
		return models.StorageLocation{}, uploaderr.Storage("finalize failed", d.FailFinalize)
	}
	d.Finalized[session.UploadID] = true
	return models.StorageLocation{
		Type: models.LocationLocal,
		Path: fmt.Sprintf("mock://%s", session.UploadID),
	}, nil
}

func (d *Driver) AbortUpload(ctx context.Context, session *models.UploadSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAbort != nil {
		return uploaderr.Storage("abort failed", d.FailAbort)
	}
	d.Aborted[session.UploadID] = true
	delete(d.Chunks, session.UploadID)
	return nil
}

// Artifact concatenates the stored chunks in index order.
func (d *Driver) Artifact(uploadID string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	chunks := d.Chunks[uploadID]
	var out []byte
	for i := 0; i < len(chunks); i++ {
		out = append(out, chunks[i]...)
	}
	return out
}
