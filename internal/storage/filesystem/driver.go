// Package filesystem implements the storage driver on the local filesystem.
// Chunks are staged as numbered files under a per-upload temp directory and
// concatenated into the final artifact on finalize.
package filesystem

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// assembleBufferSize is the write buffer used during chunk concatenation.
// Large enough to keep syscall overhead low on multi-GB artifacts.
const assembleBufferSize = 8 * 1024 * 1024

// Options configure the driver.
type Options struct {
	// TempDir holds per-upload staging directories.
	TempDir string
	// BaseDir receives finalized artifacts.
	BaseDir string
	// PreserveFileName stores the artifact at <BaseDir>/<uploadId>/<fileName>
	// instead of <BaseDir>/<uploadId><ext>.
	PreserveFileName bool
}

// Driver stages chunks on disk and concatenates them on finalize.
type Driver struct {
	opts Options
}

// New creates a filesystem driver. TempDir and BaseDir are created lazily.
func New(opts Options) *Driver {
	return &Driver{opts: opts}
}

func (d *Driver) uploadDir(uploadID string) string {
	return filepath.Join(d.opts.TempDir, uploadID)
}

func (d *Driver) chunkPath(uploadID string, index int) string {
	// Zero-padded so lexicographic order equals numeric order.
	return filepath.Join(d.uploadDir(uploadID), fmt.Sprintf("chunk_%06d", index))
}

func (d *Driver) finalPath(session *models.UploadSession) string {
	if d.opts.PreserveFileName && session.FileName != "" {
		return filepath.Join(d.opts.BaseDir, session.UploadID, filepath.Base(session.FileName))
	}
	return filepath.Join(d.opts.BaseDir, session.UploadID+fileExt(session.FileName))
}

func (d *Driver) InitUpload(ctx context.Context, session *models.UploadSession) error {
	if err := os.MkdirAll(d.uploadDir(session.UploadID), 0o755); err != nil {
		return uploaderr.Storage("failed to create staging directory", err)
	}
	return nil
}

func (d *Driver) WriteChunk(ctx context.Context, session *models.UploadSession, index int, r io.Reader, expectedSize int64, hash string) error {
	path := d.chunkPath(session.UploadID, index)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return uploaderr.Storage("failed to create chunk file", err)
	}

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hasher), r)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(path)
		return uploaderr.Storage("failed to write chunk", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return uploaderr.Storage("failed to close chunk file", closeErr)
	}

	// Partial bodies are deleted so a retried chunk starts clean.
	info, err := os.Stat(path)
	if err != nil {
		return uploaderr.Storage("failed to stat chunk file", err)
	}
	if info.Size() != expectedSize {
		os.Remove(path)
		return uploaderr.SizeMismatch(expectedSize, info.Size())
	}

	if hash != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(got, hash) {
			os.Remove(path)
			return uploaderr.New(uploaderr.CodeChunkHashMismatch,
				fmt.Sprintf("chunk %d hash mismatch", index)).
				WithDetails(map[string]any{"expected": hash, "actual": got})
		}
	}

	slog.Debug("chunk staged",
		"upload_id", session.UploadID,
		"chunk_index", index,
		"size", written,
	)
	return nil
}

func (d *Driver) FinalizeUpload(ctx context.Context, session *models.UploadSession) (models.StorageLocation, error) {
	dir := d.uploadDir(session.UploadID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.StorageLocation{}, uploaderr.Storage("failed to read staging directory", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "chunk_") {
			names = append(names, e.Name())
		}
	}
	// Zero-padded names make this numeric order.
	sort.Strings(names)

	finalPath := d.finalPath(session)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return models.StorageLocation{}, uploaderr.Storage("failed to create artifact directory", err)
	}

	out, err := os.Create(finalPath)
	if err != nil {
		return models.StorageLocation{}, uploaderr.Storage("failed to create artifact", err)
	}

	// One write stream held open across every chunk read.
	writer := bufio.NewWriterSize(out, assembleBufferSize)
	var total int64
	for _, name := range names {
		chunk, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return models.StorageLocation{}, uploaderr.Storage(fmt.Sprintf("failed to open %s", name), err)
		}
		n, err := io.Copy(writer, chunk)
		chunk.Close()
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return models.StorageLocation{}, uploaderr.Storage(fmt.Sprintf("failed to copy %s", name), err)
		}
		total += n
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(finalPath)
		return models.StorageLocation{}, uploaderr.Storage("failed to flush artifact", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return models.StorageLocation{}, uploaderr.Storage("failed to close artifact", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		slog.Error("failed to remove staging directory", "upload_id", session.UploadID, "error", err)
	}

	slog.Info("upload assembled",
		"upload_id", session.UploadID,
		"chunks", len(names),
		"bytes", total,
		"path", finalPath,
	)

	return models.StorageLocation{Type: models.LocationLocal, Path: finalPath}, nil
}

func (d *Driver) AbortUpload(ctx context.Context, session *models.UploadSession) error {
	dir := d.uploadDir(session.UploadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return uploaderr.Storage("failed to remove staging directory", err)
	}
	slog.Debug("staging directory removed", "upload_id", session.UploadID, "path", dir)
	return nil
}

func fileExt(name string) string {
	if name == "" {
		return ""
	}
	return filepath.Ext(filepath.Base(name))
}
