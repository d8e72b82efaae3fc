package client

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Source is a sliceable byte source for an upload.
type Source interface {
	io.ReaderAt
	// Size returns the total byte length.
	Size() int64
	// Name returns the file name, or "" for anonymous sources.
	Name() string
	// FileKey returns the stable fingerprint "<name>-<size>-<lastModified>"
	// used for resume discovery, or "" when the source is not file-backed
	// (resume by file selection is then disabled).
	FileKey() string
	// MimeType returns the detected content type, or "".
	MimeType() string
	// Close releases the source.
	Close() error
}

// FileSource reads from a file on disk and carries a fingerprint.
type FileSource struct {
	file    *os.File
	name    string
	size    int64
	fileKey string
	mime    string
}

// OpenFile opens path as an upload source. The MIME type is sniffed from
// the file content.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	mime := ""
	if mt, err := mimetype.DetectFile(path); err == nil {
		mime = mt.String()
	}

	name := filepath.Base(path)
	return &FileSource{
		file:    f,
		name:    name,
		size:    info.Size(),
		fileKey: fmt.Sprintf("%s-%d-%d", name, info.Size(), info.ModTime().UnixMilli()),
		mime:    mime,
	}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) { return s.file.ReadAt(p, off) }
func (s *FileSource) Size() int64                             { return s.size }
func (s *FileSource) Name() string                            { return s.name }
func (s *FileSource) FileKey() string                         { return s.fileKey }
func (s *FileSource) MimeType() string                        { return s.mime }
func (s *FileSource) Close() error                            { return s.file.Close() }

// BytesSource wraps an in-memory buffer. It has no file key, so resume by
// file selection is disabled for it.
type BytesSource struct {
	reader *bytes.Reader
	name   string
	mime   string
}

// NewBytesSource creates a source over data. name may be "".
func NewBytesSource(data []byte, name string) *BytesSource {
	return &BytesSource{
		reader: bytes.NewReader(data),
		name:   name,
		mime:   mimetype.Detect(data).String(),
	}
}

func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) { return s.reader.ReadAt(p, off) }
func (s *BytesSource) Size() int64                             { return s.reader.Size() }
func (s *BytesSource) Name() string                            { return s.name }
func (s *BytesSource) FileKey() string                         { return "" }
func (s *BytesSource) MimeType() string                        { return s.mime }
func (s *BytesSource) Close() error                            { return nil }
