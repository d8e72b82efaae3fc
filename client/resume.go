package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// UploadState is the client-side record persisted by a resume store.
type UploadState struct {
	UploadID       string            `json:"uploadId"`
	FileName       string            `json:"fileName,omitempty"`
	FileSize       int64             `json:"fileSize"`
	ChunkSize      int64             `json:"chunkSize"`
	TotalChunks    int               `json:"totalChunks"`
	ReceivedChunks []int             `json:"receivedChunks"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ResumeStore persists upload state between client runs. A separate
// fingerprint index maps a file key to the last upload id for that file,
// enabling resume discovery when the same file is selected again.
type ResumeStore interface {
	Save(state *UploadState) error
	Load(uploadID string) (*UploadState, error)
	Delete(uploadID string) error

	SetFileKey(fileKey, uploadID string) error
	FindByFile(fileKey string) (string, error)
	DeleteFileKey(fileKey string) error
}

const fileIndexName = "torrin_file_index.json"

// FileResumeStore stores upload state as JSON files in a directory:
// sessions at torrin_upload_<uploadId>.json, the file-key index at
// torrin_file_index.json.
type FileResumeStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileResumeStore creates the directory if needed.
func NewFileResumeStore(dir string) (*FileResumeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating resume store directory: %w", err)
	}
	return &FileResumeStore{dir: dir}, nil
}

func (s *FileResumeStore) statePath(uploadID string) string {
	return filepath.Join(s.dir, "torrin_upload_"+uploadID+".json")
}

func (s *FileResumeStore) Save(state *UploadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding upload state: %w", err)
	}
	return os.WriteFile(s.statePath(state.UploadID), data, 0o644)
}

func (s *FileResumeStore) Load(uploadID string) (*UploadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath(uploadID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading upload state: %w", err)
	}
	var state UploadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding upload state: %w", err)
	}
	return &state, nil
}

func (s *FileResumeStore) Delete(uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.statePath(uploadID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting upload state: %w", err)
	}
	return nil
}

func (s *FileResumeStore) SetFileKey(fileKey, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	index[fileKey] = uploadID
	return s.writeIndex(index)
}

func (s *FileResumeStore) FindByFile(fileKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return "", err
	}
	return index[fileKey], nil
}

func (s *FileResumeStore) DeleteFileKey(fileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[fileKey]; !ok {
		return nil
	}
	delete(index, fileKey)
	return s.writeIndex(index)
}

// readIndex and writeIndex assume the mutex is held.
func (s *FileResumeStore) readIndex() (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, fileIndexName))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading file index: %w", err)
	}
	index := map[string]string{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decoding file index: %w", err)
	}
	return index, nil
}

func (s *FileResumeStore) writeIndex(index map[string]string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding file index: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, fileIndexName), data, 0o644)
}
