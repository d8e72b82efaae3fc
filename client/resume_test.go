package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileResumeStoreRoundTrip(t *testing.T) {
	store, err := NewFileResumeStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileResumeStore() error: %v", err)
	}

	state := &UploadState{
		UploadID:       "u_rs1",
		FileName:       "big.iso",
		FileSize:       2_500_000,
		ChunkSize:      1_000_000,
		TotalChunks:    3,
		ReceivedChunks: []int{0, 2},
		Metadata:       map[string]string{"k": "v"},
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := store.Load("u_rs1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil {
		t.Fatal("Load() returned nil")
	}
	if got.FileSize != 2_500_000 || len(got.ReceivedChunks) != 2 || got.Metadata["k"] != "v" {
		t.Errorf("got %+v", got)
	}
}

func TestLoadUnknownReturnsNil(t *testing.T) {
	store, _ := NewFileResumeStore(t.TempDir())
	got, err := store.Load("u_ghost")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != nil {
		t.Error("Load(unknown) should return nil, nil")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := NewFileResumeStore(t.TempDir())
	if err := store.Save(&UploadState{UploadID: "u_rs2"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.Delete("u_rs2"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete("u_rs2"); err != nil {
		t.Errorf("second Delete() error: %v", err)
	}
}

func TestFileKeyIndex(t *testing.T) {
	store, _ := NewFileResumeStore(t.TempDir())

	if err := store.SetFileKey("big.iso-2500000-111", "u_rs3"); err != nil {
		t.Fatalf("SetFileKey() error: %v", err)
	}

	got, err := store.FindByFile("big.iso-2500000-111")
	if err != nil {
		t.Fatalf("FindByFile() error: %v", err)
	}
	if got != "u_rs3" {
		t.Errorf("FindByFile = %q, want u_rs3", got)
	}

	if got, _ := store.FindByFile("other-1-2"); got != "" {
		t.Errorf("FindByFile(unknown) = %q, want empty", got)
	}

	if err := store.DeleteFileKey("big.iso-2500000-111"); err != nil {
		t.Fatalf("DeleteFileKey() error: %v", err)
	}
	if got, _ := store.FindByFile("big.iso-2500000-111"); got != "" {
		t.Errorf("FindByFile after delete = %q, want empty", got)
	}
}

func TestStateFileLayout(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileResumeStore(dir)

	store.Save(&UploadState{UploadID: "u_rs4"})
	store.SetFileKey("a-1-2", "u_rs4")

	if _, err := os.Stat(filepath.Join(dir, "torrin_upload_u_rs4.json")); err != nil {
		t.Errorf("session file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "torrin_file_index.json")); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}
