package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/store"
)

func newSession(t *testing.T, s *Store, id string, fileSize, chunkSize int64, ttl time.Duration) *models.UploadSession {
	t.Helper()
	session, err := s.CreateSession(context.Background(), store.SessionInit{
		UploadID: id,
		FileName: "test.bin",
		FileSize: fileSize,
	}, chunkSize, ttl)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return session
}

func TestCreateAndGetSession(t *testing.T) {
	s := New()
	created := newSession(t, s, "u_test1", 2_500_000, 1_000_000, 0)

	if created.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, want 3", created.TotalChunks)
	}
	if created.Status != models.StatusPending {
		t.Errorf("Status = %s, want pending", created.Status)
	}
	if created.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil without ttl")
	}

	got, err := s.GetSession(context.Background(), "u_test1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession() returned nil")
	}
	if got.UploadID != "u_test1" || got.FileSize != 2_500_000 {
		t.Errorf("got %+v", got)
	}
}

func TestGetSession_Unknown(t *testing.T) {
	s := New()
	got, err := s.GetSession(context.Background(), "u_nope")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got != nil {
		t.Error("GetSession() should return nil for unknown id")
	}
}

func TestGetSession_ExpiredTreatedAsAbsent(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	newSession(t, s, "u_exp", 1024*1024, 1024*1024, 10*time.Millisecond)

	// Advance past the ttl.
	s.SetClock(func() time.Time { return now.Add(20 * time.Millisecond) })

	got, err := s.GetSession(context.Background(), "u_exp")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got != nil {
		t.Error("expired session should read as absent")
	}
}

func TestUpdateSessionRefreshesUpdatedAt(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	created := newSession(t, s, "u_upd", 1024*1024, 1024*1024, 0)

	s.SetClock(func() time.Time { return now.Add(time.Second) })
	status := models.StatusInProgress
	updated, err := s.UpdateSession(context.Background(), "u_upd", models.SessionPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateSession() error: %v", err)
	}
	if updated.Status != models.StatusInProgress {
		t.Errorf("Status = %s, want in_progress", updated.Status)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("UpdatedAt should advance on mutation")
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := New()
	status := models.StatusCanceled
	_, err := s.UpdateSession(context.Background(), "u_ghost", models.SessionPatch{Status: &status})
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestMarkChunkReceivedIdempotent(t *testing.T) {
	s := New()
	newSession(t, s, "u_chunks", 2_500_000, 1_000_000, 0)
	ctx := context.Background()

	for _, idx := range []int{2, 0, 2, 2} {
		if err := s.MarkChunkReceived(ctx, "u_chunks", idx); err != nil {
			t.Fatalf("MarkChunkReceived(%d) error: %v", idx, err)
		}
	}

	got, err := s.ListReceivedChunks(ctx, "u_chunks")
	if err != nil {
		t.Fatalf("ListReceivedChunks() error: %v", err)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("received = %v, want [0 2]", got)
	}
}

func TestDeleteSession(t *testing.T) {
	s := New()
	newSession(t, s, "u_del", 1024*1024, 1024*1024, 0)
	ctx := context.Background()

	if err := s.DeleteSession(ctx, "u_del"); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}
	got, _ := s.GetSession(ctx, "u_del")
	if got != nil {
		t.Error("session should be gone after delete")
	}

	// Deleting again is harmless.
	if err := s.DeleteSession(ctx, "u_del"); err != nil {
		t.Errorf("second DeleteSession() error: %v", err)
	}
}

func TestListExpiredSessions(t *testing.T) {
	s := New()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	newSession(t, s, "u_expired", 1024*1024, 1024*1024, time.Millisecond)
	newSession(t, s, "u_alive", 1024*1024, 1024*1024, time.Hour)
	newSession(t, s, "u_done", 1024*1024, 1024*1024, time.Millisecond)

	// Completed sessions never appear in the expired listing.
	status := models.StatusCompleted
	if _, err := s.UpdateSession(ctx, "u_done", models.SessionPatch{Status: &status}); err != nil {
		t.Fatalf("UpdateSession() error: %v", err)
	}

	s.SetClock(func() time.Time { return now.Add(time.Second) })

	expired, err := s.ListExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("ListExpiredSessions() error: %v", err)
	}
	if len(expired) != 1 || expired[0].UploadID != "u_expired" {
		ids := make([]string, len(expired))
		for i, e := range expired {
			ids[i] = e.UploadID
		}
		t.Errorf("expired = %v, want [u_expired]", ids)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.CreateSession(ctx, store.SessionInit{
		UploadID: "u_iso",
		FileSize: 1024 * 1024,
		Metadata: map[string]string{"k": "v"},
	}, 1024*1024, 0)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	got, _ := s.GetSession(ctx, "u_iso")
	got.Metadata["k"] = "mutated"
	got.Status = models.StatusCanceled

	again, _ := s.GetSession(ctx, "u_iso")
	if again.Metadata["k"] != "v" || again.Status != models.StatusPending {
		t.Error("store state must not be mutable through returned sessions")
	}
}
