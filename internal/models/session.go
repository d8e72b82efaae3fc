package models

import "time"

// UploadStatus is the lifecycle state of an upload session.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusInProgress UploadStatus = "in_progress"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
	StatusCanceled   UploadStatus = "canceled"
)

// UploadSession is the authoritative server-side record of one upload.
type UploadSession struct {
	UploadID    string            `json:"upload_id"`
	FileName    string            `json:"file_name,omitempty"`
	MimeType    string            `json:"mime_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FileSize    int64             `json:"file_size"`
	ChunkSize   int64             `json:"chunk_size"`
	TotalChunks int               `json:"total_chunks"`
	Status      UploadStatus      `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (s *UploadSession) Clone() *UploadSession {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// SessionPatch is a partial update applied by UploadStore.UpdateSession.
// Nil fields are left untouched.
type SessionPatch struct {
	Status   *UploadStatus
	MimeType *string
	Metadata map[string]string
}
