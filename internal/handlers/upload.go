// Package handlers translates the HTTP upload protocol to UploadService
// calls. The surface is deliberately thin: validation of bodies and
// headers, then a single service call.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/service"
	"github.com/torrin-io/torrin/internal/uploaderr"
)

// ChunkHashHeader carries an optional client-supplied hex SHA-256 of the
// chunk body.
const ChunkHashHeader = "X-Torrin-Chunk-Hash"

// Upload serves the upload protocol endpoints.
type Upload struct {
	svc      *service.UploadService
	basePath string
}

// NewUpload creates the handler set mounted at basePath.
func NewUpload(svc *service.UploadService, basePath string) *Upload {
	return &Upload{svc: svc, basePath: basePath}
}

// Register wires the protocol routes onto mux.
func (h *Upload) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.basePath, h.initUpload)
	mux.HandleFunc("POST "+h.basePath+"/{$}", h.initUpload)
	mux.HandleFunc("PUT "+h.basePath+"/{uploadId}/chunks/{index}", h.putChunk)
	mux.HandleFunc("GET "+h.basePath+"/{uploadId}/status", h.getStatus)
	mux.HandleFunc("POST "+h.basePath+"/{uploadId}/complete", h.completeUpload)
	mux.HandleFunc("DELETE "+h.basePath+"/{uploadId}", h.deleteUpload)
}

func (h *Upload) initUpload(w http.ResponseWriter, r *http.Request) {
	var req models.InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, uploaderr.Invalid("invalid JSON request body"))
		return
	}

	session, err := h.svc.InitUpload(r.Context(), service.InitInput{
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		Metadata:         req.Metadata,
		DesiredChunkSize: req.DesiredChunkSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.InitUploadResponse{
		UploadID:    session.UploadID,
		FileName:    session.FileName,
		FileSize:    session.FileSize,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		Status:      session.Status,
		ExpiresAt:   session.ExpiresAt,
	})
}

func (h *Upload) putChunk(w http.ResponseWriter, r *http.Request) {
	uploadID := r.PathValue("uploadId")

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, uploaderr.Invalid(fmt.Sprintf("invalid chunk index %q", r.PathValue("index"))))
		return
	}

	if r.ContentLength <= 0 {
		writeError(w, uploaderr.Invalid("Content-Length header is required and must be positive"))
		return
	}

	err = h.svc.HandleChunk(r.Context(), service.ChunkInput{
		UploadID: uploadID,
		Index:    index,
		Size:     r.ContentLength,
		Hash:     r.Header.Get(ChunkHashHeader),
		Body:     r.Body,
	})
	if err != nil {
		// Drain what the client already sent so the connection can carry
		// the error response instead of resetting mid-body.
		io.Copy(io.Discard, r.Body)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ChunkResponse{
		UploadID:      uploadID,
		ReceivedIndex: index,
		Status:        models.StatusInProgress,
	})
}

func (h *Upload) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(r.Context(), r.PathValue("uploadId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Upload) completeUpload(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteUploadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, uploaderr.Invalid("invalid JSON request body"))
			return
		}
	}

	result, err := h.svc.CompleteUpload(r.Context(), r.PathValue("uploadId"), req.Hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Upload) deleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AbortUpload(r.Context(), r.PathValue("uploadId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
