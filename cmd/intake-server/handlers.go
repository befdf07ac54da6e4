package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/services"
	"github.com/Lllllllleong/documentintake/internal/store"
)

// DocumentHandler serves the document endpoints.
type DocumentHandler struct {
	pipeline  *services.Pipeline
	repo      store.Repository
	maxUpload int64
	logger    *slog.Logger
}

func NewDocumentHandler(pipeline *services.Pipeline, repo store.Repository, maxUpload int64, logger *slog.Logger) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	return &DocumentHandler{pipeline: pipeline, repo: repo, maxUpload: maxUpload, logger: logger}
}

// Upload handles POST /api/v1/documents with a multipart "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart upload", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
		return
	}

	var contextData map[string]string
	if raw := r.FormValue("contextData"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &contextData); err != nil {
			h.writeError(w, http.StatusBadRequest, "contextData must be a JSON object of strings", err.Error())
			return
		}
	}

	doc, err := h.pipeline.Submit(r.Context(), services.UploadRequest{
		Filename:    header.Filename,
		MimeType:    services.DetectMimeType(header.Filename, header.Header.Get("Content-Type")),
		UserID:      r.FormValue("userId"),
		Data:        data,
		ContextData: contextData,
	})
	var dup *models.DuplicateError
	if errors.As(err, &dup) && doc != nil {
		h.writeJSON(w, http.StatusOK, uploadResponse(doc))
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, uploadResponse(doc))
}

// Get handles GET /api/v1/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.repo.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// History handles GET /api/v1/documents/{id}/history.
func (h *DocumentHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// Extraction handles GET /api/v1/documents/{id}/extraction. The OCR output is
// only served once the document has reached ocr_completed.
func (h *DocumentHandler) Extraction(w http.ResponseWriter, r *http.Request) {
	doc, err := h.repo.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !doc.State.Status.AtLeast(models.StatusOCRCompleted) {
		h.writeError(w, http.StatusConflict, "extraction not ready", fmt.Sprintf("document is %s", doc.State.Status))
		return
	}
	fragments := doc.Fragments
	if fragments == nil {
		fragments = []models.TextFragment{}
	}
	h.writeJSON(w, http.StatusOK, models.ExtractionResponse{
		DocumentID: doc.ID,
		Status:     doc.State.Status,
		PageCount:  doc.PageCount,
		OCRText:    doc.OCRText,
		Fragments:  fragments,
	})
}

// Retry handles POST /api/v1/documents/{id}/retry.
func (h *DocumentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	doc, err := h.pipeline.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, uploadResponse(doc))
}

func uploadResponse(doc *models.Document) models.UploadResponse {
	return models.UploadResponse{DocumentID: doc.ID, Status: doc.State.Status, Progress: doc.State.Progress}
}

func (h *DocumentHandler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound   *models.NotFoundError
		validation *models.ValidationError
		transition *models.TransitionError
	)
	switch {
	case errors.As(err, &notFound):
		h.writeError(w, http.StatusNotFound, "document not found", err.Error())
	case errors.As(err, &validation):
		h.writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.As(err, &transition):
		h.writeError(w, http.StatusConflict, "invalid state transition", err.Error())
	case errors.Is(err, services.ErrPipelineClosed):
		h.writeError(w, http.StatusServiceUnavailable, "server is shutting down", "")
	default:
		h.logger.Error("Request failed.", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (h *DocumentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response.", "error", err)
	}
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, status int, message, details string) {
	h.writeJSON(w, status, models.ErrorResponse{Error: message, Details: details})
}
