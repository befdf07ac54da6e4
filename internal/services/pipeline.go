package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/store"
)

// UploadRequest is a new document entering the pipeline.
type UploadRequest struct {
	Filename string
	MimeType string
	UserID   string
	Data     []byte
	// StoragePath is set when the bytes are already in the object store.
	StoragePath string
	// ContextData is passed through to the mapping service.
	ContextData map[string]string
}

// PipelineDeps are the collaborators of a Pipeline. Classifier, Extractor,
// Mapper and Handoff are optional.
type PipelineDeps struct {
	Repo         store.Repository
	Objects      store.ObjectStore
	Machine      *StateMachine
	Orchestrator *Orchestrator
	Classifier   Classifier
	Extractor    FieldExtractor
	Mapper       FieldMapper
	Handoff      Handoff
	// Dedupe rejects uploads whose content hash matches an existing document.
	Dedupe bool
	Logger *slog.Logger
}

// Pipeline drives a document from upload to completion through the state machine.
type Pipeline struct {
	deps   PipelineDeps
	logger *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	contexts map[string]map[string]string
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Classifier == nil {
		deps.Classifier = PatternClassifier{}
	}
	return &Pipeline{deps: deps, logger: deps.Logger, contexts: make(map[string]map[string]string)}
}

// Submit registers req and starts processing it in the background. A
// duplicate upload returns the existing document together with a
// *models.DuplicateError. Shutdown waits for a Submit that has passed the
// closed check.
func (p *Pipeline) Submit(ctx context.Context, req UploadRequest) (*models.Document, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	doc, err := p.Register(ctx, req)
	if err != nil {
		p.wg.Done()
		return doc, err
	}
	p.launch(ctx, doc.ID)
	return doc, nil
}

// Register validates req, stores the bytes and creates the queued record
// without processing it.
func (p *Pipeline) Register(ctx context.Context, req UploadRequest) (*models.Document, error) {
	if len(req.Data) == 0 {
		return nil, &models.ValidationError{Field: "file", Message: "no file content"}
	}
	if req.MimeType == "" {
		return nil, &models.ValidationError{Field: "mimeType", Message: "must be set"}
	}

	hash := FileHash(req.Data)
	logCtx := p.logger.With("filename", req.Filename, "fileHash", hash)
	if p.deps.Dedupe {
		if idx, ok := p.deps.Repo.(store.HashIndex); ok {
			existingID, found, err := idx.FindByHash(ctx, hash)
			if err != nil {
				return nil, fmt.Errorf("failed to check for duplicate: %w", err)
			}
			if found {
				logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existingID)
				existing, err := p.deps.Repo.GetDocument(ctx, existingID)
				if err != nil {
					return nil, err
				}
				return existing, &models.DuplicateError{ExistingID: existingID, FileHash: hash}
			}
		}
	}

	id := uuid.NewString()
	logCtx = logCtx.With("documentId", id)

	path := req.StoragePath
	if path == "" {
		path = store.ObjectPath(id, filepath.Base(req.Filename))
		meta := map[string]string{"documentId": id, "fileHash": hash, "contentType": req.MimeType}
		if err := p.deps.Objects.PutBytes(ctx, path, req.Data, meta); err != nil {
			logCtx.Error("Failed to store original bytes", "error", err)
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          id,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		Size:        int64(len(req.Data)),
		UserID:      req.UserID,
		StoragePath: path,
		FileHash:    hash,
		State: models.ProcessingState{
			Status:       models.StatusQueued,
			CurrentStage: "queued",
			Progress:     p.deps.Machine.Checkpoints().Queued,
			LastUpdated:  now,
		},
		CreatedAt: now,
	}
	if err := p.deps.Repo.CreateDocument(ctx, doc); err != nil {
		logCtx.Error("Failed to create document record", "error", err)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	if err := p.deps.Repo.AppendHistory(ctx, id, models.HistoryEntry{
		Timestamp: now, Stage: "queued", Status: models.StatusQueued, Message: "document queued", Progress: doc.State.Progress,
	}); err != nil {
		logCtx.Warn("Failed to record queued history entry.", "error", err)
	}
	logCtx.Info("Created document record.")

	if len(req.ContextData) > 0 {
		p.mu.Lock()
		p.contexts[id] = req.ContextData
		p.mu.Unlock()
	}
	return doc, nil
}

// Retry moves a failed document back to queued and processes it again.
func (p *Pipeline) Retry(ctx context.Context, id string) (*models.Document, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	doc, err := p.deps.Machine.Transition(ctx, TransitionRequest{
		DocumentID: id,
		Status:     models.StatusQueued,
		Stage:      "queued",
		Message:    "retry requested",
	})
	if err != nil {
		p.wg.Done()
		return nil, err
	}
	p.logger.Info("Retrying document.", "documentId", id, "retryCount", doc.RetryCount)
	p.launch(ctx, id)
	return doc, nil
}

var ErrPipelineClosed = errors.New("pipeline is shutting down")

// reserve counts one unit of in-flight work, or fails once Shutdown has
// begun. The caller must follow with launch or wg.Done.
func (p *Pipeline) reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.wg.Add(1)
	return nil
}

// launch processes id in the background against a reservation.
func (p *Pipeline) launch(ctx context.Context, id string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		if err := p.Process(bg, id); err != nil {
			p.logger.Error("Document processing failed.", "documentId", id, "error", err)
		}
	}()
}

// Process runs a queued document through every stage. Failures are recorded
// on the document and returned.
func (p *Pipeline) Process(ctx context.Context, id string) error {
	m := p.deps.Machine
	cp := m.Checkpoints()
	logCtx := p.logger.With("documentId", id)
	logCtx.Info("Processing document.")
	defer func() {
		p.mu.Lock()
		delete(p.contexts, id)
		p.mu.Unlock()
	}()

	doc, err := m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusUploading, Stage: "upload"})
	if err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}
	data, err := p.deps.Objects.GetBytes(ctx, doc.StoragePath)
	if err != nil {
		return p.fail(ctx, logCtx, id, "upload", models.ErrorKindStorage, "failed to read document bytes", err)
	}
	uploaded := cp.Uploaded
	if doc, err = m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusUploaded, Stage: "upload", Progress: &uploaded}); err != nil {
		return p.fail(ctx, logCtx, id, "upload", models.ErrorKindInternal, "failed to record upload", err)
	}

	ext, err := p.deps.Orchestrator.Extract(ctx, doc, data)
	if err != nil {
		return p.fail(ctx, logCtx, id, "ocr", "", "extraction failed", err)
	}
	ocrEnd := cp.OCREnd
	if doc, err = m.Transition(ctx, TransitionRequest{
		DocumentID: id,
		Status:     models.StatusOCRCompleted,
		Stage:      "ocr",
		Progress:   &ocrEnd,
		Message:    fmt.Sprintf("extracted %d page(s)", ext.PageCount),
		Output:     &models.StageOutput{OCRText: &ext.Text, Fragments: nonNil(ext.Fragments), PageCount: &ext.PageCount},
	}); err != nil {
		return p.fail(ctx, logCtx, id, "ocr", models.ErrorKindInternal, "failed to record extraction", err)
	}

	if p.deps.Handoff != nil {
		if err := p.deps.Handoff.OCRReady(ctx, models.HandoffRequest{
			DocumentID: id, PageCount: ext.PageCount, MimeType: doc.MimeType, UserID: doc.UserID,
		}); err != nil {
			logCtx.Warn("Failed to hand off OCR output.", "error", err)
		}
	}

	if _, err = m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusClassifying, Stage: "classification"}); err != nil {
		return p.fail(ctx, logCtx, id, "classification", models.ErrorKindInternal, "failed to start classification", err)
	}
	docType, err := p.deps.Classifier.Classify(ctx, doc.Filename, ext.Text)
	if err != nil {
		return p.fail(ctx, logCtx, id, "classification", models.ErrorKindInternal, "classification failed", err)
	}
	if _, err = m.Transition(ctx, TransitionRequest{
		DocumentID: id, Status: models.StatusClassified, Stage: "classification",
		Message: "classified as " + docType,
		Output:  &models.StageOutput{DocumentType: &docType},
	}); err != nil {
		return p.fail(ctx, logCtx, id, "classification", models.ErrorKindInternal, "failed to record classification", err)
	}

	var fields []models.Field
	if p.deps.Extractor != nil {
		if _, err = m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusExtracting, Stage: "field_extraction"}); err != nil {
			return p.fail(ctx, logCtx, id, "field_extraction", models.ErrorKindInternal, "failed to start field extraction", err)
		}
		if fields, err = p.deps.Extractor.ExtractFields(ctx, docType, ext.Text); err != nil {
			return p.fail(ctx, logCtx, id, "field_extraction", models.ErrorKindMapping, "field extraction failed", err)
		}
		if _, err = m.Transition(ctx, TransitionRequest{
			DocumentID: id, Status: models.StatusExtracted, Stage: "field_extraction",
			Message: fmt.Sprintf("extracted %d field(s)", len(fields)),
			Output:  &models.StageOutput{Fields: nonNil(fields)},
		}); err != nil {
			return p.fail(ctx, logCtx, id, "field_extraction", models.ErrorKindInternal, "failed to record fields", err)
		}
	}

	if p.deps.Mapper != nil && len(fields) > 0 {
		if _, err = m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusMapping, Stage: "mapping"}); err != nil {
			return p.fail(ctx, logCtx, id, "mapping", models.ErrorKindInternal, "failed to start mapping", err)
		}
		p.mu.Lock()
		contextData := p.contexts[id]
		p.mu.Unlock()
		resp, err := p.deps.Mapper.MapFields(ctx, NewMappingRequest(docType, fields, contextData))
		if err != nil {
			return p.fail(ctx, logCtx, id, "mapping", models.ErrorKindMapping, "field mapping failed", err)
		}
		if _, err = m.Transition(ctx, TransitionRequest{
			DocumentID: id, Status: models.StatusMapping, Stage: "mapping",
			Message: fmt.Sprintf("mapped %d field(s)", len(resp.MappedData)),
			Output:  &models.StageOutput{MappedFields: MappedFields(resp), Unmapped: nonNil(resp.UnmappedFields)},
		}); err != nil {
			return p.fail(ctx, logCtx, id, "mapping", models.ErrorKindInternal, "failed to record mapping", err)
		}
	}

	if _, err = m.Transition(ctx, TransitionRequest{DocumentID: id, Status: models.StatusCompleted, Stage: "complete", Message: "processing complete"}); err != nil {
		return p.fail(ctx, logCtx, id, "complete", models.ErrorKindInternal, "failed to complete", err)
	}
	logCtx.Info("Document processing complete.", "documentType", docType)
	return nil
}

// fail logs err, marks the document failed and returns the wrapped error.
// An empty kind is derived from err.
func (p *Pipeline) fail(ctx context.Context, logCtx *slog.Logger, id, stage, kind, message string, originalErr error) error {
	logCtx.Error(message, "stage", stage, "error", originalErr)

	info := models.ErrorInfoFrom(originalErr)
	if kind != "" {
		info.Kind = kind
		info.Detail = originalErr.Error()
		info.Message = message
	}
	if _, err := p.deps.Machine.Transition(ctx, TransitionRequest{
		DocumentID: id,
		Status:     models.StatusFailed,
		Stage:      stage,
		Error:      info,
	}); err != nil {
		logCtx.Error("CRITICAL: Failed to mark document as failed after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// Shutdown stops accepting documents and waits for in-flight processing.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

// DetectMimeType falls back to the file extension when the client sent no usable type.
func DetectMimeType(filename, declared string) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if declared != "" && declared != "application/octet-stream" {
		if i := strings.IndexByte(declared, ';'); i >= 0 {
			declared = strings.TrimSpace(declared[:i])
		}
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
