package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentintake/internal/extraction"
	"github.com/Lllllllleong/documentintake/internal/models"
)

// PageDelimiter separates segment texts in the aggregated OCR text.
const PageDelimiter = "\n\n---\n\n"

// TaskRunner executes one Segment Task and waits for its result.
type TaskRunner interface {
	Submit(ctx context.Context, task extraction.SegmentTask) (extraction.Result, error)
}

// OrchestratorConfig controls how images are decomposed.
type OrchestratorConfig struct {
	// TileThreshold is the side length at which an image is tiled.
	TileThreshold int
	TileSize      int
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{TileThreshold: 2000, TileSize: 1500}
}

// Plan is the decomposition of one document into Segment Tasks.
type Plan struct {
	Tasks []extraction.SegmentTask
	// Width and Height are set for image documents.
	Width     int
	Height    int
	PageCount int
}

// Extraction is the aggregated output of a document's tasks.
type Extraction struct {
	Text      string
	Fragments []models.TextFragment
	PageCount int
}

// Orchestrator splits a document into Segment Tasks, runs them on the pool and
// aggregates the results.
type Orchestrator struct {
	runner   TaskRunner
	splitter PageSplitter
	machine  *StateMachine
	cfg      OrchestratorConfig
	logger   *slog.Logger
}

func NewOrchestrator(runner TaskRunner, splitter PageSplitter, machine *StateMachine, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOrchestratorConfig()
	if cfg.TileThreshold <= 0 {
		cfg.TileThreshold = def.TileThreshold
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	return &Orchestrator{runner: runner, splitter: splitter, machine: machine, cfg: cfg, logger: logger}
}

// Plan decomposes payload according to its media type.
func (o *Orchestrator) Plan(ctx context.Context, documentID, mimeType string, payload []byte) (*Plan, error) {
	if len(payload) == 0 {
		return nil, &models.ValidationError{Field: "payload", Message: "document is empty"}
	}
	switch {
	case mimeType == "application/pdf":
		return o.planPDF(ctx, documentID, payload)
	case strings.HasPrefix(mimeType, "image/"):
		return o.planImage(documentID, mimeType, payload)
	default:
		return nil, &models.ValidationError{Field: "mimeType", Message: fmt.Sprintf("unsupported media type %q", mimeType)}
	}
}

func (o *Orchestrator) planPDF(ctx context.Context, documentID string, payload []byte) (*Plan, error) {
	if o.splitter == nil {
		return nil, &models.ValidationError{Field: "mimeType", Message: "PDF input is not enabled"}
	}
	pages, err := o.splitter.Split(ctx, payload)
	if err != nil {
		return nil, err
	}
	plan := &Plan{PageCount: len(pages)}
	for i, page := range pages {
		plan.Tasks = append(plan.Tasks, extraction.SegmentTask{
			DocumentID: documentID,
			Kind:       extraction.KindPage,
			Index:      i,
			Page:       i + 1,
			Payload:    page,
			MimeType:   "application/pdf",
		})
	}
	return plan, nil
}

func (o *Orchestrator) planImage(documentID, mimeType string, payload []byte) (*Plan, error) {
	cfg, err := extraction.DecodeImageConfig(payload)
	if err != nil {
		return nil, &models.ValidationError{Field: "payload", Message: err.Error()}
	}
	plan := &Plan{Width: cfg.Width, Height: cfg.Height, PageCount: 1}
	if cfg.Width < o.cfg.TileThreshold && cfg.Height < o.cfg.TileThreshold {
		plan.Tasks = []extraction.SegmentTask{{
			DocumentID: documentID,
			Kind:       extraction.KindWholeImage,
			Page:       1,
			Payload:    payload,
			MimeType:   mimeType,
			Width:      cfg.Width,
			Height:     cfg.Height,
		}}
		return plan, nil
	}

	img, _, err := extraction.DecodeImage(payload)
	if err != nil {
		return nil, &models.ValidationError{Field: "payload", Message: err.Error()}
	}
	for i, tile := range extraction.PlanTiles(cfg.Width, cfg.Height, o.cfg.TileSize) {
		// Tile rects are relative to the decoded image origin.
		rect := tile.Rect.Add(img.Bounds().Min)
		crop, err := extraction.CropPNG(img, rect)
		if err != nil {
			return nil, fmt.Errorf("failed to crop tile %d: %w", i+1, err)
		}
		plan.Tasks = append(plan.Tasks, extraction.SegmentTask{
			DocumentID: documentID,
			Kind:       extraction.KindImageTile,
			Index:      i,
			Page:       1,
			Payload:    crop,
			MimeType:   "image/png",
			Offset:     tile.Offset(),
			Width:      tile.Rect.Dx(),
			Height:     tile.Rect.Dy(),
		})
	}
	return plan, nil
}

// Extract plans doc, moves it into ocr_processing, runs every task and
// aggregates the results. Any failed task fails the whole extraction and the
// lowest-index failure is returned. It does not record the failure.
func (o *Orchestrator) Extract(ctx context.Context, doc *models.Document, payload []byte) (*Extraction, error) {
	logCtx := o.logger.With("documentId", doc.ID)

	plan, err := o.Plan(ctx, doc.ID, doc.MimeType, payload)
	if err != nil {
		return nil, err
	}
	cp := o.machine.Checkpoints()
	start := cp.OCRStart
	if _, err := o.machine.Transition(ctx, TransitionRequest{
		DocumentID: doc.ID,
		Status:     models.StatusOCRProcessing,
		Stage:      "ocr",
		Progress:   &start,
		Message:    fmt.Sprintf("extracting %d segment(s)", len(plan.Tasks)),
	}); err != nil {
		return nil, err
	}
	logCtx.Info("Dispatching segment tasks.", "taskCount", len(plan.Tasks), "pageCount", plan.PageCount)

	total := len(plan.Tasks)
	results := make([]extraction.Result, total)
	errs := make([]error, total)
	var (
		mu   sync.Mutex
		done int
		g    errgroup.Group
	)
	for i, task := range plan.Tasks {
		g.Go(func() error {
			res, err := o.runner.Submit(ctx, task)
			if err != nil {
				errs[i] = err
				return err
			}
			results[i] = res

			// Ticks are recorded in completion order so progress rises on every entry.
			mu.Lock()
			defer mu.Unlock()
			done++
			progress := cp.OCRProgress(done, total)
			if _, err := o.machine.Transition(ctx, TransitionRequest{
				DocumentID: doc.ID,
				Status:     models.StatusOCRProcessing,
				Stage:      "ocr",
				Progress:   &progress,
				Message:    task.Label() + " extracted",
			}); err != nil {
				logCtx.Warn("Failed to record extraction progress.", "segment", task.Label(), "error", err)
			}
			return nil
		})
	}
	// Every task runs to completion; the first error by index is reported.
	_ = g.Wait()
	for i, err := range errs {
		if err != nil {
			logCtx.Error("Segment extraction failed.", "segment", plan.Tasks[i].Label(), "error", err)
			return nil, err
		}
	}

	ext := Aggregate(plan, results)
	logCtx.Info("Extraction complete.", "fragmentCount", len(ext.Fragments))
	return ext, nil
}

// Aggregate joins results in task order. Tile fragments are moved into source
// image coordinates and clipped to the image.
func Aggregate(plan *Plan, results []extraction.Result) *Extraction {
	texts := make([]string, 0, len(results))
	var fragments []models.TextFragment
	for i, res := range results {
		texts = append(texts, res.Text)
		task := plan.Tasks[i]
		for _, f := range res.Fragments {
			if f.Page == 0 {
				f.Page = task.Page
			}
			if task.Kind == extraction.KindImageTile {
				f.Box = f.Box.Translate(float64(task.Offset.X), float64(task.Offset.Y)).
					Clip(float64(plan.Width), float64(plan.Height))
			}
			fragments = append(fragments, f)
		}
	}
	return &Extraction{
		Text:      strings.Join(texts, PageDelimiter),
		Fragments: fragments,
		PageCount: plan.PageCount,
	}
}
