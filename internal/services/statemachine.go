package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/store"
)

// Publisher hands events to the broadcast fabric.
type Publisher interface {
	Publish(ctx context.Context, evt models.Event) error
}

// TransitionRequest asks the state machine to move a document to Status.
type TransitionRequest struct {
	DocumentID string
	Status     models.Status
	// Stage defaults to the status name.
	Stage string
	// Progress is a floor; it never lowers the stored value.
	Progress *int
	Error    *models.ErrorInfo
	// Message is written to the history entry.
	Message string
	Output  *models.StageOutput
}

// StateMachine is the only writer of document processing state.
type StateMachine struct {
	repo        store.Repository
	publisher   Publisher
	checkpoints models.Checkpoints
	logger      *slog.Logger
	locks       *keyedMutex
	now         func() time.Time
}

// NewStateMachine creates a StateMachine. publisher may be nil.
func NewStateMachine(repo store.Repository, publisher Publisher, checkpoints models.Checkpoints, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		repo:        repo,
		publisher:   publisher,
		checkpoints: checkpoints,
		logger:      logger,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Checkpoints returns the progress checkpoints in use.
func (m *StateMachine) Checkpoints() models.Checkpoints { return m.checkpoints }

// Transition validates and applies req, appends a history entry and publishes
// exactly one event for every persisted state. A failed history append is
// logged. It returns the updated document.
func (m *StateMachine) Transition(ctx context.Context, req TransitionRequest) (*models.Document, error) {
	if req.DocumentID == "" {
		return nil, &models.ValidationError{Field: "documentId", Message: "must be set"}
	}
	if !req.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", req.Status)}
	}

	unlock := m.locks.Lock(req.DocumentID)
	defer unlock()

	doc, err := m.repo.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	from, to := doc.State.Status, req.Status
	if !allowed(from, to) {
		return nil, &models.TransitionError{DocumentID: req.DocumentID, From: from, To: to}
	}
	retry := from == models.StatusFailed && to == models.StatusQueued

	state := models.ProcessingState{
		Status:       to,
		CurrentStage: req.Stage,
		Progress:     m.progress(doc.State.Progress, req.Progress, to, retry),
		LastUpdated:  m.now(),
	}
	if state.CurrentStage == "" {
		state.CurrentStage = string(to)
	}
	if to == models.StatusFailed {
		state.Error = req.Error
		if state.Error == nil {
			state.Error = &models.ErrorInfo{Kind: models.ErrorKindInternal, Message: "processing failed"}
		}
	}

	patch := models.DocumentPatch{State: &state}
	if retry {
		n := doc.RetryCount + 1
		patch.RetryCount = &n
	}
	if out := req.Output; out != nil {
		patch.OCRText = out.OCRText
		patch.Fragments = out.Fragments
		patch.PageCount = out.PageCount
		patch.DocumentType = out.DocumentType
		patch.Fields = out.Fields
		patch.MappedFields = out.MappedFields
		patch.Unmapped = out.Unmapped
	}
	if err := m.repo.UpdateDocument(ctx, req.DocumentID, patch); err != nil {
		return nil, fmt.Errorf("failed to persist transition %s -> %s: %w", from, to, err)
	}

	msg := req.Message
	if msg == "" {
		msg = "transitioned to " + string(to)
		if state.Error != nil {
			msg = state.Error.Message
		}
	}
	entry := models.HistoryEntry{
		Timestamp: state.LastUpdated,
		Stage:     state.CurrentStage,
		Status:    to,
		Message:   msg,
		Progress:  state.Progress,
	}
	if err := m.repo.AppendHistory(ctx, req.DocumentID, entry); err != nil {
		// The state is already persisted, so the transition still stands and is published.
		m.logger.Warn("Failed to append history entry.", "documentId", req.DocumentID, "status", to, "error", err)
	}

	patch.Apply(doc)
	m.publish(ctx, doc, from)
	return doc, nil
}

// allowed reports whether from -> to is a legal move.
func allowed(from, to models.Status) bool {
	switch {
	case from == models.StatusCompleted:
		return false
	case from == models.StatusFailed:
		return to == models.StatusQueued
	case to == models.StatusFailed:
		return true
	default:
		return to.Rank() >= from.Rank()
	}
}

func (m *StateMachine) progress(current int, requested *int, to models.Status, retry bool) int {
	switch {
	case retry:
		return m.checkpoints.Queued
	case to == models.StatusCompleted:
		return 100
	}
	p := current
	if requested != nil && *requested > p {
		p = *requested
	}
	return min(max(p, 0), 99)
}

func (m *StateMachine) publish(ctx context.Context, doc *models.Document, from models.Status) {
	if m.publisher == nil {
		return
	}
	evt := models.NewEvent(doc.ID, doc.UserID, eventData(doc, from))
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("Failed to publish state event.", "documentId", doc.ID, "event", evt.Type(), "error", err)
	}
}

func eventData(doc *models.Document, from models.Status) models.EventData {
	s := doc.State
	switch {
	case s.Status == models.StatusFailed:
		info := models.ErrorInfo{}
		if s.Error != nil {
			info = *s.Error
		}
		return models.ErrorData{Stage: s.CurrentStage, Progress: s.Progress, Error: info, Timestamp: s.LastUpdated}
	case s.Status == models.StatusCompleted:
		return models.CompletedData{Stage: s.CurrentStage, Progress: s.Progress, DocumentType: doc.DocumentType, PageCount: doc.PageCount, Timestamp: s.LastUpdated}
	case s.Status == models.StatusOCRProcessing && from != models.StatusOCRProcessing:
		return models.StartedData{Stage: s.CurrentStage, Progress: s.Progress, Timestamp: s.LastUpdated}
	case s.Status == from:
		return models.ProgressData{Status: s.Status, Stage: s.CurrentStage, Progress: s.Progress, Timestamp: s.LastUpdated}
	default:
		return models.StateChangedData{From: from, To: s.Status, Stage: s.CurrentStage, Progress: s.Progress, Timestamp: s.LastUpdated}
	}
}

// keyedMutex serializes work per key. Entries are dropped when no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
