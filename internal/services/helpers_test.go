package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentintake/internal/extraction"
	"github.com/Lllllllleong/documentintake/internal/models"
	"github.com/Lllllllleong/documentintake/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) snapshot() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

func (p *recordingPublisher) count(t models.EventType) int {
	n := 0
	for _, e := range p.snapshot() {
		if e.Type() == t {
			n++
		}
	}
	return n
}

// fakeSplitter returns n fake page payloads "page-1".."page-n".
type fakeSplitter struct{ n int }

func (s fakeSplitter) Split(context.Context, []byte) ([][]byte, error) {
	pages := make([][]byte, s.n)
	for i := range pages {
		pages[i] = []byte(fmt.Sprintf("page-%d", i+1))
	}
	return pages, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// pageEngine echoes the payload and fails the listed pages.
func pageEngine(failPages ...int) extraction.EngineFunc {
	return func(_ context.Context, task extraction.SegmentTask) (extraction.Result, error) {
		for _, p := range failPages {
			if task.Page == p {
				return extraction.Result{}, errors.New("unreadable scan")
			}
		}
		return extraction.Result{
			Text: "text of " + task.Label(),
			Fragments: []models.TextFragment{{
				Text: task.Label(),
				Box:  models.BoundingBox{X: 1, Y: 1, Width: 10, Height: 5},
			}},
		}, nil
	}
}

type harness struct {
	repo      *store.MemoryRepository
	objects   *store.MemoryObjectStore
	publisher *recordingPublisher
	machine   *StateMachine
	pool      *extraction.Pool
	pipeline  *Pipeline
}

type harnessOption func(*PipelineDeps)

func newHarness(t *testing.T, engine extraction.Engine, splitter PageSplitter, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		repo:      store.NewMemoryRepository(),
		objects:   store.NewMemoryObjectStore(),
		publisher: &recordingPublisher{},
	}
	h.machine = NewStateMachine(h.repo, h.publisher, models.DefaultCheckpoints(), nil)
	h.pool = extraction.NewPool(engine, nil, extraction.WithWorkers(3))
	t.Cleanup(func() { h.pool.Shutdown(context.Background()) })

	deps := PipelineDeps{
		Repo:         h.repo,
		Objects:      h.objects,
		Machine:      h.machine,
		Orchestrator: NewOrchestrator(h.pool, splitter, h.machine, DefaultOrchestratorConfig(), nil),
	}
	for _, o := range opts {
		o(&deps)
	}
	h.pipeline = NewPipeline(deps)
	return h
}

// register creates a queued document without starting it.
func (h *harness) register(t *testing.T, filename, mime string, data []byte) *models.Document {
	t.Helper()
	doc, err := h.pipeline.Register(context.Background(), UploadRequest{Filename: filename, MimeType: mime, Data: data, UserID: "user-1"})
	require.NoError(t, err)
	return doc
}

func (h *harness) waitForStatus(t *testing.T, id string, want models.Status) *models.Document {
	t.Helper()
	var doc *models.Document
	require.Eventually(t, func() bool {
		d, err := h.repo.GetDocument(context.Background(), id)
		if err != nil {
			return false
		}
		doc = d
		return d.State.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return doc
}

// distinctProgress collapses consecutive repeats in a progress sequence.
func distinctProgress(history []models.HistoryEntry) []int {
	var out []int
	for _, e := range history {
		if len(out) == 0 || out[len(out)-1] != e.Progress {
			out = append(out, e.Progress)
		}
	}
	return out
}
