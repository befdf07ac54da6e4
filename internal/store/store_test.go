package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentintake/internal/models"
)

func newDoc(id string) *models.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Document{
		ID:        id,
		Filename:  "scan.png",
		MimeType:  "image/png",
		Size:      42,
		State:     models.ProcessingState{Status: models.StatusQueued, CurrentStage: "queued", Progress: 10, LastUpdated: now},
		CreatedAt: now,
	}
}

// exerciseRepository runs the shared contract against any Repository.
func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := repo.GetDocument(ctx, id)
	assert.True(t, models.IsNotFound(err), "expected not found, got %v", err)
	assert.True(t, models.IsNotFound(repo.UpdateDocument(ctx, id, models.DocumentPatch{RetryCount: new(int)})))

	require.NoError(t, repo.CreateDocument(ctx, newDoc(id)))

	text := "page one"
	pages := 1
	require.NoError(t, repo.UpdateDocument(ctx, id, models.DocumentPatch{
		State: &models.ProcessingState{
			Status:       models.StatusFailed,
			CurrentStage: "ocr",
			Progress:     40,
			LastUpdated:  time.Now().UTC(),
			Error:        &models.ErrorInfo{Kind: models.ErrorKindExtraction, Message: "page 1 failed"},
		},
		OCRText:   &text,
		PageCount: &pages,
		Fragments: []models.TextFragment{{Text: "page", Page: 1, Box: models.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}}},
	}))

	got, err := repo.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.State.Status)
	assert.Equal(t, 40, got.State.Progress)
	require.NotNil(t, got.State.Error)
	assert.Equal(t, "page 1 failed", got.State.Error.Message)
	assert.Equal(t, "page one", got.OCRText)
	assert.Equal(t, 1, got.PageCount)
	require.Len(t, got.Fragments, 1)
	assert.Equal(t, 3.0, got.Fragments[0].Box.Width)

	for i, st := range []models.Status{models.StatusQueued, models.StatusUploading, models.StatusFailed} {
		require.NoError(t, repo.AppendHistory(ctx, id, models.HistoryEntry{
			Timestamp: time.Now().UTC(), Stage: string(st), Status: st, Message: "step", Progress: i * 10,
		}))
	}
	hist, err := repo.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, models.StatusQueued, hist[0].Status)
	assert.Equal(t, models.StatusFailed, hist[2].Status)

	if idx, ok := repo.(HashIndex); ok {
		hashed := newDoc(uuid.NewString())
		hashed.FileHash = "hash-" + hashed.ID
		require.NoError(t, repo.CreateDocument(ctx, hashed))
		found, ok, err := idx.FindByHash(ctx, hashed.FileHash)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, hashed.ID, found)
		_, ok, err = idx.FindByHash(ctx, "no-such-hash")
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.CreateDocument(ctx, newDoc("a")))

	doc, err := repo.GetDocument(ctx, "a")
	require.NoError(t, err)
	doc.State.Status = models.StatusCompleted

	again, err := repo.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, again.State.Status)
	assert.Error(t, repo.CreateDocument(ctx, newDoc("a")))
}

func TestMemoryObjectStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryObjectStore()

	_, err := s.GetBytes(ctx, "missing")
	assert.Error(t, err)

	require.NoError(t, s.PutBytes(ctx, ObjectPath("doc", "a.pdf"), []byte("%PDF"), map[string]string{"documentId": "doc"}))
	b, err := s.GetBytes(ctx, "doc/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), b)
	assert.Equal(t, "doc", s.Metadata("doc/a.pdf")["documentId"])
	assert.Equal(t, "doc/original", ObjectPath("doc", ""))
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	repo, err := OpenPostgres(context.Background(), PostgresConfig{DSN: dsn, DialTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)
}
