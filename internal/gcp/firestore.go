package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentintake/internal/models"
)

const historyCollection = "history"

// NewFirestoreClient creates a Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreRepository keeps one Firestore document per record, with its
// history in a "history" subcollection.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestoreRepository(client *firestore.Client, collection string, logger *slog.Logger) *FirestoreRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreRepository{client: client, collection: collection, logger: logger}
}

// historyRecord adds an ordering key to a history entry.
type historyRecord struct {
	models.HistoryEntry
	Seq int64 `firestore:"seq"`
}

func (r *FirestoreRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *FirestoreRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := r.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, &models.NotFoundError{DocumentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}

func (r *FirestoreRepository) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return &models.ValidationError{Field: "documentId", Message: "must be set"}
	}
	if _, err := r.doc(doc.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("failed to create document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *FirestoreRepository) UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error {
	updates := patchUpdates(patch)
	if len(updates) == 0 {
		_, err := r.GetDocument(ctx, id)
		return err
	}
	_, err := r.doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return &models.NotFoundError{DocumentID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return nil
}

func patchUpdates(p models.DocumentPatch) []firestore.Update {
	var updates []firestore.Update
	if p.State != nil {
		updates = append(updates, firestore.Update{Path: "processingState", Value: *p.State})
	}
	if p.RetryCount != nil {
		updates = append(updates, firestore.Update{Path: "retryCount", Value: *p.RetryCount})
	}
	if p.OCRText != nil {
		updates = append(updates, firestore.Update{Path: "ocrText", Value: *p.OCRText})
	}
	if p.Fragments != nil {
		updates = append(updates, firestore.Update{Path: "fragments", Value: p.Fragments})
	}
	if p.PageCount != nil {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: *p.PageCount})
	}
	if p.DocumentType != nil {
		updates = append(updates, firestore.Update{Path: "documentType", Value: *p.DocumentType})
	}
	if p.Fields != nil {
		updates = append(updates, firestore.Update{Path: "fields", Value: p.Fields})
	}
	if p.MappedFields != nil {
		updates = append(updates, firestore.Update{Path: "mappedFields", Value: p.MappedFields})
	}
	if p.Unmapped != nil {
		updates = append(updates, firestore.Update{Path: "unmappedFields", Value: p.Unmapped})
	}
	return updates
}

func (r *FirestoreRepository) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	rec := historyRecord{HistoryEntry: entry, Seq: time.Now().UnixNano()}
	if _, _, err := r.doc(id).Collection(historyCollection).Add(ctx, rec); err != nil {
		return fmt.Errorf("failed to append history for %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreRepository) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if _, err := r.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	iter := r.doc(id).Collection(historyCollection).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []models.HistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read history for %s: %w", id, err)
		}
		var rec historyRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode history entry %s: %w", snap.Ref.ID, err)
		}
		out = append(out, rec.HistoryEntry)
	}
	return out, nil
}

// FindByHash returns the id of a document with the given content hash.
func (r *FirestoreRepository) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	iter := r.client.Collection(r.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	r.logger.Info("Duplicate file detected.", "fileHash", fileHash, "documentId", snap.Ref.ID)
	return snap.Ref.ID, true, nil
}
