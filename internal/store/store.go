// Package store defines the persistence and object-store contracts the processing
// core depends on, plus in-memory and Postgres implementations.
package store

import (
	"context"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// Repository is the persistence service for document records and their history.
// GetDocument and UpdateDocument return *models.NotFoundError for unknown ids.
type Repository interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocument(ctx context.Context, id string, patch models.DocumentPatch) error
	AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
}

// HashIndex is implemented by repositories that can look documents up by content hash.
type HashIndex interface {
	FindByHash(ctx context.Context, fileHash string) (id string, found bool, err error)
}

// ObjectStore holds the original file bytes.
type ObjectStore interface {
	GetBytes(ctx context.Context, path string) ([]byte, error)
	PutBytes(ctx context.Context, path string, data []byte, metadata map[string]string) error
}

// ObjectPath is the object-store path of a document's original bytes.
func ObjectPath(documentID, filename string) string {
	if filename == "" {
		filename = "original"
	}
	return documentID + "/" + filename
}
