package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/documentintake/internal/models"
)

// MemoryRepository is an in-process Repository used by tests and local runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	docs    map[string]*models.Document
	history map[string][]models.HistoryEntry
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:    make(map[string]*models.Document),
		history: make(map[string][]models.HistoryEntry),
	}
}

func (r *MemoryRepository) GetDocument(_ context.Context, id string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, &models.NotFoundError{DocumentID: id}
	}
	return doc.Clone(), nil
}

func (r *MemoryRepository) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return &models.ValidationError{Field: "documentId", Message: "must be set"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return fmt.Errorf("document %q already exists", doc.ID)
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

func (r *MemoryRepository) UpdateDocument(_ context.Context, id string, patch models.DocumentPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return &models.NotFoundError{DocumentID: id}
	}
	patch.Apply(doc)
	return nil
}

func (r *MemoryRepository) AppendHistory(_ context.Context, id string, entry models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return &models.NotFoundError{DocumentID: id}
	}
	r.history[id] = append(r.history[id], entry)
	return nil
}

func (r *MemoryRepository) History(_ context.Context, id string) ([]models.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.docs[id]; !ok {
		return nil, &models.NotFoundError{DocumentID: id}
	}
	return append([]models.HistoryEntry(nil), r.history[id]...), nil
}

func (r *MemoryRepository) FindByHash(_ context.Context, fileHash string) (string, bool, error) {
	if fileHash == "" {
		return "", false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, doc := range r.docs {
		if doc.FileHash == fileHash {
			return id, true, nil
		}
	}
	return "", false, nil
}

// MemoryObjectStore is an in-process ObjectStore.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

// NewMemoryObjectStore creates an empty MemoryObjectStore.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (s *MemoryObjectStore) GetBytes(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q not found", path)
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryObjectStore) PutBytes(_ context.Context, path string, data []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	m := make(map[string]string, len(metadata))
	for k, v := range metadata {
		m[k] = v
	}
	s.meta[path] = m
	return nil
}

// Metadata returns the metadata stored with path.
func (s *MemoryObjectStore) Metadata(path string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[path]
}
