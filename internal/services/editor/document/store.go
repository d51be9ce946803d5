// Package document holds canonical office document content and the
// authoritative in-memory table of uploaded documents.
package document

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/platform/id"
)

const maxIDAttempts = 8

// Document is a point-in-time snapshot of one uploaded document.
type Document struct {
	ID        string
	Name      string
	Kind      Kind
	Format    Format
	Content   Content
	Editors   map[string]string // identity -> last reported position
	Path      string
	CreatedAt time.Time
}

// Summary describes a document for listings.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        Kind      `json:"type"`
	EditorCount int       `json:"editor_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type record struct {
	mu  sync.Mutex
	doc Document
}

// snapshot copies the record. Callers must hold r.mu.
func (r *record) snapshot() Document {
	doc := r.doc
	doc.Editors = maps.Clone(r.doc.Editors)
	return doc
}

// Store is the in-memory document table. Operations on one document are
// serialized by that document's lock; different documents never contend
// beyond the table lookup.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	newID   func() (string, error)
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*record),
		newID:   id.NewID,
		now:     time.Now,
	}
}

// Create inserts a new document with an empty editor mapping and returns
// its generated id.
func (s *Store) Create(name string, format Format, content Content, path string) (string, error) {
	if !format.Valid() {
		return "", apperrors.WithMetadata(apperrors.CodeUnsupportedFormat, fmt.Sprintf("unsupported format %q", format), map[string]string{"format": string(format)})
	}
	if content.Kind() != format.Kind() {
		return "", apperrors.New(apperrors.CodeCorruptDocument, fmt.Sprintf("%s content does not fit %s format", content.Kind(), format))
	}

	rec := &record{doc: Document{
		Name:      name,
		Kind:      format.Kind(),
		Format:    format,
		Content:   content,
		Editors:   make(map[string]string),
		Path:      path,
		CreatedAt: s.now().UTC(),
	}}

	s.mu.Lock()
	defer s.mu.Unlock()
	for range maxIDAttempts {
		docID, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("generate document id: %w", err)
		}
		if _, exists := s.records[docID]; exists {
			continue
		}
		rec.doc.ID = docID
		s.records[docID] = rec
		return docID, nil
	}
	return "", fmt.Errorf("generate document id: %d collisions", maxIDAttempts)
}

// Get returns a snapshot of the document.
func (s *Store) Get(docID string) (Document, error) {
	rec, err := s.lookup(docID)
	if err != nil {
		return Document{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// List returns summaries of every document, oldest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	records := slices.Collect(maps.Values(s.records))
	s.mu.RUnlock()

	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		summaries = append(summaries, Summary{
			ID:          rec.doc.ID,
			Name:        rec.doc.Name,
			Kind:        rec.doc.Kind,
			EditorCount: len(rec.doc.Editors),
			CreatedAt:   rec.doc.CreatedAt,
		})
		rec.mu.Unlock()
	}
	slices.SortFunc(summaries, func(a, b Summary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return summaries
}

// ReplaceContent swaps the document content. There is no merge and no version
// check: the last call applied wins.
func (s *Store) ReplaceContent(docID string, content Content) error {
	return s.mutate(docID, func(rec *record) error {
		return rec.replace(content)
	})
}

// SetEditorPosition records identity's position and returns the resulting
// snapshot.
func (s *Store) SetEditorPosition(docID, identity, position string) (Document, error) {
	var snap Document
	err := s.mutate(docID, func(rec *record) error {
		rec.doc.Editors[identity] = position
		snap = rec.snapshot()
		return nil
	})
	return snap, err
}

// RemoveEditor drops identity from the editor mapping. The bool reports
// whether identity was present.
func (s *Store) RemoveEditor(docID, identity string) (Document, bool, error) {
	var (
		snap    Document
		removed bool
	)
	err := s.mutate(docID, func(rec *record) error {
		_, removed = rec.doc.Editors[identity]
		delete(rec.doc.Editors, identity)
		snap = rec.snapshot()
		return nil
	})
	return snap, removed, err
}

// ApplyEdit replaces the content and records identity's position under one
// lock, returning exactly the committed state.
func (s *Store) ApplyEdit(docID, identity string, content Content, position string) (Document, error) {
	var snap Document
	err := s.mutate(docID, func(rec *record) error {
		if err := rec.replace(content); err != nil {
			return err
		}
		rec.doc.Editors[identity] = position
		snap = rec.snapshot()
		return nil
	})
	return snap, err
}

// replace swaps content. Callers must hold r.mu.
func (r *record) replace(content Content) error {
	if content.Kind() != r.doc.Kind {
		return apperrors.New(apperrors.CodeCorruptDocument, fmt.Sprintf("%s content does not fit %s document", content.Kind(), r.doc.Kind))
	}
	r.doc.Content = content
	return nil
}

func (s *Store) mutate(docID string, fn func(*record) error) error {
	rec, err := s.lookup(docID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return fn(rec)
}

func (s *Store) lookup(docID string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.records[docID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, fmt.Sprintf("document %q not found", docID), map[string]string{"document_id": docID})
	}
	return rec, nil
}
