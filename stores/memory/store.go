package memory

import (
	"context"
	"sync"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore keeps documents and their version history in process memory.
// It is the default backend and the one the test suites run against.
type memStore struct {
	mu       sync.RWMutex
	docs     map[string]*core.Document
	versions map[string][]*core.DocVersion
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		docs:     make(map[string]*core.Document),
		versions: make(map[string][]*core.DocVersion),
	}
}

func cloneDoc(d *core.Document) *core.Document {
	c := *d
	c.Collaborators = append([]core.Collaborator(nil), d.Collaborators...)
	return &c
}

func (s *memStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (s *memStore) Create(ctx context.Context, document *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := cloneDoc(document)
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.Revision = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.docs[doc.ID] = doc
	s.appendVersionLocked(doc)

	logrus.WithField("document_id", doc.ID).Info("Document created")
	return doc.ID, nil
}

func (s *memStore) UpdateContent(ctx context.Context, id, content string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}

	doc.Content = content
	doc.Revision++
	doc.UpdatedAt = time.Now()
	s.appendVersionLocked(doc)

	return cloneDoc(doc), nil
}

func (s *memStore) SetCollaborators(ctx context.Context, id string, collaborators []core.Collaborator) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}

	doc.Collaborators = append([]core.Collaborator(nil), collaborators...)
	doc.UpdatedAt = time.Now()

	return cloneDoc(doc), nil
}

func (s *memStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*core.Document{}
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID {
			result = append(result, cloneDoc(doc))
		}
	}
	return result, nil
}

func (s *memStore) ListByCollaborator(ctx context.Context, userID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*core.Document{}
	for _, doc := range s.docs {
		if doc.CollaboratorLevel(userID) != core.PermissionNone {
			result = append(result, cloneDoc(doc))
		}
	}
	return result, nil
}

func (s *memStore) Versions(ctx context.Context, id string) ([]*core.DocVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.docs[id]; !ok {
		return nil, core.ErrNotFound
	}

	versions := s.versions[id]
	result := make([]*core.DocVersion, len(versions))
	for i, v := range versions {
		c := *v
		result[i] = &c
	}
	return result, nil
}

func (s *memStore) appendVersionLocked(doc *core.Document) {
	s.versions[doc.ID] = append(s.versions[doc.ID], &core.DocVersion{
		DocID:     doc.ID,
		Revision:  doc.Revision,
		Content:   doc.Content,
		CreatedAt: doc.UpdatedAt,
	})
}

var _ core.DocumentStore = (*memStore)(nil)
