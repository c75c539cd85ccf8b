package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"codocs/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore persists documents as JSON files under basePath/documents and
// version records under basePath/versions/<docID>. A process-wide mutex
// serializes writes; the real concurrency control lives in the cache layer
// above, which only ever flushes one write per document at a time.
type fsStore struct {
	mu       sync.Mutex
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{
		filepath.Join(basePath, "documents"),
		filepath.Join(basePath, "versions"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) docPath(id string) (string, error) {
	if id == "" || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(s.basePath, "documents", id+".json"), nil
}

func (s *fsStore) readDoc(id string) (*core.Document, error) {
	path, err := s.docPath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *fsStore) writeDoc(doc *core.Document) error {
	path, err := s.docPath(doc.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *fsStore) appendVersion(doc *core.Document) error {
	dir := filepath.Join(s.basePath, "versions", doc.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	version := core.DocVersion{
		DocID:     doc.ID,
		Revision:  doc.Revision,
		Content:   doc.Content,
		CreatedAt: doc.UpdatedAt,
	}
	data, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%08d.json", doc.Revision)), data, 0644)
}

func (s *fsStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDoc(id)
}

func (s *fsStore) Create(ctx context.Context, document *core.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := *document
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.Revision = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.writeDoc(&doc); err != nil {
		return "", err
	}
	if err := s.appendVersion(&doc); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"base_path":   s.basePath,
	}).Info("Document created")
	return doc.ID, nil
}

func (s *fsStore) UpdateContent(ctx context.Context, id, content string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc(id)
	if err != nil {
		return nil, err
	}

	doc.Content = content
	doc.Revision++
	doc.UpdatedAt = time.Now()

	if err := s.writeDoc(doc); err != nil {
		return nil, err
	}
	if err := s.appendVersion(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) SetCollaborators(ctx context.Context, id string, collaborators []core.Collaborator) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDoc(id)
	if err != nil {
		return nil, err
	}

	doc.Collaborators = append([]core.Collaborator(nil), collaborators...)
	doc.UpdatedAt = time.Now()

	if err := s.writeDoc(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	return s.listWhere(func(doc *core.Document) bool {
		return doc.OwnerID == ownerID
	})
}

func (s *fsStore) ListByCollaborator(ctx context.Context, userID string) ([]*core.Document, error) {
	return s.listWhere(func(doc *core.Document) bool {
		return doc.CollaboratorLevel(userID) != core.PermissionNone
	})
}

func (s *fsStore) listWhere(match func(*core.Document) bool) ([]*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(filepath.Join(s.basePath, "documents"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Document{}, nil
		}
		return nil, err
	}

	result := []*core.Document{}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		id := file.Name()
		if ext := filepath.Ext(id); ext == ".json" {
			id = id[:len(id)-len(ext)]
		}
		doc, err := s.readDoc(id)
		if err != nil {
			logrus.WithField("file", file.Name()).WithError(err).Warn("Skipping unreadable document file")
			continue
		}
		if match(doc) {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *fsStore) Versions(ctx context.Context, id string) ([]*core.DocVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readDoc(id); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.basePath, "versions", id)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.DocVersion{}, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if !file.IsDir() {
			names = append(names, file.Name())
		}
	}
	sort.Strings(names)

	versions := make([]*core.DocVersion, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var v core.DocVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, nil
}

var _ core.DocumentStore = (*fsStore)(nil)
