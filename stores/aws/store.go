package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"codocs/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// s3Store persists documents as JSON objects under documents/ and version
// records under versions/<docID>/. Listing scans the documents/ prefix and
// filters in process.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func docKey(id string) string {
	return "documents/" + id + ".json"
}

func versionKey(id string, revision int) string {
	return fmt.Sprintf("versions/%s/%08d.json", id, revision)
}

func (s *s3Store) getObject(ctx context.Context, key string, v any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

func (s *s3Store) putObject(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := s.getObject(ctx, docKey(id), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *s3Store) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := *document
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	now := time.Now()
	doc.Revision = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.putObject(ctx, docKey(doc.ID), &doc); err != nil {
		return "", err
	}
	if err := s.appendVersion(ctx, &doc); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"bucket":      s.bucket,
	}).Info("Document created")
	return doc.ID, nil
}

func (s *s3Store) UpdateContent(ctx context.Context, id, content string) (*core.Document, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc.Content = content
	doc.Revision++
	doc.UpdatedAt = time.Now()

	if err := s.putObject(ctx, docKey(id), doc); err != nil {
		return nil, err
	}
	if err := s.appendVersion(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *s3Store) SetCollaborators(ctx context.Context, id string, collaborators []core.Collaborator) (*core.Document, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc.Collaborators = append([]core.Collaborator(nil), collaborators...)
	doc.UpdatedAt = time.Now()

	if err := s.putObject(ctx, docKey(id), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *s3Store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Document, error) {
	return s.listWhere(ctx, func(doc *core.Document) bool {
		return doc.OwnerID == ownerID
	})
}

func (s *s3Store) ListByCollaborator(ctx context.Context, userID string) ([]*core.Document, error) {
	return s.listWhere(ctx, func(doc *core.Document) bool {
		return doc.CollaboratorLevel(userID) != core.PermissionNone
	})
}

func (s *s3Store) listWhere(ctx context.Context, match func(*core.Document) bool) ([]*core.Document, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("documents/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := []*core.Document{}
	for _, object := range output.Contents {
		var doc core.Document
		if err := s.getObject(ctx, *object.Key, &doc); err != nil {
			logrus.WithField("key", *object.Key).WithError(err).Warn("Skipping unreadable document object")
			continue
		}
		if match(&doc) {
			result = append(result, &doc)
		}
	}
	return result, nil
}

func (s *s3Store) Versions(ctx context.Context, id string) ([]*core.DocVersion, error) {
	if _, err := s.FindID(ctx, id); err != nil {
		return nil, err
	}

	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("versions/" + id + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", id, err)
	}

	keys := make([]string, 0, len(output.Contents))
	for _, object := range output.Contents {
		keys = append(keys, *object.Key)
	}
	sort.Strings(keys)

	versions := make([]*core.DocVersion, 0, len(keys))
	for _, key := range keys {
		var v core.DocVersion
		if err := s.getObject(ctx, key, &v); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, nil
}

func (s *s3Store) appendVersion(ctx context.Context, doc *core.Document) error {
	return s.putObject(ctx, versionKey(doc.ID, doc.Revision), &core.DocVersion{
		DocID:     doc.ID,
		Revision:  doc.Revision,
		Content:   doc.Content,
		CreatedAt: doc.UpdatedAt,
	})
}

var _ core.DocumentStore = (*s3Store)(nil)
