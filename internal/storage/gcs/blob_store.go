// Package gcs archives raw Analyzer output in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Config selects the bucket and an optional key prefix inside it.
type Config struct {
	Bucket string
	// Prefix is joined in front of every object key.
	Prefix string
}

// BlobStore writes audit artifacts to a GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ audit.BlobStore = (*BlobStore)(nil)

// New validates cfg and wraps client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// PutObject streams r into the object at key and returns its gs:// URI.
// Artifacts are immutable, so the object is written only if it does not
// exist yet; an existing object with the same key is reported as stored.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	name, err := s.objectName(key)
	if err != nil {
		return "", err
	}
	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"source": "analyzer"}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", s.URI(name), err)
	}
	if err := w.Close(); err != nil && !isPreconditionFailed(err) {
		return "", fmt.Errorf("finalize %s: %w", s.URI(name), err)
	}
	return s.URI(name), nil
}

// URI formats the gs:// location of an object name in this bucket.
func (s *BlobStore) URI(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, name)
}

func (s *BlobStore) objectName(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("path is required")
	}
	if s.prefix == "" {
		return key, nil
	}
	return path.Join(s.prefix, key), nil
}

// isPreconditionFailed reports a DoesNotExist conflict, which for
// content-addressed keys means the same bytes are already stored.
func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
