// Package storage uploads synthesized answer audio to a Supabase Storage bucket.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/supabase-community/supabase-go"
)

// ErrNotConfigured is returned when the bucket URL or service key is missing.
var ErrNotConfigured = errors.New("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")

// Uploader is implemented by SupabaseStorage and RESTStorage.
type Uploader interface {
	Upload(ctx context.Context, objectKey, contentType string, body []byte) error
	// PublicURL is where a public bucket serves objectKey.
	PublicURL(objectKey string) string
}

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage uploads through the supabase-go storage client.
type SupabaseStorage struct {
	client  *supabase.Client
	baseURL string
	bucket  string
}

func NewSupabaseStorage(config Config) (*SupabaseStorage, error) {
	if config.URL == "" || config.ServiceRoleKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "create supabase client")
	}
	return &SupabaseStorage{
		client:  client,
		baseURL: strings.TrimRight(config.URL, "/"),
		bucket:  config.Bucket,
	}, nil
}

// Upload does not honour ctx cancellation mid-request; the storage client has no context support.
func (s *SupabaseStorage) Upload(ctx context.Context, key, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, "upload to supabase")
	}
	return nil
}

func (s *SupabaseStorage) PublicURL(key string) string {
	return publicURL(s.baseURL, s.bucket, key)
}

func publicURL(baseURL, bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", strings.TrimRight(baseURL, "/"), bucket, key)
}
