package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RESTStorage uploads objects with plain HTTP calls to the Supabase Storage API.
type RESTStorage struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	Client     *http.Client
}

func NewRESTStorage(baseURL, serviceKey, bucket string) *RESTStorage {
	return &RESTStorage{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		Bucket:     bucket,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *RESTStorage) Upload(ctx context.Context, objectKey, contentType string, body []byte) error {
	if s.BaseURL == "" || s.ServiceKey == "" {
		return ErrNotConfigured
	}

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.BaseURL, s.Bucket, objectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create upload request")
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", "true")

	resp, err := s.Client.Do(req)
	if err != nil {
		return errors.Wrap(err, "upload to supabase")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("upload failed with status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (s *RESTStorage) PublicURL(objectKey string) string {
	return publicURL(s.BaseURL, s.Bucket, objectKey)
}
