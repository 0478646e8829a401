package tts

import (
	"context"
	"encoding/base64"

	"github.com/amruthjakku/AgriVoice/internal/storage"
)

// DataURIPublisher inlines audio as a base64 data: URI.
type DataURIPublisher struct{}

func (DataURIPublisher) Publish(_ context.Context, _ string, a Audio) (string, error) {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(a.Data), nil
}

// BucketPublisher uploads audio and returns its public URL.
type BucketPublisher struct {
	Uploader storage.Uploader
}

func (b BucketPublisher) Publish(ctx context.Context, key string, a Audio) (string, error) {
	if err := b.Uploader.Upload(ctx, key, a.ContentType, a.Data); err != nil {
		return "", err
	}
	return b.Uploader.PublicURL(key), nil
}
