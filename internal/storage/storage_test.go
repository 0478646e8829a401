package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTStorage_Upload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/answers/s1.mp3", r.URL.Path)
		assert.Equal(t, "Bearer service", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewRESTStorage(srv.URL+"/", "service", "answers")
	require.NoError(t, s.Upload(context.Background(), "s1.mp3", "audio/mpeg", []byte("mp3")))
	assert.Equal(t, "mp3", string(gotBody))
	assert.Equal(t, srv.URL+"/storage/v1/object/public/answers/s1.mp3", s.PublicURL("s1.mp3"))
}

func TestRESTStorage_Failures(t *testing.T) {
	t.Run("not_configured", func(t *testing.T) {
		err := NewRESTStorage("", "", "b").Upload(context.Background(), "k", "audio/mpeg", nil)
		assert.True(t, errors.Is(err, ErrNotConfigured))
	})
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("denied"))
		}))
		defer srv.Close()
		err := NewRESTStorage(srv.URL, "k", "b").Upload(context.Background(), "k", "audio/mpeg", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})
}

func TestNewSupabaseStorage_RequiresConfig(t *testing.T) {
	_, err := NewSupabaseStorage(Config{Bucket: "answers"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
