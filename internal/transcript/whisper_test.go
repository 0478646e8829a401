package transcript

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisper_NoKey(t *testing.T) {
	w := NewWhisperClient("")
	_, err := w.Transcribe(context.Background(), []byte("x"), "hi")
	assert.Error(t, err)
}

// whisperServer records the multipart form fields of the last request.
func whisperServer(t *testing.T, status int, body string, fields map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if assert.NoError(t, err) {
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err != nil {
					break
				}
				if part.FormName() == "file" {
					fields["filename"] = part.FileName()
					continue
				}
				b, _ := io.ReadAll(part)
				fields[part.FormName()] = string(b)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestWhisper_SendsLanguageHintOnlyForNonEnglish(t *testing.T) {
	cases := []struct {
		lang     string
		wantLang string
	}{
		{"hi", "hi"},
		{"te", "te"},
		{"en", ""},
	}
	for _, tc := range cases {
		t.Run(tc.lang, func(t *testing.T) {
			fields := map[string]string{}
			srv := whisperServer(t, 200, `{"text":"  pests on cotton  "}`, fields)
			defer srv.Close()

			w := NewWhisperClient("key")
			w.BaseURL = srv.URL
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			text, err := w.Transcribe(ctx, []byte("webm-bytes"), tc.lang)
			require.NoError(t, err)
			assert.Equal(t, "pests on cotton", text)
			assert.Equal(t, "whisper-1", fields["model"])
			assert.Equal(t, "audio.webm", fields["filename"])
			assert.Equal(t, tc.wantLang, fields["language"])
		})
	}
}

func TestWhisper_Failures(t *testing.T) {
	t.Run("status_non_2xx", func(t *testing.T) {
		srv := whisperServer(t, 500, `{"error":{"message":"boom"}}`, map[string]string{})
		defer srv.Close()
		w := NewWhisperClient("key")
		w.BaseURL = srv.URL
		_, err := w.Transcribe(context.Background(), []byte("x"), "hi")
		assert.Error(t, err)
	})
	t.Run("empty_text", func(t *testing.T) {
		srv := whisperServer(t, 200, `{"text":"   "}`, map[string]string{})
		defer srv.Close()
		w := NewWhisperClient("key")
		w.BaseURL = srv.URL
		_, err := w.Transcribe(context.Background(), []byte("x"), "en")
		assert.True(t, errors.Is(err, ErrEmptyTranscript))
	})
}

func TestWhisper_DetectLanguage(t *testing.T) {
	cases := []struct {
		detected string
		want     string
	}{
		{"telugu", "te"},
		{"hindi", "hi"},
		{"french", "en"},
	}
	for _, tc := range cases {
		t.Run(tc.detected, func(t *testing.T) {
			fields := map[string]string{}
			srv := whisperServer(t, 200, `{"task":"transcribe","language":"`+tc.detected+`","text":"q"}`, fields)
			defer srv.Close()

			w := NewWhisperClient("key")
			w.BaseURL = srv.URL
			code, err := w.DetectLanguage(context.Background(), []byte("webm-bytes"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, code)
			assert.Equal(t, "verbose_json", fields["response_format"])
			assert.Empty(t, fields["language"])
		})
	}

	t.Run("request_fails", func(t *testing.T) {
		srv := whisperServer(t, 500, `{"error":{"message":"boom"}}`, map[string]string{})
		defer srv.Close()
		w := NewWhisperClient("key")
		w.BaseURL = srv.URL
		code, err := w.DetectLanguage(context.Background(), []byte("x"))
		assert.Error(t, err)
		assert.Equal(t, "en", code)
	})
}

func TestMockTranscriber(t *testing.T) {
	m := MockTranscriber{}
	hi, err := m.Transcribe(context.Background(), nil, "hi")
	require.NoError(t, err)
	assert.Contains(t, hi, "कीट")

	fallback, err := m.Transcribe(context.Background(), nil, "fr")
	require.NoError(t, err)
	assert.Equal(t, "My crops have pests. What should I do?", fallback)

	lang, err := m.DetectLanguage(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", lang)
}

func TestMockTranscriber_RespectsContext(t *testing.T) {
	m := MockTranscriber{Latency: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Transcribe(ctx, nil, "en")
	assert.ErrorIs(t, err, context.Canceled)
}
