package transcript

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/amruthjakku/AgriVoice/internal/language"
)

// ErrEmptyTranscript is returned when the provider answers with no text.
var ErrEmptyTranscript = errors.New("transcript is empty")

// WhisperClient transcribes recorded audio with the OpenAI Whisper API.
type WhisperClient struct {
	HTTPClient *http.Client
	APIKey     string
	// BaseURL overrides the OpenAI endpoint; empty means the public API.
	BaseURL string
	Model   string
}

func NewWhisperClient(apiKey string) *WhisperClient {
	return &WhisperClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		Model:      openai.Whisper1,
	}
}

func (w *WhisperClient) client() *openai.Client {
	cfg := openai.DefaultConfig(w.APIKey)
	if w.BaseURL != "" {
		cfg.BaseURL = w.BaseURL
	}
	if w.HTTPClient != nil {
		cfg.HTTPClient = w.HTTPClient
	}
	return openai.NewClientWithConfig(cfg)
}

// Transcribe sends audio as a webm upload. English is auto-detected, other
// languages are passed to Whisper as a hint.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	if w.APIKey == "" {
		return "", errors.New("whisper: api key missing")
	}
	req := openai.AudioRequest{
		Model:    w.Model,
		FilePath: "audio.webm",
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatJSON,
	}
	if code := language.Normalize(lang); code != "" && code != language.English {
		req.Language = code
	}

	start := time.Now()
	resp, err := w.client().CreateTranscription(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "whisper: transcription request")
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	log.Debug().Str("lang", lang).Int("bytes", len(audio)).Dur("took", time.Since(start)).Msg("whisper: transcribed")
	return text, nil
}

// DetectLanguage asks Whisper which language audio is spoken in. Languages
// outside the supported set come back as the default.
func (w *WhisperClient) DetectLanguage(ctx context.Context, audio []byte) (string, error) {
	if w.APIKey == "" {
		return language.Default, errors.New("whisper: api key missing")
	}
	resp, err := w.client().CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: "audio.webm",
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return language.Default, errors.Wrap(err, "whisper: language detection request")
	}
	code, ok := language.Parse(resp.Language)
	if !ok {
		log.Debug().Str("detected", resp.Language).Msg("whisper: unsupported language, using default")
		return language.Default, nil
	}
	return code, nil
}
