package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/language"
)

const maxAudioBytes = 20 << 20

// ElevenLabsClient renders mp3 speech with the ElevenLabs multilingual model.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		BaseURL:    "https://api.elevenlabs.io",
		Model:      "eleven_multilingual_v2",
	}
}

// Render picks the voice configured for lang, or the English voice for unknown codes.
func (e *ElevenLabsClient) Render(ctx context.Context, text, lang string) (Audio, error) {
	if e.APIKey == "" {
		return Audio{}, errors.New("elevenlabs: api key missing")
	}
	voice := language.Lookup(lang).ElevenLabsVoice
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return Audio{}, errors.Wrap(err, "elevenlabs: base url")
	}
	u.Path = "/v1/text-to-speech/" + voice

	body := map[string]any{
		"model_id": e.Model,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return Audio{}, errors.Wrap(err, "elevenlabs http error")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, errors.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, errors.Wrap(err, "elevenlabs http read error")
	}
	log.Debug().Str("voice", voice).Int("bytes", len(data)).Msg("elevenlabs: received audio")
	return Audio{Data: data, ContentType: "audio/mpeg", Ext: "mp3"}, nil
}
