package tts

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient renders speech with the OpenAI tts-1 model and the alloy voice.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{HTTPClient: &http.Client{Timeout: 60 * time.Second}, APIKey: apiKey}
}

func (o *OpenAIClient) Render(ctx context.Context, text, _ string) (Audio, error) {
	if o.APIKey == "" {
		return Audio{}, errors.New("openai tts: api key missing")
	}
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.HTTPClient != nil {
		cfg.HTTPClient = o.HTTPClient
	}
	resp, err := openai.NewClientWithConfig(cfg).CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.VoiceAlloy,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          1.0,
	})
	if err != nil {
		return Audio{}, errors.Wrap(err, "openai tts: request")
	}
	defer resp.Close()
	data, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes))
	if err != nil {
		return Audio{}, errors.Wrap(err, "openai tts: read")
	}
	return Audio{Data: data, ContentType: "audio/mpeg", Ext: "mp3"}, nil
}
