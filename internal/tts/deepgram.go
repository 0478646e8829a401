package tts

import (
	"bytes"
	"context"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DeepgramClient renders speech over the Deepgram websocket speak API and
// wraps the returned linear PCM in a WAV container. Aura voices are English,
// so every language is spoken with the configured model.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	// idleWindow ends a render once audio has started and then paused this long.
	idleWindow time.Duration
	maxWait    time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 24000,
		encoding:   "linear16",
		idleWindow: 400 * time.Millisecond,
		maxWait:    30 * time.Second,
	}
}

func (d *DeepgramClient) Render(ctx context.Context, text, _ string) (Audio, error) {
	if d.apiKey == "" {
		return Audio{}, errors.New("deepgram: API key missing")
	}
	if text == "" {
		return Audio{}, ErrEmptyAudio
	}

	var (
		mu       sync.Mutex
		pcm      bytes.Buffer
		lastRecv time.Time
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		mu.Lock()
		pcm.Write(data)
		lastRecv = time.Now()
		mu.Unlock()
		return nil
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return Audio{}, errors.Wrap(err, "deepgram: create ws client")
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return Audio{}, errors.New("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return Audio{}, errors.Wrap(err, "deepgram: speak text")
	}
	if err := dg.Flush(); err != nil {
		log.Warn().Err(err).Msg("deepgram: flush error")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.maxWait)
	for {
		select {
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		case <-ticker.C:
			mu.Lock()
			last := lastRecv
			mu.Unlock()
			if !last.IsZero() && time.Since(last) > d.idleWindow {
				return d.wav(&mu, &pcm)
			}
			if time.Now().After(deadline) {
				if last.IsZero() {
					return Audio{}, errors.New("deepgram: no audio received")
				}
				return d.wav(&mu, &pcm)
			}
		}
	}
}

func (d *DeepgramClient) wav(mu *sync.Mutex, pcm *bytes.Buffer) (Audio, error) {
	mu.Lock()
	defer mu.Unlock()
	data := PCMToWAV(pcm.Bytes(), d.sampleRate, 16, 1)
	return Audio{Data: data, ContentType: "audio/wav", Ext: "wav"}, nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if e != nil {
		log.Warn().Interface("error", e).Msg("deepgram: speak error")
	}
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
