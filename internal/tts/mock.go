package tts

import (
	"context"
	"time"
)

// MockSynthesizer returns a fixed, non-playable data URI per language.
type MockSynthesizer struct {
	Latency time.Duration
}

func (m MockSynthesizer) Synthesize(ctx context.Context, _ string, lang string) (string, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	return "data:audio/mp3;base64,mock_audio_" + lang, nil
}
