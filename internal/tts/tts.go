// Package tts turns advisory answers into playable audio references.
//
// A Provider renders text to encoded audio; a Publisher makes that audio
// reachable by a client, either inline as a data: URI or as an object in a
// storage bucket. Synthesizer glues the two together.
package tts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Audio is an encoded clip.
type Audio struct {
	Data        []byte
	ContentType string
	// Ext is the file extension used when the clip is stored, without the dot.
	Ext string
}

// Provider renders text in the given language.
type Provider interface {
	Render(ctx context.Context, text, lang string) (Audio, error)
}

// Publisher turns rendered audio into a reference a player can load.
type Publisher interface {
	Publish(ctx context.Context, key string, a Audio) (string, error)
}

// ErrEmptyAudio is returned when a provider produced no bytes.
var ErrEmptyAudio = errors.New("synthesized audio is empty")

type Synthesizer struct {
	provider  Provider
	publisher Publisher
}

func NewSynthesizer(p Provider, pub Publisher) *Synthesizer {
	return &Synthesizer{provider: p, publisher: pub}
}

// Synthesize renders text and returns the published reference.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) (string, error) {
	start := time.Now()
	a, err := s.provider.Render(ctx, text, lang)
	if err != nil {
		return "", err
	}
	if len(a.Data) == 0 {
		return "", ErrEmptyAudio
	}
	key := "answers/" + uuid.NewString()
	if a.Ext != "" {
		key += "." + a.Ext
	}
	ref, err := s.publisher.Publish(ctx, key, a)
	if err != nil {
		return "", errors.Wrap(err, "publish audio")
	}
	log.Debug().Str("lang", lang).Int("bytes", len(a.Data)).Dur("took", time.Since(start)).Msg("tts: synthesized")
	return ref, nil
}
