package main

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/config"
	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/llm"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
	"github.com/amruthjakku/AgriVoice/internal/storage"
	"github.com/amruthjakku/AgriVoice/internal/transcript"
	"github.com/amruthjakku/AgriVoice/internal/tts"
)

func openBackend(ctx context.Context, cfg config.Config) (interaction.Backend, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "", "memory":
		return interaction.NewMemoryStore(), nil
	case "sqlite":
		return interaction.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("STORE_BACKEND=postgres needs DATABASE_URL")
		}
		return interaction.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "supabase":
		return interaction.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey)
	}
	return nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func openEvents(ctx context.Context, cfg config.Config) (*events.Bus, error) {
	if !cfg.RedisEnabled {
		return events.NewGoChannel(), nil
	}
	bus, err := events.NewRedisStream(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "redis events at %s", cfg.RedisAddr)
	}
	return bus, nil
}

// buildPorts picks live providers or the mocks depending on USE_REAL_APIS.
func buildPorts(cfg config.Config) (pipeline.Ports, error) {
	if !cfg.UseRealAPIs {
		log.Info().Msg("using mock transcription, advisory and synthesis")
		return pipeline.Ports{
			Transcriber: transcript.MockTranscriber{},
			Advisor:     llm.NewAdvisor(llm.MockGenerator{}),
			Synthesizer: tts.MockSynthesizer{},
		}, nil
	}

	provider, err := ttsProvider(cfg)
	if err != nil {
		return pipeline.Ports{}, err
	}
	publisher, err := audioPublisher(cfg)
	if err != nil {
		return pipeline.Ports{}, err
	}
	log.Info().Str("tts", cfg.TTSProvider).Str("publish", cfg.AudioPublish).Str("model", cfg.OpenRouterModel).Msg("using live providers")
	return pipeline.Ports{
		Transcriber: transcript.NewWhisperClient(cfg.OpenAIKey),
		Advisor:     llm.NewAdvisor(llm.NewOpenRouterClient(cfg.OpenRouterKey, cfg.OpenRouterModel)),
		Synthesizer: tts.NewSynthesizer(provider, publisher),
	}, nil
}

func ttsProvider(cfg config.Config) (tts.Provider, error) {
	switch cfg.TTSProvider {
	case "elevenlabs":
		return tts.NewElevenLabsClient(cfg.ElevenLabsKey), nil
	case "deepgram":
		return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel), nil
	case "openai":
		return tts.NewOpenAIClient(cfg.OpenAIKey), nil
	}
	return nil, errors.Errorf("unknown TTS_PROVIDER %q", cfg.TTSProvider)
}

func audioPublisher(cfg config.Config) (tts.Publisher, error) {
	if cfg.AudioPublish != "bucket" {
		return tts.DataURIPublisher{}, nil
	}
	up, err := storage.NewSupabaseStorage(storage.Config{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseKey,
		Bucket:         cfg.SupabaseBucket,
	})
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		return nil, errors.Wrap(err, "AUDIO_PUBLISH=bucket")
	case err != nil:
		log.Warn().Err(err).Msg("supabase client unavailable, uploading through the storage REST API")
		return tts.BucketPublisher{Uploader: storage.NewRESTStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)}, nil
	}
	return tts.BucketPublisher{Uploader: up}, nil
}

func pipelineOptions(cfg config.Config, profiles pipeline.ProfileCounter, bus *events.Bus) pipeline.Options {
	opts := pipeline.Options{
		StrictLanguages: cfg.StrictLanguages,
		StageTimeout:    cfg.StageTimeout,
		StageAttempts:   cfg.StageAttempts,
		PollInterval:    cfg.PollInterval,
		Profiles:        profiles,
	}
	if bus != nil {
		opts.Events = bus
	}
	return opts
}
