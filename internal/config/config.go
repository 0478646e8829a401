package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogFormat   string
	UseRealAPIs bool

	OpenAIKey       string
	OpenRouterKey   string
	OpenRouterModel string

	TTSProvider   string
	ElevenLabsKey string
	DeepgramKey   string
	DeepgramModel string

	StoreBackend    string
	SQLitePath      string
	DatabaseURL     string
	SupabaseURL     string
	SupabaseKey     string
	SupabaseBucket  string
	AudioPublish    string
	RedisEnabled    bool
	RedisAddr       string
	TwilioAuthToken string
	TwilioAccount   string

	StrictLanguages bool
	StageTimeout    time.Duration
	StageAttempts   int
	PollInterval    time.Duration
}

// Load reads .env (if present) and the environment and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: envOr("HTTP_ADDRESS", ":8080"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),
		UseRealAPIs: envBool("USE_REAL_APIS", false),

		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenRouterKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel: envOr("OPENROUTER_MODEL", "meta-llama/llama-3.1-8b-instruct:free"),

		TTSProvider:   strings.ToLower(envOr("TTS_PROVIDER", "elevenlabs")),
		ElevenLabsKey: os.Getenv("ELEVENLABS_API_KEY"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel: envOr("DEEPGRAM_MODEL", "aura-2-thalia-en"),

		StoreBackend:    strings.ToLower(envOr("STORE_BACKEND", "memory")),
		SQLitePath:      envOr("SQLITE_PATH", "agrivoice.db"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:  envOr("SUPABASE_BUCKET", "answers"),
		AudioPublish:    strings.ToLower(envOr("AUDIO_PUBLISH", "inline")),
		RedisEnabled:    envBool("REDIS_ENABLED", false),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioAccount:   os.Getenv("TWILIO_ACCOUNT_SID"),

		StrictLanguages: envBool("STRICT_LANGUAGES", false),
		StageTimeout:    envDuration("STAGE_TIMEOUT", 60*time.Second),
		StageAttempts:   envInt("STAGE_ATTEMPTS", 1),
		PollInterval:    envDuration("POLL_INTERVAL", time.Second),
	}
	if cfg.StageAttempts < 1 {
		log.Warn().Int("stage_attempts", cfg.StageAttempts).Msg("STAGE_ATTEMPTS below 1, using 1")
		cfg.StageAttempts = 1
	}

	if cfg.UseRealAPIs {
		if cfg.OpenAIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY not set - transcription will not work")
		}
		if cfg.OpenRouterKey == "" {
			log.Warn().Msg("OPENROUTER_API_KEY not set - advisory answers will not work")
		}
		switch cfg.TTSProvider {
		case "elevenlabs":
			if cfg.ElevenLabsKey == "" {
				log.Warn().Msg("ELEVENLABS_API_KEY not set - TTS will not work")
			}
		case "deepgram":
			if cfg.DeepgramKey == "" {
				log.Warn().Msg("DEEPGRAM_API_KEY not set - TTS will not work")
			}
		case "openai":
		default:
			log.Warn().Str("provider", cfg.TTSProvider).Msg("unknown TTS_PROVIDER, falling back to elevenlabs")
			cfg.TTSProvider = "elevenlabs"
		}
	}
	if cfg.StoreBackend == "supabase" || cfg.AudioPublish == "bucket" {
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			log.Warn().Msg("SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - supabase features will not work")
		}
	}
	if cfg.TwilioAuthToken == "" {
		log.Warn().Msg("TWILIO_AUTH_TOKEN not set - telephony webhooks will reject every request")
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("store", cfg.StoreBackend).Bool("real_apis", cfg.UseRealAPIs).Msg("config loaded")
	return cfg
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	return def
}
