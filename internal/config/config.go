package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting for the bridge process.
type Config struct {
	Port    string
	GinMode string

	// Document store
	FirestoreProjectID string

	// Identity provider (JWKS-based bearer token verification, §3.1)
	ValidatorType string // "jwk" is currently the only supported value
	JWTJWKSURL    string

	// Media blob store
	MediaBucket string

	// SessionSupervisor on-disk auth state root
	SessionAuthDir string

	// PolicyCache / MediaCache TTLs
	PolicyCacheTTL time.Duration
	MediaCacheTTL  time.Duration
	MediaSweepTick time.Duration

	// BufferManager
	BufferDebounce   time.Duration
	BufferHardCap    time.Duration // 0 disables the hard cap override
	BufferGCIdle     time.Duration
	BufferGCTick     time.Duration
	ShortTextMaxLen  int

	// OutboxWatcher
	OutboxMaxConcurrentWatchers int

	// WsHub
	WsMaxConnections   int
	WsSendBufferSize   int
	WsDropThreshold    int
	WsHeartbeatTick    time.Duration

	// Server
	ServerShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Tenant phrase tables (finalizer words, explicit-modality phrases, loaded from CONFIG_FILE)
	Phrases PhraseConfig `yaml:"phrases"`
}

// PhraseConfig is the overlay decoded from CONFIG_FILE (default config.yaml);
// these are the only settings that intentionally live outside the environment,
// since they are per-deployment word lists rather than secrets or topology.
type PhraseConfig struct {
	FinalizerWords []string `yaml:"finalizer_words"`
	VoicePhrases   []string `yaml:"voice_phrases"`
	TextPhrases    []string `yaml:"text_phrases"`
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment (with .env support) and
// overlays the CONFIG_FILE phrase tables on top.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		FirestoreProjectID: getEnvOrDefault("FIRESTORE_PROJECT_ID", ""),

		ValidatorType: getEnvOrDefault("VALIDATOR_TYPE", "jwk"),
		JWTJWKSURL:    getEnvOrDefault("JWT_JWKS_URL", ""),

		MediaBucket: getEnvOrDefault("MEDIA_BUCKET", ""),

		SessionAuthDir: getEnvOrDefault("SESSION_AUTH_DIR", "./data/sessions"),

		PolicyCacheTTL: getEnvAsDuration("POLICY_CACHE_TTL", 60*time.Second),
		MediaCacheTTL:  getEnvAsDuration("MEDIA_CACHE_TTL", 15*time.Minute),
		MediaSweepTick: getEnvAsDuration("MEDIA_SWEEP_INTERVAL", 60*time.Second),

		BufferDebounce:  getEnvAsDuration("BUFFER_DEBOUNCE", 30*time.Second),
		BufferHardCap:   getEnvAsDuration("BUFFER_HARD_CAP", 0),
		BufferGCIdle:    getEnvAsDuration("BUFFER_GC_IDLE", 30*time.Minute),
		BufferGCTick:    getEnvAsDuration("BUFFER_GC_INTERVAL", 60*time.Second),
		ShortTextMaxLen: getEnvAsInt("BUFFER_SHORT_TEXT_MAX_LEN", 14),

		OutboxMaxConcurrentWatchers: getEnvAsInt("OUTBOX_MAX_CONCURRENT_WATCHERS", 256),

		WsMaxConnections: getEnvAsInt("WS_MAX_CONNECTIONS", 2000),
		WsSendBufferSize: getEnvAsInt("WS_SEND_BUFFER_SIZE", 256),
		WsDropThreshold:  getEnvAsInt("WS_DROP_THRESHOLD", 8),
		WsHeartbeatTick:  getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),

		ServerShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if env := os.Getenv("APP_ENV"); env == "production" {
		AppConfig.LogFormat = "json"
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("No phrase config file at %s, using built-in defaults: %v", configFilePath, err)
		AppConfig.Phrases = defaultPhraseConfig()
		return
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if len(AppConfig.Phrases.FinalizerWords) == 0 {
		AppConfig.Phrases = defaultPhraseConfig()
	}

	if AppConfig.FirestoreProjectID == "" {
		log.Println("Warning: FIRESTORE_PROJECT_ID is not set.")
	}
	if AppConfig.JWTJWKSURL == "" {
		log.Println("Warning: JWT_JWKS_URL is not set; the server will refuse to start without it.")
	}
}

func defaultPhraseConfig() PhraseConfig {
	return PhraseConfig{
		FinalizerWords: []string{"gracias", "thanks", "listo", "eso es todo", "nada más"},
		VoicePhrases:   []string{"mándame un audio", "respóndeme por audio", "send voice"},
		TextPhrases:    []string{"prefiero texto", "respóndeme por texto", "send text"},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(config)
}
