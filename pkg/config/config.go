package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the ingestion service.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Google        GoogleConfig
	AI            AIConfig
	Extractor     ExtractorConfig
	Triage        TriageConfig
	Ingest        IngestConfig
	Queue         QueueConfig
	Scheduler     SchedulerConfig
	Redis         RedisConfig
	Events        EventsConfig
	Log           LogConfig
	EncryptionKey string
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	Debug  bool
}

// GoogleConfig covers the OAuth client used for Gmail and the Pub/Sub project.
type GoogleConfig struct {
	ClientID          string
	ClientSecret      string
	ProjectID         string
	CredentialsFile   string
	PushTopic         string // Gmail watch target topic
	PushSubscription  string // Gmail watch notifications
	EventsTopic       string // outbound pipeline events
	GmailEndpoint     string // overrides the API base URL, used by tests and emulators
	UnreadQuery       string
	HistoryTypes      []string
	RequestsPerSecond float64
}

type AIConfig struct {
	Provider      string // "gemini", "ollama" or "auto"
	GeminiAPIKey  string
	GeminiModel   string
	OllamaBaseURL string
	OllamaModel   string
	Timeout       time.Duration
}

type ExtractorConfig struct {
	TikaURL string
	Timeout time.Duration
}

type TriageConfig struct {
	Enabled             bool
	AutoClassifyEnabled bool
}

type IngestConfig struct {
	AutoImportThreshold     int
	MinExtractionConfidence int
	StrictResumeParsing     bool
	DeferClassification     bool
	FullScanLimit           int
	MessageTimeout          time.Duration
}

type QueueConfig struct {
	Backend       string // "memory" or "amqp"
	AMQPURL       string
	Concurrency   int
	Attempts      int
	Backoff       time.Duration
	KeepCompleted int
	KeepFailed    int
	JobTimeout    time.Duration
}

type SchedulerConfig struct {
	PollInterval          time.Duration
	TokenRefreshInterval  time.Duration
	RefreshWindow         time.Duration
	ConnectionConcurrency int
	UseLease              bool
	LeaseTTL              time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EventsConfig struct {
	Buffer int
}

type LogConfig struct {
	JSON  bool
	Debug bool
}

// rawConfig mirrors the YAML file: snake_case keys and durations as strings.
type rawConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Debug  bool   `yaml:"debug"`
	} `yaml:"database"`
	Google struct {
		ClientID          string   `yaml:"client_id"`
		ClientSecret      string   `yaml:"client_secret"`
		ProjectID         string   `yaml:"project_id"`
		CredentialsFile   string   `yaml:"credentials_file"`
		PushTopic         string   `yaml:"push_topic"`
		PushSubscription  string   `yaml:"push_subscription"`
		EventsTopic       string   `yaml:"events_topic"`
		GmailEndpoint     string   `yaml:"gmail_endpoint"`
		UnreadQuery       string   `yaml:"unread_query"`
		HistoryTypes      []string `yaml:"history_types"`
		RequestsPerSecond float64  `yaml:"requests_per_second"`
	} `yaml:"google"`
	AI struct {
		Provider      string `yaml:"provider"`
		GeminiAPIKey  string `yaml:"gemini_api_key"`
		GeminiModel   string `yaml:"gemini_model"`
		OllamaBaseURL string `yaml:"ollama_base_url"`
		OllamaModel   string `yaml:"ollama_model"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"ai"`
	Extractor struct {
		TikaURL string `yaml:"tika_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"extractor"`
	Triage struct {
		Enabled             *bool `yaml:"enabled"`
		AutoClassifyEnabled *bool `yaml:"auto_classify_enabled"`
	} `yaml:"triage"`
	Ingest struct {
		AutoImportThreshold     int    `yaml:"auto_import_threshold"`
		MinExtractionConfidence int    `yaml:"min_extraction_confidence"`
		StrictResumeParsing     bool   `yaml:"strict_resume_parsing"`
		DeferClassification     bool   `yaml:"defer_classification"`
		FullScanLimit           int    `yaml:"full_scan_limit"`
		MessageTimeout          string `yaml:"message_timeout"`
	} `yaml:"ingest"`
	Queue struct {
		Backend       string `yaml:"backend"`
		AMQPURL       string `yaml:"amqp_url"`
		Concurrency   int    `yaml:"concurrency"`
		Attempts      int    `yaml:"attempts"`
		Backoff       string `yaml:"backoff"`
		KeepCompleted int    `yaml:"keep_completed"`
		KeepFailed    int    `yaml:"keep_failed"`
		JobTimeout    string `yaml:"job_timeout"`
	} `yaml:"queue"`
	Scheduler struct {
		PollInterval          string `yaml:"poll_interval"`
		TokenRefreshInterval  string `yaml:"token_refresh_interval"`
		RefreshWindow         string `yaml:"refresh_window"`
		ConnectionConcurrency int    `yaml:"connection_concurrency"`
		UseLease              bool   `yaml:"use_lease"`
		LeaseTTL              string `yaml:"lease_ttl"`
	} `yaml:"scheduler"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Events struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"events"`
	Log struct {
		JSON  bool `yaml:"json"`
		Debug bool `yaml:"debug"`
	} `yaml:"log"`
	EncryptionKey string `yaml:"encryption_key"`
}

// Load reads .env (if present), then the YAML file at path with ${VAR} expansion.
// An empty path or a missing file yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var raw rawConfig
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, error) {
	var err error
	cfg := &Config{
		Server: ServerConfig{Port: orDefault(raw.Server.Port, "8080")},
		Database: DatabaseConfig{
			Driver: orDefault(raw.Database.Driver, "postgres"),
			DSN:    raw.Database.DSN,
			Debug:  raw.Database.Debug,
		},
		Google: GoogleConfig{
			ClientID:          raw.Google.ClientID,
			ClientSecret:      raw.Google.ClientSecret,
			ProjectID:         raw.Google.ProjectID,
			CredentialsFile:   raw.Google.CredentialsFile,
			PushTopic:         raw.Google.PushTopic,
			PushSubscription:  raw.Google.PushSubscription,
			EventsTopic:       raw.Google.EventsTopic,
			GmailEndpoint:     raw.Google.GmailEndpoint,
			UnreadQuery:       orDefault(raw.Google.UnreadQuery, "is:unread in:inbox"),
			HistoryTypes:      raw.Google.HistoryTypes,
			RequestsPerSecond: raw.Google.RequestsPerSecond,
		},
		AI: AIConfig{
			Provider:      orDefault(raw.AI.Provider, "auto"),
			GeminiAPIKey:  raw.AI.GeminiAPIKey,
			GeminiModel:   raw.AI.GeminiModel,
			OllamaBaseURL: raw.AI.OllamaBaseURL,
			OllamaModel:   raw.AI.OllamaModel,
		},
		Extractor: ExtractorConfig{TikaURL: raw.Extractor.TikaURL},
		Triage: TriageConfig{
			Enabled:             boolOr(raw.Triage.Enabled, true),
			AutoClassifyEnabled: boolOr(raw.Triage.AutoClassifyEnabled, true),
		},
		Ingest: IngestConfig{
			AutoImportThreshold:     intOr(raw.Ingest.AutoImportThreshold, 80),
			MinExtractionConfidence: intOr(raw.Ingest.MinExtractionConfidence, 30),
			StrictResumeParsing:     raw.Ingest.StrictResumeParsing,
			DeferClassification:     raw.Ingest.DeferClassification,
			FullScanLimit:           intOr(raw.Ingest.FullScanLimit, 50),
		},
		Queue: QueueConfig{
			Backend:       orDefault(raw.Queue.Backend, "memory"),
			AMQPURL:       raw.Queue.AMQPURL,
			Concurrency:   intOr(raw.Queue.Concurrency, 3),
			Attempts:      intOr(raw.Queue.Attempts, 3),
			KeepCompleted: intOr(raw.Queue.KeepCompleted, 100),
			KeepFailed:    intOr(raw.Queue.KeepFailed, 500),
		},
		Scheduler: SchedulerConfig{
			ConnectionConcurrency: intOr(raw.Scheduler.ConnectionConcurrency, 4),
			UseLease:              raw.Scheduler.UseLease,
		},
		Redis: RedisConfig{
			Addr:     raw.Redis.Addr,
			Password: raw.Redis.Password,
			DB:       raw.Redis.DB,
		},
		Events:        EventsConfig{Buffer: intOr(raw.Events.Buffer, 256)},
		Log:           LogConfig{JSON: raw.Log.JSON, Debug: raw.Log.Debug},
		EncryptionKey: raw.EncryptionKey,
	}

	durations := []struct {
		name  string
		raw   string
		def   time.Duration
		field *time.Duration
	}{
		{"ai.timeout", raw.AI.Timeout, 60 * time.Second, &cfg.AI.Timeout},
		{"extractor.timeout", raw.Extractor.Timeout, 30 * time.Second, &cfg.Extractor.Timeout},
		{"ingest.message_timeout", raw.Ingest.MessageTimeout, 5 * time.Minute, &cfg.Ingest.MessageTimeout},
		{"queue.backoff", raw.Queue.Backoff, 2 * time.Second, &cfg.Queue.Backoff},
		{"queue.job_timeout", raw.Queue.JobTimeout, 2 * time.Minute, &cfg.Queue.JobTimeout},
		{"scheduler.poll_interval", raw.Scheduler.PollInterval, 5 * time.Minute, &cfg.Scheduler.PollInterval},
		{"scheduler.token_refresh_interval", raw.Scheduler.TokenRefreshInterval, 10 * time.Minute, &cfg.Scheduler.TokenRefreshInterval},
		{"scheduler.refresh_window", raw.Scheduler.RefreshWindow, time.Hour, &cfg.Scheduler.RefreshWindow},
		{"scheduler.lease_ttl", raw.Scheduler.LeaseTTL, 10 * time.Minute, &cfg.Scheduler.LeaseTTL},
	}
	for _, d := range durations {
		*d.field = d.def
		if d.raw == "" {
			continue
		}
		if *d.field, err = time.ParseDuration(d.raw); err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", d.name, d.raw, err)
		}
	}

	return cfg, nil
}

// applyEnv fills values that are commonly injected by the environment rather than the file.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.ProjectID = getEnv("GOOGLE_PROJECT_ID", cfg.Google.ProjectID)
	cfg.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Google.CredentialsFile)
	cfg.Google.PushTopic = getEnv("GOOGLE_PUBSUB_TOPIC", cfg.Google.PushTopic)
	cfg.AI.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.AI.GeminiAPIKey)
	cfg.AI.OllamaBaseURL = getEnv("OLLAMA_BASE_URL", cfg.AI.OllamaBaseURL)
	cfg.Queue.AMQPURL = getEnv("AMQP_URL", cfg.Queue.AMQPURL)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.EncryptionKey)
	if v := os.Getenv("LOG_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Debug = b
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch cfg.Queue.Backend {
	case "memory":
	case "amqp":
		if cfg.Queue.AMQPURL == "" {
			return errors.New("queue.amqp_url is required when queue.backend is amqp")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or amqp, got %q", cfg.Queue.Backend)
	}
	if cfg.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1, got %d", cfg.Queue.Attempts)
	}
	if cfg.Ingest.AutoImportThreshold < 0 || cfg.Ingest.AutoImportThreshold > 100 {
		return fmt.Errorf("ingest.auto_import_threshold must be within 0-100, got %d", cfg.Ingest.AutoImportThreshold)
	}
	if cfg.Ingest.MinExtractionConfidence < 0 || cfg.Ingest.MinExtractionConfidence > 100 {
		return fmt.Errorf("ingest.min_extraction_confidence must be within 0-100, got %d", cfg.Ingest.MinExtractionConfidence)
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Scheduler.UseLease && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when scheduler.use_lease is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
