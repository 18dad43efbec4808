package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Synth       SynthConfig      `yaml:"synth"`
	Segment     SegmentConfig    `yaml:"segment"`
	Jobs        JobsConfig       `yaml:"jobs"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, http, openai
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type SegmentConfig struct {
	DefaultSpeaker string   `yaml:"default_speaker"`
	Speakers       []string `yaml:"speakers"`
	MinChunkLen    int      `yaml:"min_chunk_len"`
	MaxChunkBytes  int      `yaml:"max_chunk_bytes"`
}

type JobsConfig struct {
	MaxJobs        int `yaml:"max_jobs"`
	ListenerBuffer int `yaml:"listener_buffer"`
}

func Default() Config {
	return Config{
		RuntimeName: "narrate-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrate-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Synth: SynthConfig{
			Mode:       "mock",
			Voice:      "narrator",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Segment: SegmentConfig{
			DefaultSpeaker: "narrator",
			MinChunkLen:    20,
			MaxChunkBytes:  500,
		},
		Jobs: JobsConfig{
			MaxJobs:        256,
			ListenerBuffer: 16,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "NARRATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "NARRATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "NARRATE_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synth.Mode, "NARRATE_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "NARRATE_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Endpoint, "NARRATE_SYNTH_ENDPOINT")
	overrideString(&cfg.Synth.APIKey, "NARRATE_SYNTH_API_KEY")
	overrideString(&cfg.Synth.Model, "NARRATE_SYNTH_MODEL")
	overrideString(&cfg.Synth.Voice, "NARRATE_SYNTH_VOICE")
	overrideInt(&cfg.Synth.SampleRate, "NARRATE_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "NARRATE_SYNTH_CHANNELS")
	overrideInt(&cfg.Synth.TimeoutMS, "NARRATE_SYNTH_TIMEOUT_MS")
	overrideString(&cfg.Segment.DefaultSpeaker, "NARRATE_SEGMENT_DEFAULT_SPEAKER")
	overrideStringSlice(&cfg.Segment.Speakers, "NARRATE_SEGMENT_SPEAKERS")
	overrideInt(&cfg.Segment.MinChunkLen, "NARRATE_SEGMENT_MIN_CHUNK_LEN")
	overrideInt(&cfg.Segment.MaxChunkBytes, "NARRATE_SEGMENT_MAX_CHUNK_BYTES")
	overrideInt(&cfg.Jobs.MaxJobs, "NARRATE_JOBS_MAX_JOBS")
	overrideInt(&cfg.Jobs.ListenerBuffer, "NARRATE_JOBS_LISTENER_BUFFER")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec", "http", "openai":
	default:
		return errors.New("synth.mode must be one of mock|exec|http|openai")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.Mode == "http" && cfg.Synth.Endpoint == "" {
		return errors.New("synth.endpoint must be set when mode=http")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	if cfg.Synth.TimeoutMS <= 0 {
		return errors.New("synth.timeout_ms must be positive")
	}
	if cfg.Segment.DefaultSpeaker == "" {
		return errors.New("segment.default_speaker must not be empty")
	}
	if cfg.Segment.MinChunkLen < 0 {
		return errors.New("segment.min_chunk_len must be >= 0")
	}
	if cfg.Segment.MaxChunkBytes <= 0 {
		return errors.New("segment.max_chunk_bytes must be positive")
	}
	if cfg.Jobs.MaxJobs <= 0 {
		return errors.New("jobs.max_jobs must be >= 1")
	}
	if cfg.Jobs.ListenerBuffer <= 0 {
		return errors.New("jobs.listener_buffer must be >= 1")
	}
	return nil
}
