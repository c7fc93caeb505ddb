package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Separator   SeparatorConfig  `yaml:"separator"`
	STT         STTConfig        `yaml:"stt"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Upload      UploadConfig     `yaml:"upload"`
	CORS        CORSConfig       `yaml:"cors"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	QueueGroup     string   `yaml:"queue_group"`
	MaxConcurrency int      `yaml:"max_concurrency"`
}

// NodeConfig identifies this process among bus workers.
type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig drives the ffmpeg re-encode step.
type AudioConfig struct {
	FFmpegCommand      string `yaml:"ffmpeg_command"`
	SampleRate         int    `yaml:"sample_rate"`
	Channels           int    `yaml:"channels"`
	DetectionWindowSec int    `yaml:"detection_window_sec"`
	TimeoutMS          int    `yaml:"timeout_ms"`
}

// SeparatorConfig drives the source-separation subprocess. Command may use the
// {input} and {output} placeholders.
type SeparatorConfig struct {
	Command   string `yaml:"command"`
	Stem      string `yaml:"stem"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // deepgram, exec, mock
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
	MockText  string `yaml:"mock_text"`
}

type PipelineConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-lyrics",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			QueueGroup:     "loqa-lyrics",
			MaxConcurrency: 2,
		},
		Node: NodeConfig{
			ID:                "loqa-lyrics-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-lyrics.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Audio: AudioConfig{
			FFmpegCommand:      "ffmpeg",
			SampleRate:         44100,
			Channels:           1,
			DetectionWindowSec: 30,
			TimeoutMS:          120000,
		},
		Separator: SeparatorConfig{
			Command:   "spleeter separate -p spleeter:2stems -o {output} {input}",
			Stem:      "vocals.wav",
			TimeoutMS: 600000,
		},
		STT: STTConfig{
			Mode:      "deepgram",
			Endpoint:  "https://api.deepgram.com/v1/listen",
			Model:     "nova-3",
			TimeoutMS: 300000,
			MockText:  "mock lyrics",
		},
		Pipeline: PipelineConfig{
			ScratchDir: "./separated_audio",
		},
		Upload: UploadConfig{
			Dir:      "./uploads",
			MaxBytes: 50 * 1024 * 1024,
		},
	}
}

// LoadDotEnv populates the process environment from .env style files. Missing
// files are not an error; variables already set take precedence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
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
	// legacy names still set by older deployments
	overrideString(&cfg.STT.APIKey, "DEEPGRAM_API_KEY")
	overrideStringSlice(&cfg.CORS.AllowedOrigins, "ALLOWED_ORIGINS")

	overrideString(&cfg.RuntimeName, "LOQA_LYRICS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_LYRICS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_LYRICS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_LYRICS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_LYRICS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_LYRICS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_LYRICS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_LYRICS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_LYRICS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_LYRICS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_LYRICS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_LYRICS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_LYRICS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_LYRICS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_LYRICS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_LYRICS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_LYRICS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_LYRICS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.QueueGroup, "LOQA_LYRICS_BUS_QUEUE_GROUP")
	overrideInt(&cfg.Bus.MaxConcurrency, "LOQA_LYRICS_BUS_MAX_CONCURRENCY")
	overrideString(&cfg.Node.ID, "LOQA_LYRICS_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_LYRICS_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_LYRICS_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_LYRICS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_LYRICS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_LYRICS_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LOQA_LYRICS_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_LYRICS_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.FFmpegCommand, "LOQA_LYRICS_AUDIO_FFMPEG_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_LYRICS_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_LYRICS_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.DetectionWindowSec, "LOQA_LYRICS_AUDIO_DETECTION_WINDOW_SEC")
	overrideInt(&cfg.Audio.TimeoutMS, "LOQA_LYRICS_AUDIO_TIMEOUT_MS")
	overrideString(&cfg.Separator.Command, "LOQA_LYRICS_SEPARATOR_COMMAND")
	overrideString(&cfg.Separator.Stem, "LOQA_LYRICS_SEPARATOR_STEM")
	overrideInt(&cfg.Separator.TimeoutMS, "LOQA_LYRICS_SEPARATOR_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "LOQA_LYRICS_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_LYRICS_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "LOQA_LYRICS_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_LYRICS_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_LYRICS_STT_MODEL")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_LYRICS_STT_TIMEOUT_MS")
	overrideString(&cfg.STT.MockText, "LOQA_LYRICS_STT_MOCK_TEXT")
	overrideString(&cfg.Pipeline.ScratchDir, "LOQA_LYRICS_PIPELINE_SCRATCH_DIR")
	overrideString(&cfg.Upload.Dir, "LOQA_LYRICS_UPLOAD_DIR")
	overrideInt64(&cfg.Upload.MaxBytes, "LOQA_LYRICS_UPLOAD_MAX_BYTES")
	overrideStringSlice(&cfg.CORS.AllowedOrigins, "LOQA_LYRICS_CORS_ALLOWED_ORIGINS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.log_level must be debug, info, warn, or error, got %q", cfg.Telemetry.LogLevel)
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.MaxConcurrency <= 0 {
			return errors.New("bus.max_concurrency must be >= 1")
		}
		if cfg.Node.ID == "" || strings.ContainsAny(cfg.Node.ID, ".*> \t") {
			return fmt.Errorf("node.id must be a non-empty subject token, got %q", cfg.Node.ID)
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must exceed heartbeat_interval_ms")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if strings.TrimSpace(cfg.Audio.FFmpegCommand) == "" {
		return errors.New("audio.ffmpeg_command must not be empty")
	}
	// Separation and transcription both expect mono 44.1 kHz input.
	if cfg.Audio.SampleRate != 44100 {
		return fmt.Errorf("audio.sample_rate must be 44100, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1 (mono), got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.DetectionWindowSec <= 0 {
		return errors.New("audio.detection_window_sec must be positive")
	}
	if strings.TrimSpace(cfg.Separator.Command) == "" {
		return errors.New("separator.command must not be empty")
	}
	if cfg.Separator.Stem == "" {
		return errors.New("separator.stem must not be empty")
	}
	switch cfg.STT.Mode {
	case "deepgram":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=deepgram")
		}
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key (or DEEPGRAM_API_KEY) must be set when mode=deepgram")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of deepgram|exec|mock")
	}
	if cfg.STT.Model == "" {
		return errors.New("stt.model must not be empty")
	}
	if cfg.Pipeline.ScratchDir == "" {
		return errors.New("pipeline.scratch_dir must not be empty")
	}
	if cfg.Upload.Dir == "" {
		return errors.New("upload.dir must not be empty")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	return nil
}
