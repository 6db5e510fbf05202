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
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Perception  PerceptionConfig  `yaml:"perception"`
	Session     SessionConfig     `yaml:"session"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Speech      SpeechConfig      `yaml:"speech"`
	Camera      CameraConfig      `yaml:"camera"`
	TextReader  TextReaderConfig  `yaml:"text_reader"`
	Journal     JournalConfig     `yaml:"journal"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// PerceptionConfig points the client at the external perception service.
type PerceptionConfig struct {
	Endpoint         string `yaml:"endpoint"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	Language         string `yaml:"language"`
}

// SessionConfig tunes the per-page perception session loop.
type SessionConfig struct {
	AnalysisIntervalMS int    `yaml:"analysis_interval_ms"`
	StartPage          string `yaml:"start_page"`
}

type InterpreterConfig struct {
	Enabled      bool `yaml:"enabled"`
	CooldownMS   int  `yaml:"cooldown_ms"`
	MountDelayMS int  `yaml:"mount_delay_ms"`
}

type RecognitionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

type SpeechConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Mode          string   `yaml:"mode"` // mock, exec
	Command       string   `yaml:"command"`
	VoicePrefs    []string `yaml:"voice_prefs"`
	VoiceRetryMS  int      `yaml:"voice_retry_ms"`
	DefaultLocale string   `yaml:"default_locale"`
}

type CameraConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
	Device  int    `yaml:"device"`
}

type TextReaderConfig struct {
	Enabled bool `yaml:"enabled"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "auralis-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Perception: PerceptionConfig{
			Endpoint:         "http://localhost:5000",
			RequestTimeoutMS: 15000,
			Language:         "en",
		},
		Session: SessionConfig{
			AnalysisIntervalMS: 2500,
			StartPage:          "home",
		},
		Interpreter: InterpreterConfig{
			Enabled:      true,
			CooldownMS:   1500,
			MountDelayMS: 1500,
		},
		Recognition: RecognitionConfig{
			Enabled: false,
			Mode:    "mock",
		},
		Speech: SpeechConfig{
			Enabled:       true,
			Mode:          "mock",
			VoiceRetryMS:  250,
			DefaultLocale: "en",
		},
		Camera: CameraConfig{
			Mode: "mock",
		},
		TextReader: TextReaderConfig{
			Enabled: true,
		},
		Journal: JournalConfig{
			Path:          "./data/auralis-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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
	overrideString(&cfg.RuntimeName, "AURALIS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "AURALIS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "AURALIS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "AURALIS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "AURALIS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "AURALIS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "AURALIS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "AURALIS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "AURALIS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "AURALIS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "AURALIS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "AURALIS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "AURALIS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "AURALIS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "AURALIS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "AURALIS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Perception.Endpoint, "AURALIS_PERCEPTION_ENDPOINT")
	overrideInt(&cfg.Perception.RequestTimeoutMS, "AURALIS_PERCEPTION_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Perception.Language, "AURALIS_PERCEPTION_LANGUAGE")
	overrideInt(&cfg.Session.AnalysisIntervalMS, "AURALIS_SESSION_ANALYSIS_INTERVAL_MS")
	overrideString(&cfg.Session.StartPage, "AURALIS_SESSION_START_PAGE")
	overrideBool(&cfg.Interpreter.Enabled, "AURALIS_INTERPRETER_ENABLED")
	overrideInt(&cfg.Interpreter.CooldownMS, "AURALIS_INTERPRETER_COOLDOWN_MS")
	overrideInt(&cfg.Interpreter.MountDelayMS, "AURALIS_INTERPRETER_MOUNT_DELAY_MS")
	overrideBool(&cfg.Recognition.Enabled, "AURALIS_RECOGNITION_ENABLED")
	overrideString(&cfg.Recognition.Mode, "AURALIS_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "AURALIS_RECOGNITION_COMMAND")
	overrideBool(&cfg.Speech.Enabled, "AURALIS_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "AURALIS_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "AURALIS_SPEECH_COMMAND")
	overrideStringSlice(&cfg.Speech.VoicePrefs, "AURALIS_SPEECH_VOICE_PREFS")
	overrideInt(&cfg.Speech.VoiceRetryMS, "AURALIS_SPEECH_VOICE_RETRY_MS")
	overrideString(&cfg.Speech.DefaultLocale, "AURALIS_SPEECH_DEFAULT_LOCALE")
	overrideString(&cfg.Camera.Mode, "AURALIS_CAMERA_MODE")
	overrideString(&cfg.Camera.Command, "AURALIS_CAMERA_COMMAND")
	overrideInt(&cfg.Camera.Device, "AURALIS_CAMERA_DEVICE")
	overrideBool(&cfg.TextReader.Enabled, "AURALIS_TEXT_READER_ENABLED")
	overrideString(&cfg.Journal.Path, "AURALIS_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "AURALIS_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "AURALIS_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "AURALIS_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "AURALIS_JOURNAL_VACUUM_ON_START")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Perception.Endpoint == "" {
		return errors.New("perception.endpoint must not be empty")
	}
	if cfg.Perception.RequestTimeoutMS <= 0 {
		return errors.New("perception.request_timeout_ms must be positive")
	}
	if cfg.Session.AnalysisIntervalMS <= 0 {
		return errors.New("session.analysis_interval_ms must be positive")
	}
	if cfg.Interpreter.Enabled {
		if cfg.Interpreter.CooldownMS < 0 {
			return errors.New("interpreter.cooldown_ms must be >= 0")
		}
		if cfg.Interpreter.MountDelayMS < 0 {
			return errors.New("interpreter.mount_delay_ms must be >= 0")
		}
	}
	if cfg.Recognition.Enabled {
		switch cfg.Recognition.Mode {
		case "mock", "exec":
		default:
			return errors.New("recognition.mode must be one of mock|exec")
		}
		if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
			return errors.New("recognition.command must be set when mode=exec")
		}
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec":
		default:
			return errors.New("speech.mode must be one of mock|exec")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.VoiceRetryMS <= 0 {
			return errors.New("speech.voice_retry_ms must be positive")
		}
	}
	switch cfg.Camera.Mode {
	case "mock", "exec":
	default:
		return errors.New("camera.mode must be one of mock|exec")
	}
	if cfg.Camera.Mode == "exec" && cfg.Camera.Command == "" {
		return errors.New("camera.command must be set when mode=exec")
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
