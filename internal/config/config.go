package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// ModelConfig describes the external synthesis engine.
type ModelConfig struct {
	Mode          string `yaml:"mode"` // exec, mock
	Device        string `yaml:"device"`
	Language      string `yaml:"language"`
	CacheDir      string `yaml:"cache_dir"`
	Command       string `yaml:"command"`
	LoadTimeoutMS int    `yaml:"load_timeout_ms"`
	SampleRate    int    `yaml:"sample_rate"`
}

type SynthesisConfig struct {
	Workers        int     `yaml:"workers"`
	MaxTextLength  int     `yaml:"max_text_length"`
	DefaultSpeaker string  `yaml:"default_speaker"`
	DefaultSpeed   float64 `yaml:"default_speed"`
	MinSpeed       float64 `yaml:"min_speed"`
	MaxSpeed       float64 `yaml:"max_speed"`
}

// TranscodeConfig describes the external WAV-to-MP3 conversion step.
type TranscodeConfig struct {
	Command string `yaml:"command"`
	Bitrate string `yaml:"bitrate"`
}

type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Model       ModelConfig     `yaml:"model"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Transcode   TranscodeConfig `yaml:"transcode"`
	CORS        CORSConfig      `yaml:"cors"`
}

func Default() Config {
	return Config{
		ServiceName: "meloserve",
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Model: ModelConfig{
			Mode:          "exec",
			Device:        "auto",
			Language:      "EN",
			CacheDir:      "./models",
			Command:       "melo-engine",
			LoadTimeoutMS: 120000,
			SampleRate:    44100,
		},
		Synthesis: SynthesisConfig{
			Workers:        4,
			MaxTextLength:  1000,
			DefaultSpeaker: "EN-US",
			DefaultSpeed:   1.0,
			MinSpeed:       0.5,
			MaxSpeed:       2.0,
		},
		Transcode: TranscodeConfig{
			Command: "ffmpeg -hide_banner -loglevel error -f wav -i pipe:0 -f mp3 pipe:1",
			Bitrate: "128k",
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
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

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString(&cfg.ServiceName, "MELO_SERVICE_NAME")
	overrideString(&cfg.Environment, "MELO_ENVIRONMENT")
	overrideString(&cfg.Server.Host, "MELO_HOST")
	overrideString(&cfg.Telemetry.LogLevel, "MELO_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MELO_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MELO_OTLP_INSECURE")
	overrideString(&cfg.Model.Mode, "MELO_MODEL_MODE")
	overrideString(&cfg.Model.Device, "MELO_DEVICE")
	overrideString(&cfg.Model.Language, "MELO_LANGUAGE")
	overrideString(&cfg.Model.CacheDir, "MELO_MODEL_CACHE_DIR")
	overrideString(&cfg.Model.Command, "MELO_MODEL_COMMAND")
	overrideString(&cfg.Synthesis.DefaultSpeaker, "MELO_DEFAULT_SPEAKER")
	overrideString(&cfg.Transcode.Command, "MELO_TRANSCODE_COMMAND")
	overrideString(&cfg.Transcode.Bitrate, "MELO_TRANSCODE_BITRATE")
	overrideStringSlice(&cfg.CORS.Origins, "MELO_CORS_ORIGINS")

	var errs []error
	errs = append(errs, overrideInt(&cfg.Server.Port, "MELO_PORT"))
	errs = append(errs, overrideInt(&cfg.Model.LoadTimeoutMS, "MELO_MODEL_LOAD_TIMEOUT_MS"))
	errs = append(errs, overrideInt(&cfg.Model.SampleRate, "MELO_MODEL_SAMPLE_RATE"))
	errs = append(errs, overrideInt(&cfg.Synthesis.Workers, "MELO_MAX_WORKERS"))
	errs = append(errs, overrideInt(&cfg.Synthesis.MaxTextLength, "MELO_MAX_TEXT_LENGTH"))
	errs = append(errs, overrideFloat(&cfg.Synthesis.DefaultSpeed, "MELO_DEFAULT_SPEED"))
	errs = append(errs, overrideFloat(&cfg.Synthesis.MinSpeed, "MELO_MIN_SPEED"))
	errs = append(errs, overrideFloat(&cfg.Synthesis.MaxSpeed, "MELO_MAX_SPEED"))
	return errors.Join(errs...)
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

// Numeric overrides fail loudly: a malformed value in the environment is a
// deployment mistake, not something to paper over with the default.
func overrideInt(target *int, envKey string) error {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", envKey, value, err)
	}
	*target = parsed
	return nil
}

func overrideFloat(target *float64, envKey string) error {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", envKey, value, err)
	}
	*target = parsed
	return nil
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
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", cfg.Server.Port)
	}
	switch cfg.Model.Mode {
	case "exec", "mock":
	default:
		return fmt.Errorf("unknown model mode: %q", cfg.Model.Mode)
	}
	switch cfg.Model.Device {
	case "auto", "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("unknown device: %q", cfg.Model.Device)
	}
	if cfg.Synthesis.Workers <= 0 {
		return fmt.Errorf("synthesis workers must be positive, got %d", cfg.Synthesis.Workers)
	}
	if cfg.Synthesis.MaxTextLength <= 0 {
		return fmt.Errorf("max text length must be positive, got %d", cfg.Synthesis.MaxTextLength)
	}
	if cfg.Synthesis.MinSpeed <= 0 || cfg.Synthesis.MaxSpeed < cfg.Synthesis.MinSpeed {
		return fmt.Errorf("invalid speed bounds [%v, %v]", cfg.Synthesis.MinSpeed, cfg.Synthesis.MaxSpeed)
	}
	if cfg.Synthesis.DefaultSpeed < cfg.Synthesis.MinSpeed || cfg.Synthesis.DefaultSpeed > cfg.Synthesis.MaxSpeed {
		return fmt.Errorf("default speed %v outside [%v, %v]",
			cfg.Synthesis.DefaultSpeed, cfg.Synthesis.MinSpeed, cfg.Synthesis.MaxSpeed)
	}
	if strings.TrimSpace(cfg.Transcode.Command) == "" {
		return errors.New("transcode command must not be empty")
	}
	return nil
}
