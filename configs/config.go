package configs

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ToolSource describes one OpenAPI document and how to call the API it
// documents. Tags filters the compiled operations; empty or "all" means no
// filtering.
type ToolSource struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Tags    []string          `yaml:"tags,omitempty"`
	BaseURL string            `yaml:"base_url"`
	Token   string            `yaml:"token,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"` // applied to the document fetch only
}

// FileConfig is the structure loaded from the YAML configuration file.
type FileConfig struct {
	Sources []ToolSource `yaml:"sources"`
}

// Config holds the final application configuration, merged from file and
// environment variables. Environment variables use the prefix "OASBRIDGE_"
// and override file settings.
type Config struct {
	// Config file path (loaded first from env).
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"configs/oasbridge.yaml"`

	// File-loaded fields.
	Sources []ToolSource

	// Environment-overridable fields.
	ListenAddr               string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AdminListenAddr          string        `envconfig:"ADMIN_LISTEN_ADDR" default:":8081"`
	HTTPClientTimeout        time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"30s"`
	ShutdownTimeout          time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	CacheTTL                 time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	OtelExporterOtlpEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string        `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level for the configured LogLevel.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from environment variables (to get the file
// path), then from the YAML file, and finally applies environment
// overrides on top.
func Load() (*Config, error) {
	var initialCfg Config
	if err := envconfig.Process("oasbridge", &initialCfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	fileCfg := FileConfig{}
	if initialCfg.ConfigFilePath != "" {
		yamlFile, err := os.ReadFile(initialCfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		slog.Info("Loaded configuration from file.", "path", initialCfg.ConfigFilePath)
	}

	finalCfg := initialCfg
	finalCfg.Sources = make([]ToolSource, 0, len(fileCfg.Sources))
	for _, src := range fileCfg.Sources {
		if src.URL == "" {
			slog.Warn("Ignoring tool source without a url", "name", src.Name)
			continue
		}
		if src.Name == "" {
			src.Name = src.URL
		}
		finalCfg.Sources = append(finalCfg.Sources, src)
	}

	if err := envconfig.Process("oasbridge", &finalCfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}
	return &finalCfg, nil
}
