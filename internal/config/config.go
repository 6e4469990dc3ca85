// Package config loads relay configuration from YAML.
//
// DESIGN: One YAML file describes the server, the per-provider upstream
// settings, compression, logging, and the bookkeeping store. Values support
// ${VAR} and ${VAR:-default} environment expansion so secrets stay out of
// the file. Defaults() is a runnable configuration; Load overlays the file
// on top of it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelrelay/modelrelay/internal/monitoring"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProviderConfig is the upstream settings for one provider.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`

	Timeout time.Duration `yaml:"timeout"`
}

// CompressionConfig controls the tool-result TOON pass.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`

	// ModelsFile overlays the built-in capability table when set.
	ModelsFile string `yaml:"models_file"`
}

// StoreConfig controls the request recorder.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Compression CompressionConfig         `yaml:"compression"`
	Store       StoreConfig               `yaml:"store"`
	Logging     monitoring.LoggerConfig   `yaml:"logging"`
}

// Defaults returns a runnable configuration: OpenAI and DeepSeek enabled
// with keys from the conventional environment variables, compression on,
// store off.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 15 * time.Minute,
		},
		Providers: map[string]ProviderConfig{
			"openai":   {Enabled: true, APIKey: os.Getenv("OPENAI_API_KEY")},
			"deepseek": {Enabled: true, APIKey: os.Getenv("DEEPSEEK_API_KEY")},
			"bedrock":  {Enabled: false, Region: os.Getenv("AWS_REGION")},
		},
		Compression: CompressionConfig{Enabled: true},
		Store:       StoreConfig{Enabled: false, Path: "modelrelay.db"},
		Logging:     monitoring.LoggerConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for
// default values.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file, overlaid on Defaults().
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration YAML after environment expansion.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	enabled := 0
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		switch name {
		case "openai", "deepseek":
			if p.APIKey == "" {
				return fmt.Errorf("provider %q enabled without api_key", name)
			}
		case "bedrock":
			// Credentials come from the AWS chain; nothing to check here.
		default:
			return fmt.Errorf("unknown provider %q in config", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no providers enabled")
	}
	return nil
}
