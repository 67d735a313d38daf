package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Models   ModelsConfig   `yaml:"models"`
	Engine   EngineConfig   `yaml:"engine"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type ModelsConfig struct {
	RemoteBaseURL   string        `yaml:"remote_base_url"`
	CacheDir        string        `yaml:"cache_dir"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type EngineConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
	Provider          string `yaml:"provider"`
	CacheSize         int    `yaml:"cache_size"`
	IntraOpThreads    int    `yaml:"intra_op_threads"`
}

type PipelineConfig struct {
	Interpolation string `yaml:"interpolation"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   120 * time.Second,
			MaxUploadBytes: 32 << 20,
		},
		Models: ModelsConfig{
			RemoteBaseURL:   "https://storage.googleapis.com/ailia-models/animeganv2/",
			CacheDir:        "./models",
			DownloadTimeout: 10 * time.Minute,
		},
		Engine: EngineConfig{
			Provider:  "cpu",
			CacheSize: 5,
		},
		Pipeline: PipelineConfig{
			Interpolation: "bilinear",
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults. A missing
// file is not an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}
	if dir := os.Getenv("MODEL_CACHE_DIR"); dir != "" {
		c.Models.CacheDir = dir
	}
	if url := os.Getenv("MODEL_REMOTE_URL"); url != "" {
		c.Models.RemoteBaseURL = url
	}
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		c.Engine.SharedLibraryPath = lib
	}
	if provider := os.Getenv("ENGINE_PROVIDER"); provider != "" {
		c.Engine.Provider = provider
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes cannot be negative")
	}
	if c.Models.RemoteBaseURL == "" {
		return fmt.Errorf("models.remote_base_url cannot be empty")
	}
	if c.Models.CacheDir == "" {
		return fmt.Errorf("models.cache_dir cannot be empty")
	}
	switch strings.ToLower(c.Engine.Provider) {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("engine.provider must be cpu or cuda, got %q", c.Engine.Provider)
	}
	if c.Engine.CacheSize < 0 {
		return fmt.Errorf("engine.cache_size cannot be negative")
	}
	if c.Engine.IntraOpThreads < 0 {
		return fmt.Errorf("engine.intra_op_threads cannot be negative")
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
