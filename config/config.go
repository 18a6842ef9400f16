package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the downloader.
type Config struct {
	Site     SiteConfig     `toml:"site" yaml:"site"`
	HTTP     HTTPConfig     `toml:"http" yaml:"http"`
	Sandbox  SandboxConfig  `toml:"sandbox" yaml:"sandbox"`
	Download DownloadConfig `toml:"download" yaml:"download"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

type SiteConfig struct {
	BaseURL   string            `toml:"base_url" yaml:"base_url"`
	UserAgent string            `toml:"user_agent" yaml:"user_agent"`
	Cookies   map[string]string `toml:"cookies" yaml:"cookies"` // sent with every request
}

type HTTPConfig struct {
	Timeout         time.Duration `toml:"timeout" yaml:"timeout"`
	BrowserFallback bool          `toml:"browser_fallback" yaml:"browser_fallback"` // retry the chapter page with chromedp
}

type SandboxConfig struct {
	Timeout time.Duration `toml:"timeout" yaml:"timeout"` // per key derivation
}

type DownloadConfig struct {
	Workers     int           `toml:"workers" yaml:"workers"`
	Interval    time.Duration `toml:"interval" yaml:"interval"`         // minimum gap between image requests
	JPEGQuality int           `toml:"jpeg_quality" yaml:"jpeg_quality"` // for pages converted from png/webp
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
	File   string `toml:"file" yaml:"file"`     // optional rotating log file
}

// Load reads the config file at path over the default values.
// The format is picked from the extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml", "":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:   "https://www.mangago.me",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Cookies: map[string]string{
				"_m_superu": "1",
			},
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			BrowserFallback: false,
		},
		Sandbox: SandboxConfig{
			Timeout: 2 * time.Second,
		},
		Download: DownloadConfig{
			Workers:     4,
			Interval:    250 * time.Millisecond,
			JPEGQuality: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
