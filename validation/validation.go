package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"mangago/config"
)

// ValidateChapterURL checks that raw is an absolute http(s) chapter reader
// url on one of the given domains (subdomains included).
func ValidateChapterURL(raw string, domains []string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("chapter URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid chapter URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("chapter URL must use http or https")
	}
	if u.Hostname() == "" {
		return errors.New("chapter URL has no host")
	}

	host := strings.ToLower(u.Hostname())
	for _, domain := range domains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return errors.New("unsupported site: " + host)
}

// ValidateConfig checks the values Load cannot reject on its own.
func ValidateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	base, err := url.Parse(cfg.Site.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL, got %q", cfg.Site.BaseURL)
	}
	if cfg.Site.UserAgent == "" {
		return errors.New("site.user_agent is required")
	}
	if cfg.HTTP.Timeout < 0 {
		return errors.New("http.timeout must not be negative")
	}
	if cfg.Sandbox.Timeout <= 0 {
		return errors.New("sandbox.timeout must be positive")
	}
	if cfg.Download.Workers < 1 {
		return errors.New("download.workers must be at least 1")
	}
	if cfg.Download.Interval < 0 {
		return errors.New("download.interval must not be negative")
	}
	if cfg.Download.JPEGQuality < 1 || cfg.Download.JPEGQuality > 100 {
		return errors.New("download.jpeg_quality must be between 1 and 100")
	}
	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	return nil
}
