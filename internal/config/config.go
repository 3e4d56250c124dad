// Package config loads and validates the calsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Remote backends.
const (
	BackendHub    = "hub"
	BackendWebDAV = "webdav"
)

const (
	defaultAccountType   = "org.openintents.calendar.account"
	defaultCalendarsPath = "Calendars"
	defaultSchedule      = "@every 1h"
	defaultFeedTimeout   = 15 * time.Second
	maxFeedTimeout       = 5 * time.Minute
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Account owns every local calendar row the sync engine touches.
	Account AccountConfig `yaml:"account"`

	// Remote locates the user's remote storage.
	Remote RemoteConfig `yaml:"remote"`

	// Database is the path of the local calendar database. Empty means
	// ~/.local/share/calsync/calendar.db.
	Database string `yaml:"database"`

	// Schedule is the cron spec of the daemon's full sync. Defaults to
	// "@every 1h".
	Schedule string `yaml:"schedule"`

	// FeedTimeout bounds each download of a subscribed iCalendar feed.
	// Defaults to 15s.
	FeedTimeout time.Duration `yaml:"feed_timeout"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// AccountConfig identifies the local account.
type AccountConfig struct {
	Name string `yaml:"name"`
	// Type defaults to "org.openintents.calendar.account".
	Type string `yaml:"type"`
}

// RemoteConfig selects and configures the remote storage backend.
type RemoteConfig struct {
	// Backend is "hub" or "webdav".
	Backend string        `yaml:"backend"`
	Hub     *HubConfig    `yaml:"hub,omitempty"`
	WebDAV  *WebDAVConfig `yaml:"webdav,omitempty"`

	// CalendarsPath is the path of the calendar list document. Defaults to
	// "Calendars".
	CalendarsPath string `yaml:"calendars_path"`
}

// HubConfig configures an HTTP storage hub.
type HubConfig struct {
	ReadURL  string `yaml:"read_url"`
	WriteURL string `yaml:"write_url"`
	// Token authorises writes. Without it the session is signed out and
	// every sync is refused.
	Token string `yaml:"token"`
}

// WebDAVConfig configures a WebDAV collection.
type WebDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/calsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and fills in defaults.
func (c *Config) validate() error {
	if c.Account.Name == "" {
		return fmt.Errorf("account.name is required")
	}
	if c.Account.Type == "" {
		c.Account.Type = defaultAccountType
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("schedule %q: %w", c.Schedule, err)
	}

	if c.FeedTimeout == 0 {
		c.FeedTimeout = defaultFeedTimeout
	}
	if c.FeedTimeout < 0 || c.FeedTimeout > maxFeedTimeout {
		return fmt.Errorf("feed_timeout %v must be between 0 and %v", c.FeedTimeout, maxFeedTimeout)
	}

	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.CalendarsPath == "" {
		r.CalendarsPath = defaultCalendarsPath
	}

	switch r.Backend {
	case BackendHub:
		if r.Hub == nil {
			return fmt.Errorf("remote.hub is required for the hub backend")
		}
		if err := httpURL("remote.hub.read_url", r.Hub.ReadURL); err != nil {
			return err
		}
		return httpURL("remote.hub.write_url", r.Hub.WriteURL)
	case BackendWebDAV:
		if r.WebDAV == nil {
			return fmt.Errorf("remote.webdav is required for the webdav backend")
		}
		return httpURL("remote.webdav.url", r.WebDAV.URL)
	case "":
		return fmt.Errorf("remote.backend is required (%q or %q)", BackendHub, BackendWebDAV)
	default:
		return fmt.Errorf("remote.backend %q is not %q or %q", r.Backend, BackendHub, BackendWebDAV)
	}
}

func httpURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s %q must be a valid http or https URL", key, raw)
	}
	return nil
}
