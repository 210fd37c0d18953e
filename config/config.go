package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all marconilink configuration.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Store         StoreConfig         `yaml:"store"`
	Storage       StorageConfig       `yaml:"storage"`
	Session       SessionConfig       `yaml:"session"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Admin         AdminConfig         `yaml:"admin"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig configures the listener and the REST surface.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	BasePath       string   `yaml:"base_path"` // every route is mounted below this
	PublicURL      string   `yaml:"public_url"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // postgres, sqlite, memory
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// StorageConfig configures the attachment bucket.
type StorageConfig struct {
	Root       string `yaml:"root"`
	Bucket     string `yaml:"bucket"`
	SigningKey string `yaml:"signing_key"`
	URLTTL     string `yaml:"url_ttl"`
}

type SessionConfig struct {
	Lifetime   string `yaml:"lifetime"`
	CookieName string `yaml:"cookie_name"`
}

type NotificationsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval"`
	InboxSize int    `yaml:"inbox_size"`
}

// AdminConfig holds the profile codes that grant extra rights and the bcrypt
// hash of the API key accepted by the broadcast endpoint.
type AdminConfig struct {
	AdminCode      string `yaml:"admin_code"`
	SuperAdminCode string `yaml:"superadmin_code"`
	APIKeyHash     string `yaml:"api_key_hash"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:           ":8080",
			BasePath:       "/api",
			CORSOrigins:    []string{"*"},
			MaxUploadBytes: 50 << 20,
			ReadTimeout:    "30s",
			WriteTimeout:   "60s",
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			DSN:      "marconilink.db",
			MaxConns: 10,
		},
		Storage: StorageConfig{
			Root:   "data",
			Bucket: "attachments",
			URLTTL: "8760h",
		},
		Session: SessionConfig{
			Lifetime:   "8760h",
			CookieName: "marconilink_session",
		},
		Notifications: NotificationsConfig{
			Enabled:   true,
			Interval:  "30s",
			InboxSize: 50,
		},
		Admin: AdminConfig{
			AdminCode:      "J",
			SuperAdminCode: "SUPERADMIN2024",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Store.Driver = "postgres"
		c.Store.DSN = dsn
	}
	if driver := os.Getenv("MARCONILINK_STORE_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	if addr := os.Getenv("MARCONILINK_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	if key := os.Getenv("MARCONILINK_SIGNING_KEY"); key != "" {
		c.Storage.SigningKey = key
	}
	if hash := os.Getenv("MARCONILINK_ADMIN_KEY_HASH"); hash != "" {
		c.Admin.APIKeyHash = hash
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for postgres")
	}
	if c.Storage.SigningKey == "" {
		return fmt.Errorf("storage.signing_key (or MARCONILINK_SIGNING_KEY) is required")
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		return fmt.Errorf("http.base_path must start with /")
	}
	if c.Notifications.InboxSize < 0 {
		return fmt.Errorf("notifications.inbox_size must not be negative")
	}
	for name, v := range map[string]string{
		"http.read_timeout":      c.HTTP.ReadTimeout,
		"http.write_timeout":     c.HTTP.WriteTimeout,
		"storage.url_ttl":        c.Storage.URLTTL,
		"session.lifetime":       c.Session.Lifetime,
		"notifications.interval": c.Notifications.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a validated duration field, falling back to def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
