package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file looked up in the workspace.
const FileName = "agencyline.yml"

// Config models agencyline.yml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	WorkLogs   WorkLogConfig    `yaml:"worklogs"`
	Events     EventsConfig     `yaml:"events"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	GSC        GSCConfig        `yaml:"gsc"`
	Logging    LoggingConfig    `yaml:"logging"`
	Onboarding OnboardingConfig `yaml:"onboarding"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BasePath        string        `yaml:"base_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps JSON request bodies. Uploads are capped per file by storage.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	Workspace      string        `yaml:"workspace"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	ConnMaxLife    time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// AuthConfig holds token settings. The signing secret is read from the
// environment only and never stored in the file.
type AuthConfig struct {
	TokenTTL   time.Duration `yaml:"token_ttl"`
	AdminEmail string        `yaml:"admin_email"`
	AdminName  string        `yaml:"admin_name"`
}

type StorageConfig struct {
	UploadsDir        string   `yaml:"uploads_dir"`
	MaxFileBytes      int64    `yaml:"max_file_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type WorkLogConfig struct {
	PageSize       int `yaml:"page_size"`
	MaxPageSize    int `yaml:"max_page_size"`
	MaxAttachments int `yaml:"max_attachments"`
}

type EventsConfig struct {
	PageSize    int `yaml:"page_size"`
	MaxPageSize int `yaml:"max_page_size"`
}

type ScannerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	RunAt              string        `yaml:"run_at"`
	Timeout            time.Duration `yaml:"timeout"`
	UserAgent          string        `yaml:"user_agent"`
	SlowThreshold      time.Duration `yaml:"slow_threshold"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type GSCConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	LookbackDays    int    `yaml:"lookback_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type OnboardingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var timeOfDay = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be 'sqlite' or 'postgres'")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("config.server.max_body_bytes must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	if c.Storage.UploadsDir == "" {
		return fmt.Errorf("config.storage.uploads_dir is required")
	}
	if c.Storage.MaxFileBytes <= 0 {
		return fmt.Errorf("config.storage.max_file_bytes must be positive")
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		return fmt.Errorf("config.storage.allowed_extensions is required")
	}
	for _, ext := range c.Storage.AllowedExtensions {
		if strings.TrimSpace(ext) == "" {
			return fmt.Errorf("config.storage.allowed_extensions contains an empty entry")
		}
	}
	if c.WorkLogs.PageSize <= 0 {
		return fmt.Errorf("config.worklogs.page_size must be positive")
	}
	if c.WorkLogs.MaxPageSize < c.WorkLogs.PageSize {
		return fmt.Errorf("config.worklogs.max_page_size must be >= page_size")
	}
	if c.WorkLogs.MaxAttachments < 0 {
		return fmt.Errorf("config.worklogs.max_attachments must not be negative")
	}
	if c.Events.PageSize <= 0 {
		return fmt.Errorf("config.events.page_size must be positive")
	}
	if c.Events.MaxPageSize < c.Events.PageSize {
		return fmt.Errorf("config.events.max_page_size must be >= page_size")
	}
	if !timeOfDay.MatchString(c.Scanner.RunAt) {
		return fmt.Errorf("config.scanner.run_at must be HH:MM, got %q", c.Scanner.RunAt)
	}
	if c.Scanner.Timeout <= 0 {
		return fmt.Errorf("config.scanner.timeout must be positive")
	}
	if c.GSC.LookbackDays <= 0 {
		return fmt.Errorf("config.gsc.lookback_days must be positive")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config.logging.format must be 'json' or 'text'")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with al config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  shutdown_timeout: 5s
  max_body_bytes: 1048576

database:
  driver: sqlite
  dsn: ""
  workspace: .
  max_open_conns: 20
  max_idle_conns: 5
  conn_max_lifetime: 5m
  connect_timeout: 10s

auth:
  token_ttl: 720h
  admin_email: admin@agency.local
  admin_name: Administrator

storage:
  uploads_dir: uploads
  max_file_bytes: 10000000
  allowed_extensions: [jpeg, jpg, png, gif, webp, pdf, doc, docx, csv, xls, xlsx]

worklogs:
  page_size: 15
  max_page_size: 100
  max_attachments: 5

events:
  page_size: 50
  max_page_size: 200

scanner:
  enabled: true
  run_at: "00:00"
  timeout: 10s
  user_agent: agencyline-scanner/1.0
  slow_threshold: 2s
  insecure_skip_verify: false

gsc:
  credentials_file: ""
  lookback_days: 30

logging:
  level: info
  format: json

onboarding:
  enabled: true

webhooks: []
`
