package config

import "time"

// Config is the root configuration for Tandem.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Database      DatabaseConfig      `yaml:"database"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Live          LiveConfig          `yaml:"live"`
	MCP           MCPConfig           `yaml:"mcp"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	SecretDir      string        `yaml:"secret_dir"`
	Issuer         string        `yaml:"issuer"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is used by the sqlite driver.
	Path string `yaml:"path"`
	// DSN is used by the postgres driver.
	DSN string `yaml:"dsn"`
}

// Field change policies.
const (
	FieldChangesCollapse = "collapse"
	FieldChangesPerField = "per_field"
)

type NotificationsConfig struct {
	// FieldChanges selects how several scalar field changes in one update
	// are reported: "collapse" into one TASK_UPDATED or "per_field".
	FieldChanges string `yaml:"field_changes"`
	// CompletedStatus names the workspace status that turns a status change
	// into TASK_COMPLETED. Empty disables the special case.
	CompletedStatus string `yaml:"completed_status"`
	// DefaultStatuses are created with every new workspace.
	DefaultStatuses []string `yaml:"default_statuses"`
}

type LiveConfig struct {
	Shards         int           `yaml:"shards"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OriginPatterns []string      `yaml:"origin_patterns"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig bounds authenticated requests per user. A zero
// RequestsPerMinute disables the limit.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		Auth: AuthConfig{
			SecretDir:      "~/.config/tandem",
			Issuer:         "tandem",
			AccessTokenTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.config/tandem/tandem.db",
		},
		Notifications: NotificationsConfig{
			FieldChanges:    FieldChangesCollapse,
			CompletedStatus: "Completed",
			DefaultStatuses: []string{"To Do", "In Progress", "Completed"},
		},
		Live: LiveConfig{
			Shards:       32,
			SendBuffer:   64,
			WriteTimeout: 10 * time.Second,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 200,
			Burst:             100,
		},
	}
}
