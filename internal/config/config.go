package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dodns/internal/model"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// TrustProxy honours X-Forwarded-For / X-Real-IP for client addresses.
	TrustProxy bool `yaml:"trust_proxy"`
}

type AuthConfig struct {
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PasswordHash string        `yaml:"password_hash"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type DigitalOceanConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	BaseDN       string `yaml:"base_dn"`
	UserFilter   string `yaml:"user_filter"`
	UsernameAttr string `yaml:"username_attr"`
	StartTLS     bool   `yaml:"starttls"`
	SkipVerify   bool   `yaml:"skip_verify"`
	GroupFilter  string `yaml:"group_filter"` // Defaults to (|(member=%s)(uniqueMember=%s))
	// AllowedGroup is the DN of the group whose members may log in.
	AllowedGroup string `yaml:"allowed_group"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	DigitalOcean DigitalOceanConfig `yaml:"digitalocean"`
	LDAP         LDAPConfig         `yaml:"ldap"`
	Log          LogConfig          `yaml:"log"`

	// Seed is taken from DO_API_TOKEN / DO_DNS_ZONE and saved on first run.
	Seed model.Configuration `yaml:"-"`
	// Warnings are non-fatal findings the caller should log.
	Warnings []string `yaml:"-"`
}

// Load reads the YAML file at path (missing file means defaults), applies
// .env and environment overrides, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("DODNS_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("DODNS_PORT", cfg.Server.Port)
	cfg.Auth.Password = getEnv("DODNS_PASSWORD", cfg.Auth.Password)
	cfg.Auth.PasswordHash = getEnv("DODNS_PASSWORD_HASH", cfg.Auth.PasswordHash)
	cfg.Store.Backend = getEnv("DODNS_STORE", cfg.Store.Backend)
	cfg.Store.Path = getEnv("DODNS_STORE_PATH", cfg.Store.Path)
	cfg.Database.DSN = getEnv("DODNS_DATABASE_DSN", cfg.Database.DSN)
	cfg.Log.Level = getEnv("DODNS_LOG_LEVEL", cfg.Log.Level)

	cfg.Seed = model.Configuration{
		APIToken: strings.TrimSpace(os.Getenv("DO_API_TOKEN")),
		DNSZone:  strings.TrimSpace(os.Getenv("DO_DNS_ZONE")),
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Auth.Username == "" {
		cfg.Auth.Username = "admin"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFile
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "dodns-state.yaml"
	}
	if cfg.DigitalOcean.BaseURL == "" {
		cfg.DigitalOcean.BaseURL = "https://api.digitalocean.com/"
	}
	if !strings.HasSuffix(cfg.DigitalOcean.BaseURL, "/") {
		cfg.DigitalOcean.BaseURL += "/"
	}
	if cfg.DigitalOcean.Timeout == 0 {
		cfg.DigitalOcean.Timeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.LDAP.Enabled {
		if cfg.LDAP.UserFilter == "" {
			cfg.LDAP.UserFilter = "(sAMAccountName=%s)"
		}
		if cfg.LDAP.UsernameAttr == "" {
			cfg.LDAP.UsernameAttr = "sAMAccountName"
		}
	}
}

func (cfg *Config) validate() error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}

	switch cfg.Store.Backend {
	case BackendFile:
	case BackendPostgres:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendFile, BackendPostgres, cfg.Store.Backend)
	}

	if cfg.Auth.Password != "" && cfg.Auth.PasswordHash != "" {
		return fmt.Errorf("set only one of auth.password and auth.password_hash")
	}
	if cfg.Auth.Password == "" && cfg.Auth.PasswordHash == "" && !cfg.LDAP.Enabled {
		return fmt.Errorf("auth.password or auth.password_hash is required when LDAP is disabled")
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	if cfg.LDAP.Enabled {
		if cfg.LDAP.URL == "" {
			return fmt.Errorf("ldap.url is required when LDAP is enabled")
		}
		if cfg.LDAP.BindDN == "" || cfg.LDAP.BindPassword == "" {
			return fmt.Errorf("ldap.bind_dn and ldap.bind_password are required")
		}
		if cfg.LDAP.BaseDN == "" {
			return fmt.Errorf("ldap.base_dn is required")
		}
		if cfg.LDAP.AllowedGroup == "" {
			return fmt.Errorf("ldap.allowed_group is required")
		}
		if strings.HasPrefix(cfg.LDAP.URL, "ldap://") && !cfg.LDAP.StartTLS {
			cfg.Warnings = append(cfg.Warnings, "LDAP is configured with ldap:// but StartTLS is disabled. Credentials will be sent in cleartext.")
		}
	}

	if cfg.Auth.Password != "" {
		cfg.Warnings = append(cfg.Warnings, "auth.password is set in plaintext; consider auth.password_hash (see `dodns hash-password`)")
	}
	return nil
}

// Addr is the listen address.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
