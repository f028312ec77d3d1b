package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/victorgomez09/garagedesk/internal/validation"
)

// Environment variables that override secrets in the YAML file.
const (
	EnvDatabaseDSN   = "GARAGE_DATABASE_DSN"
	EnvResetSecret   = "GARAGE_RESET_SECRET"
	EnvMailPassword  = "GARAGE_MAIL_PASSWORD"
	EnvRedisPassword = "GARAGE_REDIS_PASSWORD"
)

// GarageDesk is the root of the configuration file.
type GarageDesk struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Redis     Redis     `yaml:"redis"`
	Mail      Mail      `yaml:"mail"`
	Metrics   Metrics   `yaml:"metrics"`
	Activity  Activity  `yaml:"activity"`
}

type Server struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	TLS          *TLS     `yaml:"tls"`
	AllowedIPs   []string `yaml:"allowed_ips"`   // single addresses or CIDR ranges, empty allows all
	AllowedHosts []string `yaml:"allowed_hosts"` // Host header values, empty allows all
	TrustProxy   bool     `yaml:"trust_proxy"`   // take the client address from X-Forwarded-For / X-Real-IP

	RequestRate  float64 `yaml:"request_rate"` // per client IP, requests per second. 0 disables
	RequestBurst int     `yaml:"request_burst"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Security *Security `yaml:"security"`
	CORS     *CORS     `yaml:"cors"`
}

// TLS holds the certificate served by the HTTP server. Either a
// cert_file/key_file pair or ACME domains must be given.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	ACMEDomains  []string `yaml:"acme_domains"`
	ACMECacheDir string   `yaml:"acme_cache_dir"`
	ACMEEmail    string   `yaml:"acme_email"`

	CheckInterval   time.Duration `yaml:"check_interval"`   // certificate expiry check period
	ExpiryThreshold time.Duration `yaml:"expiry_threshold"` // warn when fewer than this remains
	AlertEmails     []string      `yaml:"alert_emails"`
}

type Database struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type Auth struct {
	SessionTTL        time.Duration `yaml:"session_ttl"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`

	MaxFailedAttempts int           `yaml:"max_failed_attempts"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	PBKDF2Iterations  int           `yaml:"pbkdf2_iterations"`

	ResetTokenTTL         time.Duration `yaml:"reset_token_ttl"`
	ResetSecret           string        `yaml:"reset_secret"`
	ResetURL              string        `yaml:"reset_url"`
	BootstrapPasswordFile string        `yaml:"bootstrap_password_file"`

	PasswordPolicy *validation.PasswordPolicy `yaml:"password_policy"`
}

type RateLimit struct {
	Backend     string        `yaml:"backend"` // memory or redis
	Attempts    int           `yaml:"attempts"`
	Window      time.Duration `yaml:"window"`
	IPAttempts  int           `yaml:"ip_attempts"`
	KeyPrefix   string        `yaml:"key_prefix"`
	ResetPerIP  int           `yaml:"reset_attempts"`
	ResetWindow time.Duration `yaml:"reset_window"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Mail struct {
	Enabled   bool   `yaml:"enabled"`
	SMTPHost  string `yaml:"smtp_host"`
	SMTPPort  int    `yaml:"smtp_port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	TLSPolicy string `yaml:"tls_policy"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Activity configures the admin websocket feed of audit records.
type Activity struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Security holds the response security headers.
type Security struct {
	HSTS                  bool   `yaml:"hsts"`
	HSTSMaxAge            int    `yaml:"hsts_max_age"`
	HSTSIncludeSubDomains bool   `yaml:"hsts_include_subdomains"`
	FrameOptions          string `yaml:"frame_options"`
	ContentTypeOptions    bool   `yaml:"content_type_options"`
	ReferrerPolicy        string `yaml:"referrer_policy"`
}

// CORS defines the configuration for Cross-Origin Resource Sharing.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	ExposedHeaders   []string `yaml:"exposed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// DefaultSecurity is applied when the server section has no security block.
var DefaultSecurity = Security{
	FrameOptions:       "DENY",
	ContentTypeOptions: true,
	ReferrerPolicy:     "no-referrer",
}

// Load reads the YAML file at path. A .env file next to the working
// directory is loaded first, so its variables can override secrets.
func Load(path string) (*GarageDesk, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration document and applies environment overrides.
// Unknown keys are rejected.
func Parse(data []byte) (*GarageDesk, error) {
	var cfg GarageDesk
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (cfg *GarageDesk) applyEnv() {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvResetSecret); v != "" {
		cfg.Auth.ResetSecret = v
	}
	if v := os.Getenv(EnvMailPassword); v != "" {
		cfg.Mail.Password = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate fills defaults, warning about the ones that matter, and rejects
// values the server cannot run with.
func (cfg *GarageDesk) Validate(logger *zap.Logger) error {
	s := &cfg.Server
	if s.Host == "" {
		s.Host = "localhost"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	if t := s.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			return fmt.Errorf("server tls requires both cert_file and key_file")
		}
		if t.CertFile == "" && len(t.ACMEDomains) == 0 {
			return fmt.Errorf("server tls requires cert_file and key_file or acme_domains")
		}
		if len(t.ACMEDomains) > 0 && t.ACMECacheDir == "" {
			t.ACMECacheDir = "acme-cache"
		}
		if t.CheckInterval == 0 {
			t.CheckInterval = 24 * time.Hour
		}
		if t.ExpiryThreshold == 0 {
			t.ExpiryThreshold = 30 * 24 * time.Hour
		}
	}
	if s.RequestRate < 0 || s.RequestBurst < 0 {
		return fmt.Errorf("request_rate and request_burst must not be negative")
	}
	if s.RequestRate > 0 && s.RequestBurst == 0 {
		s.RequestBurst = int(s.RequestRate * 2)
		if s.RequestBurst < 1 {
			s.RequestBurst = 1
		}
	}
	setDuration(&s.ReadTimeout, 15*time.Second)
	setDuration(&s.WriteTimeout, 15*time.Second)
	setDuration(&s.IdleTimeout, 60*time.Second)
	setDuration(&s.ShutdownTimeout, 30*time.Second)
	if s.Security == nil {
		sec := DefaultSecurity
		s.Security = &sec
	}

	db := &cfg.Database
	db.Driver = strings.ToLower(db.Driver)
	switch db.Driver {
	case "":
		db.Driver = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", db.Driver)
	}
	if db.DSN == "" {
		if db.Driver == "postgres" {
			return fmt.Errorf("database dsn is required for postgres")
		}
		db.DSN = "garagedesk.db"
		logger.Warn("database dsn not set, using default", zap.String("dsn", db.DSN))
	}

	a := &cfg.Auth
	setDuration(&a.SessionTTL, 24*time.Hour)
	if a.InactivityTimeout < 0 {
		return fmt.Errorf("inactivity_timeout must not be negative")
	}
	setDuration(&a.InactivityTimeout, 30*time.Minute)
	setDuration(&a.CleanupInterval, 10*time.Minute)
	if a.MaxFailedAttempts <= 0 {
		a.MaxFailedAttempts = 5
	}
	setDuration(&a.LockoutDuration, 30*time.Minute)
	if a.PBKDF2Iterations == 0 {
		a.PBKDF2Iterations = 100000
	}
	if a.PBKDF2Iterations < 100000 {
		return fmt.Errorf("pbkdf2_iterations must be at least 100000, got %d", a.PBKDF2Iterations)
	}
	setDuration(&a.ResetTokenTTL, time.Hour)
	if a.ResetSecret == "" {
		logger.Warn("auth reset_secret not set, password reset is disabled",
			zap.String("env", EnvResetSecret))
	} else if len(a.ResetSecret) < 32 {
		return fmt.Errorf("auth reset_secret must be at least 32 bytes")
	}
	if a.BootstrapPasswordFile == "" {
		a.BootstrapPasswordFile = "admin-password.txt"
	}
	if a.PasswordPolicy == nil {
		p := validation.DefaultPasswordPolicy()
		a.PasswordPolicy = &p
	}
	if a.PasswordPolicy.MinLength < 8 {
		return fmt.Errorf("password_policy min_length must be at least 8")
	}
	if m := a.PasswordPolicy.MaxLength; m != 0 && m < a.PasswordPolicy.MinLength {
		return fmt.Errorf("password_policy max_length must not be below min_length")
	}

	rl := &cfg.RateLimit
	rl.Backend = strings.ToLower(rl.Backend)
	switch rl.Backend {
	case "":
		rl.Backend = "memory"
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("rate_limit backend redis requires redis addr")
		}
	default:
		return fmt.Errorf("invalid rate_limit backend: %s", rl.Backend)
	}
	if rl.Attempts <= 0 {
		rl.Attempts = 5
	}
	setDuration(&rl.Window, 5*time.Minute)
	if rl.IPAttempts <= 0 {
		rl.IPAttempts = 20
	}
	if rl.ResetPerIP <= 0 {
		rl.ResetPerIP = 5
	}
	setDuration(&rl.ResetWindow, time.Hour)

	m := &cfg.Mail
	if m.Enabled {
		if m.SMTPHost == "" || m.From == "" {
			return fmt.Errorf("mail requires smtp_host and from")
		}
		if m.SMTPPort == 0 {
			m.SMTPPort = 587
		}
	} else {
		logger.Warn("mail disabled, reset links are written to the log only")
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") || strings.HasPrefix(cfg.Metrics.Path, "/api/") {
		return fmt.Errorf("invalid metrics path: %s", cfg.Metrics.Path)
	}

	return nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Addr is the listen address of the HTTP server.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
