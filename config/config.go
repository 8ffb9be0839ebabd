package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultQuery = "I am providing business cards. I want JSON output with keys like " +
		"name, designation, company name, mobile number, email, and address in a structured format."
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	OCR      OCRConfig      `yaml:"ocr"`
	Upload   UploadConfig   `yaml:"upload"`
	Security SecurityConfig `yaml:"security"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
	Minio    MinioConfig    `yaml:"minio"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Env       string `yaml:"env"`
	SecretKey string `yaml:"secret_key"`
}

type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	MaxContentLength int64  `yaml:"max_content_length"`
	StaticDir        string `yaml:"static_dir"`
}

type OCRConfig struct {
	APIURL         string        `yaml:"api_url"`
	Query          string        `yaml:"query"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Preprocess     *bool         `yaml:"preprocess"`
}

type UploadConfig struct {
	MaxFileSize  int64    `yaml:"max_file_size"`
	AllowedTypes []string `yaml:"allowed_types"`
}

type SecurityConfig struct {
	CORSOrigins       string        `yaml:"cors_origins"`
	HeadersEnabled    *bool         `yaml:"headers_enabled"`
	RateLimitEnabled  *bool         `yaml:"rate_limit_enabled"`
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

type SessionConfig struct {
	CookieName  string        `yaml:"cookie_name"`
	TTL         time.Duration `yaml:"ttl"`
	MaxSessions int           `yaml:"max_sessions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MinioConfig configures the optional object-storage export sink.
type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

// Load builds the process configuration from .env, an optional YAML file and
// the environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.App.Env == "" {
		cfg.App.Env = EnvDevelopment
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate fails when production mode lacks required settings.
func (c *Config) Validate() error {
	if c.App.Env != EnvDevelopment && c.App.Env != EnvProduction {
		return fmt.Errorf("invalid APP_ENV %q: must be %s or %s", c.App.Env, EnvDevelopment, EnvProduction)
	}
	if !c.IsProduction() {
		return nil
	}

	var missing []string
	if strings.TrimSpace(c.OCR.APIURL) == "" {
		missing = append(missing, "OCR_API_URL")
	}
	if strings.TrimSpace(c.App.SecretKey) == "" {
		missing = append(missing, "SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("production configuration incomplete, missing: %s", strings.Join(missing, ", "))
	}
	if strings.Contains(c.App.SecretKey, "dev-key") {
		return errors.New("production deployment requires a secure SECRET_KEY")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// PreprocessImages reports whether uploads are decoded and re-encoded before submission.
func (c *Config) PreprocessImages() bool {
	return c.OCR.Preprocess == nil || *c.OCR.Preprocess
}

func (c *Config) SecurityHeadersEnabled() bool {
	return c.Security.HeadersEnabled == nil || *c.Security.HeadersEnabled
}

func (c *Config) RateLimitEnabled() bool {
	return c.Security.RateLimitEnabled == nil || *c.Security.RateLimitEnabled
}

// ScanDeadline bounds a whole scan: every attempt timing out plus every backoff delay.
func (c *Config) ScanDeadline() time.Duration {
	attempts := c.OCR.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	deadline := time.Duration(attempts) * c.OCR.RequestTimeout
	for i := 1; i < attempts; i++ {
		deadline += time.Duration(i) * c.OCR.RetryDelay
	}
	return deadline + 5*time.Second
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "CardScan Pro"
	}
	if c.App.Version == "" {
		c.App.Version = "1.0.0"
	}
	if c.App.SecretKey == "" {
		c.App.SecretKey = randomSecret()
		slog.Warn("SECRET_KEY not set, generated an ephemeral key; sessions will not survive restarts")
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxContentLength == 0 {
		c.Server.MaxContentLength = 16 << 20
	}

	if c.OCR.APIURL == "" {
		c.OCR.APIURL = "http://localhost:8000/upload"
	}
	if c.OCR.Query == "" {
		c.OCR.Query = DefaultQuery
	}
	if c.OCR.RequestTimeout == 0 {
		c.OCR.RequestTimeout = 30 * time.Second
	}
	if c.OCR.MaxRetries == 0 {
		c.OCR.MaxRetries = 3
	}
	if c.OCR.RetryDelay == 0 {
		c.OCR.RetryDelay = time.Second
	}

	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 10 << 20
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff"}
	}

	if c.Security.CORSOrigins == "" {
		c.Security.CORSOrigins = "*"
	}
	if c.Security.RateLimitRequests == 0 {
		c.Security.RateLimitRequests = 100
	}
	if c.Security.RateLimitWindow == 0 {
		c.Security.RateLimitWindow = time.Hour
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "cardscan_session"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 1000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
}

func (c *Config) applyEnv() error {
	setString(&c.App.Env, "APP_ENV")
	setString(&c.App.SecretKey, "SECRET_KEY")

	setString(&c.Server.Host, "HOST")
	setString(&c.Server.StaticDir, "STATIC_DIR")

	setString(&c.OCR.APIURL, "OCR_API_URL")
	setString(&c.OCR.Query, "OCR_QUERY")

	setString(&c.Security.CORSOrigins, "CORS_ORIGINS")

	setString(&c.Session.CookieName, "SESSION_COOKIE")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")

	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Minio.Region, "MINIO_REGION")

	c.Log.Level = strings.ToLower(c.Log.Level)
	c.App.Env = strings.ToLower(strings.TrimSpace(c.App.Env))

	var errs []error
	errs = append(errs,
		setInt(&c.Server.Port, "PORT"),
		setInt64(&c.Server.MaxContentLength, "MAX_CONTENT_LENGTH"),
		setDuration(&c.OCR.RequestTimeout, "REQUEST_TIMEOUT"),
		setInt(&c.OCR.MaxRetries, "MAX_RETRIES"),
		setDuration(&c.OCR.RetryDelay, "RETRY_DELAY"),
		setBoolPtr(&c.OCR.Preprocess, "PREPROCESS_IMAGES"),
		setInt64(&c.Upload.MaxFileSize, "MAX_FILE_SIZE"),
		setBoolPtr(&c.Security.HeadersEnabled, "SECURITY_HEADERS_ENABLED"),
		setBoolPtr(&c.Security.RateLimitEnabled, "RATE_LIMIT_ENABLED"),
		setInt(&c.Security.RateLimitRequests, "RATE_LIMIT_REQUESTS"),
		setDuration(&c.Security.RateLimitWindow, "RATE_LIMIT_WINDOW"),
		setDuration(&c.Session.TTL, "SESSION_TTL"),
		setInt(&c.Session.MaxSessions, "MAX_SESSIONS"),
		setBool(&c.Minio.UseSSL, "MINIO_USE_SSL"),
		setInt(&c.Minio.ExpireDays, "MINIO_EXPIRE_DAYS"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setBoolPtr(dst **bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = &b
	return nil
}

// setDuration accepts plain seconds ("30", "1.5") as well as Go durations ("30s").
func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := ParseSeconds(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// ParseSeconds parses a number of seconds or a Go duration string.
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate secret: %v", err))
	}
	return hex.EncodeToString(b)
}
