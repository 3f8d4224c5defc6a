package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port                int      `yaml:"port"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		CORSOrigins         []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // memory | mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Uploads struct {
		Dir               string   `yaml:"dir"`
		MaxBytes          int64    `yaml:"max_bytes"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"uploads"`

	Processing struct {
		MinSeconds         float64 `yaml:"min_seconds"`
		MaxSeconds         float64 `yaml:"max_seconds"`
		FailureProbability float64 `yaml:"failure_probability"`
	} `yaml:"processing"`

	WebSocket struct {
		HeartbeatSeconds    int   `yaml:"heartbeat_seconds"`
		WriteTimeoutSeconds int   `yaml:"write_timeout_seconds"`
		PongTimeoutSeconds  int   `yaml:"pong_timeout_seconds"`
		MaxMessageBytes     int64 `yaml:"max_message_bytes"`
	} `yaml:"websocket"`

	Auth struct {
		DemoEmail    string `yaml:"demo_email"`
		DemoPassword string `yaml:"demo_password"`
		Token        string `yaml:"token"`
	} `yaml:"auth"`

	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 8000
	c.Server.ReadTimeoutSeconds = 15
	c.Server.WriteTimeoutSeconds = 15
	c.Server.IdleTimeoutSeconds = 60
	c.Server.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

	c.Database.Driver = "memory"
	c.Database.SSLMode = "disable"

	c.Minio.Region = "us-east-1"
	c.Minio.BucketName = "medical-images"

	c.Uploads.Dir = "uploads"
	c.Uploads.MaxBytes = 50 << 20
	c.Uploads.AllowedExtensions = []string{".jpg", ".jpeg", ".png", ".dcm", ".nii"}

	c.Processing.MinSeconds = 10
	c.Processing.MaxSeconds = 45
	c.Processing.FailureProbability = 0.05

	c.WebSocket.HeartbeatSeconds = 30
	c.WebSocket.WriteTimeoutSeconds = 10
	c.WebSocket.PongTimeoutSeconds = 60
	c.WebSocket.MaxMessageBytes = 64 << 10

	c.Auth.DemoEmail = "test@example.com"
	c.Auth.DemoPassword = "password123"

	c.OpenAI.Model = "gpt-4o-mini"

	c.Log.Level = "info"

	c.RateLimit.RequestsPerSecond = 20
	c.RateLimit.Burst = 40
	return &c
}

// Load baca file config.yaml di atas default, lalu terapkan env override.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = p
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.Driver, "DB_DRIVER")
	set(&c.Database.Password, "DB_PASSWORD")
	set(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	set(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Auth.Token, "AUTH_TOKEN")
	set(&c.Log.Level, "LOG_LEVEL")
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "memory", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be memory, mysql or postgres", c.Database.Driver))
	}
	if c.Processing.MinSeconds < 0 || c.Processing.MaxSeconds < c.Processing.MinSeconds {
		errs = append(errs, fmt.Errorf("processing: need 0 <= min_seconds (%v) <= max_seconds (%v)",
			c.Processing.MinSeconds, c.Processing.MaxSeconds))
	}
	if p := c.Processing.FailureProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("processing.failure_probability %v outside [0,1]", p))
	}
	if c.Uploads.MaxBytes <= 0 {
		errs = append(errs, errors.New("uploads.max_bytes must be positive"))
	}
	if len(c.Uploads.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("uploads.allowed_extensions must not be empty"))
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		errs = append(errs, errors.New("minio.endpoint required when minio is enabled"))
	}
	return errors.Join(errs...)
}

// MinDuration and MaxDuration bound the simulated workload.
func (c *Config) MinDuration() time.Duration { return seconds(c.Processing.MinSeconds) }
func (c *Config) MaxDuration() time.Duration { return seconds(c.Processing.MaxSeconds) }

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     c.Database.Name,
		RawQuery: "sslmode=" + c.Database.SSLMode,
	}
	return u.String()
}

// AllowedExtensions returns the lower-cased extension allow-list.
func (c *Config) AllowedExtensions() []string {
	out := make([]string, 0, len(c.Uploads.AllowedExtensions))
	for _, e := range c.Uploads.AllowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
