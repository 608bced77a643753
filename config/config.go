package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Auth          AuthConfig          `yaml:"auth"`
	Users         []User              `yaml:"users"`
	Storage       StorageConfig       `yaml:"storage"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Mineru        MineruConfig        `yaml:"mineru"`
	Minio         MinioConfig         `yaml:"minio"`
	Fetch         FetchConfig         `yaml:"fetch"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// User is a seed account for the mock user store.
type User struct {
	ID       int64  `yaml:"id"`
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type StorageConfig struct {
	UploadDir     string `yaml:"upload_dir"`
	TempDir       string `yaml:"temp_dir"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	RegistryFile  string `yaml:"registry_file"`
}

type ConversionConfig struct {
	Engine       string `yaml:"engine"` // local, mineru
	OutputFormat string `yaml:"output_format"`
	UseLLM       bool   `yaml:"use_llm"`
	Workers      int    `yaml:"workers"`
}

type MineruConfig struct {
	APIURL       string        `yaml:"api_url"`
	APIToken     string        `yaml:"api_token"`
	ModelVersion string        `yaml:"model_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type ConversationsConfig struct {
	Backend string `yaml:"backend"` // memory, redis
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Load reads the YAML file at path, applies .env and process environment
// overrides and fills in defaults. A missing file is not an error; the
// service then runs entirely on defaults and environment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Storage.UploadDir = v
	}
	if v := os.Getenv("PDF_TEMP_DIR"); v != "" {
		cfg.Storage.TempDir = v
	}
	if v, ok := os.LookupEnv("USE_LLM"); ok {
		cfg.Conversion.UseLLM = ParseBool(v)
	}
	if v := os.Getenv("MARKER_OUTPUT_FORMAT"); v != "" {
		cfg.Conversion.OutputFormat = v
	}
	if v := os.Getenv("MINERU_API_TOKEN"); v != "" {
		cfg.Mineru.APIToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "your-super-secret-and-long-random-string"
	}
	if cfg.Auth.TokenExpireHours == 0 {
		cfg.Auth.TokenExpireHours = 24
	}
	if len(cfg.Users) == 0 {
		cfg.Users = []User{
			{ID: 1, Email: "admin@example.com", Name: "Admin", Password: "password"},
			{ID: 2, Email: "test@example.com", Name: "Test", Password: "password"},
		}
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./uploads"
	}
	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = "./temp/pdf"
	}
	if cfg.Storage.MaxUploadSize == 0 {
		cfg.Storage.MaxUploadSize = 20 * 1024 * 1024
	}
	if cfg.Storage.RegistryFile == "" {
		cfg.Storage.RegistryFile = "mock_pdfs.json"
	}
	if cfg.Conversion.Engine == "" {
		cfg.Conversion.Engine = "local"
	}
	if cfg.Conversion.OutputFormat == "" {
		cfg.Conversion.OutputFormat = "markdown"
	}
	if cfg.Conversion.Workers <= 0 {
		cfg.Conversion.Workers = max(runtime.NumCPU()/2, 1)
	}
	if cfg.Mineru.ModelVersion == "" {
		cfg.Mineru.ModelVersion = "vlm"
	}
	if cfg.Mineru.PollInterval == 0 {
		cfg.Mineru.PollInterval = 5 * time.Second
	}
	if cfg.Mineru.MaxPolls == 0 {
		cfg.Mineru.MaxPolls = 60
	}
	if cfg.Minio.ExpireDays == 0 {
		cfg.Minio.ExpireDays = 7
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Conversations.Backend == "" {
		cfg.Conversations.Backend = "memory"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
}

// ParseBool treats empty, "false", "0", "no", "n" and "f" as false and
// anything else as true.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "n", "f":
		return false
	}
	return true
}

// FindUser finds a seed user by email
func (c *Config) FindUser(email string) *User {
	for i := range c.Users {
		if c.Users[i].Email == email {
			return &c.Users[i]
		}
	}
	return nil
}

// TokenTTL returns the configured JWT lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenExpireHours) * time.Hour
}
