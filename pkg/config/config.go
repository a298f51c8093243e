package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/autohub/pkg/kvstore"
	"github.com/platinummonkey/autohub/pkg/observability"
)

// FileEnv names the optional YAML file loaded before environment overrides
const FileEnv = "AUTOHUB_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Firebase      FirebaseConfig      `yaml:"firebase"`
	GitHub        GitHubConfig        `yaml:"github"`
	Login         LoginConfig         `yaml:"login"`
	Store         kvstore.Config      `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// FirebaseConfig holds the Identity Toolkit settings
type FirebaseConfig struct {
	APIKey         string `yaml:"api_key"`
	ProjectID      string `yaml:"project_id"`
	BaseURL        string `yaml:"base_url"`
	VerifyIDTokens bool   `yaml:"verify_id_tokens"`
	JWKSURL        string `yaml:"jwks_url"`
}

// GitHubConfig holds the GitHub OAuth app used by the popup flow
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
}

// LoginConfig holds sign-in screen settings
type LoginConfig struct {
	SuccessURL    string        `yaml:"success_url"`
	RegisterURL   string        `yaml:"register_url"`
	CookieSecure  bool          `yaml:"cookie_secure"`
	DeviceTTL     time.Duration `yaml:"device_ttl"`
	MaxDevices    int           `yaml:"max_devices"`
	PopupTimeout  time.Duration `yaml:"popup_timeout"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	TemplateDir   string        `yaml:"template_dir"`

	// RateLimit caps sign-in submissions per client per minute; zero disables it
	RateLimit      int  `yaml:"rate_limit"`
	RateLimitBurst int  `yaml:"rate_limit_burst"`
	TrustProxy     bool `yaml:"trust_proxy"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool          `yaml:"otel_enabled"`
	OTelEndpoint       string        `yaml:"otel_endpoint"`
	OTelServiceName    string        `yaml:"otel_service_name"`
	OTelServiceVersion string        `yaml:"otel_service_version"`
	OTelEnvironment    string        `yaml:"otel_environment"`
	OTelInsecure       bool          `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64       `yaml:"otel_sample_ratio"`
	OTelExportInterval time.Duration `yaml:"otel_export_interval"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.StartTelemetry
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Environment:    o.OTelEnvironment,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		ExportInterval: o.OTelExportInterval,
	}
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Login: LoginConfig{
			SuccessURL:     "/",
			RegisterURL:    "/register",
			DeviceTTL:      24 * time.Hour,
			MaxDevices:     10000,
			PopupTimeout:   10 * time.Minute,
			SweepSchedule:  "@every 1m",
			RateLimit:      20,
			RateLimitBurst: 5,
		},
		Store: kvstore.DefaultConfig(),
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "autohub-login",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
			OTelExportInterval: 10 * time.Second,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by AUTOHUB_CONFIG_FILE and then environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	loadServerConfig(&cfg.Server)
	loadFirebaseConfig(&cfg.Firebase)
	loadGitHubConfig(&cfg.GitHub)
	loadLoginConfig(&cfg.Login)
	loadStoreConfig(&cfg.Store)
	loadObservabilityConfig(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file onto cfg; keys absent from the file keep
// their current values
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadServerConfig(cfg *ServerConfig) {
	cfg.Host = getEnv("AUTOHUB_HOST", cfg.Host)
	cfg.Port = getEnv("AUTOHUB_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("AUTOHUB_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("AUTOHUB_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("AUTOHUB_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("AUTOHUB_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HealthPort = getEnv("AUTOHUB_HEALTH_PORT", cfg.HealthPort)
}

func loadFirebaseConfig(cfg *FirebaseConfig) {
	cfg.APIKey = getEnv("AUTOHUB_FIREBASE_API_KEY", cfg.APIKey)
	cfg.ProjectID = getEnv("AUTOHUB_FIREBASE_PROJECT_ID", cfg.ProjectID)
	cfg.BaseURL = getEnv("AUTOHUB_FIREBASE_BASE_URL", cfg.BaseURL)
	cfg.VerifyIDTokens = getEnvBool("AUTOHUB_FIREBASE_VERIFY_ID_TOKENS", cfg.VerifyIDTokens)
	cfg.JWKSURL = getEnv("AUTOHUB_FIREBASE_JWKS_URL", cfg.JWKSURL)
}

func loadGitHubConfig(cfg *GitHubConfig) {
	cfg.ClientID = getEnv("AUTOHUB_GITHUB_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getEnv("AUTOHUB_GITHUB_CLIENT_SECRET", cfg.ClientSecret)
	cfg.RedirectURL = getEnv("AUTOHUB_GITHUB_REDIRECT_URL", cfg.RedirectURL)
	cfg.AuthURL = getEnv("AUTOHUB_GITHUB_AUTH_URL", cfg.AuthURL)
	cfg.TokenURL = getEnv("AUTOHUB_GITHUB_TOKEN_URL", cfg.TokenURL)
}

func loadLoginConfig(cfg *LoginConfig) {
	cfg.SuccessURL = getEnv("AUTOHUB_SUCCESS_URL", cfg.SuccessURL)
	cfg.RegisterURL = getEnv("AUTOHUB_REGISTER_URL", cfg.RegisterURL)
	cfg.CookieSecure = getEnvBool("AUTOHUB_COOKIE_SECURE", cfg.CookieSecure)
	cfg.DeviceTTL = getEnvDuration("AUTOHUB_DEVICE_TTL", cfg.DeviceTTL)
	cfg.MaxDevices = getEnvInt("AUTOHUB_MAX_DEVICES", cfg.MaxDevices)
	cfg.PopupTimeout = getEnvDuration("AUTOHUB_POPUP_TIMEOUT", cfg.PopupTimeout)
	cfg.SweepSchedule = getEnv("AUTOHUB_POPUP_SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.TemplateDir = getEnv("AUTOHUB_TEMPLATE_DIR", cfg.TemplateDir)
	cfg.RateLimit = getEnvInt("AUTOHUB_LOGIN_RATE_LIMIT", cfg.RateLimit)
	cfg.RateLimitBurst = getEnvInt("AUTOHUB_LOGIN_RATE_BURST", cfg.RateLimitBurst)
	cfg.TrustProxy = getEnvBool("AUTOHUB_TRUST_PROXY", cfg.TrustProxy)
}

func loadStoreConfig(cfg *kvstore.Config) {
	cfg.Type = getEnv("AUTOHUB_STORE_TYPE", cfg.Type)

	// Redis config
	cfg.RedisURL = getEnv("AUTOHUB_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("AUTOHUB_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("AUTOHUB_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if maxRetries := getEnvInt("AUTOHUB_REDIS_MAX_RETRIES", 0); maxRetries > 0 {
		cfg.RedisMaxRetries = maxRetries
	}
	if poolSize := getEnvInt("AUTOHUB_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	// SQL config
	cfg.PostgresURL = getEnv("AUTOHUB_POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("AUTOHUB_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	cfg.SQLitePath = getEnv("AUTOHUB_SQLITE_PATH", cfg.SQLitePath)

	cfg.KeyTTL = getEnvDuration("AUTOHUB_STORE_KEY_TTL", cfg.KeyTTL)
}

func loadObservabilityConfig(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("AUTOHUB_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("AUTOHUB_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTelEnabled = getEnvBool("AUTOHUB_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("AUTOHUB_OTEL_ENDPOINT", cfg.OTelEndpoint)
	cfg.OTelServiceName = getEnv("AUTOHUB_OTEL_SERVICE_NAME", cfg.OTelServiceName)
	cfg.OTelServiceVersion = getEnv("AUTOHUB_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion)
	cfg.OTelEnvironment = getEnv("AUTOHUB_OTEL_ENVIRONMENT", cfg.OTelEnvironment)
	cfg.OTelInsecure = getEnvBool("AUTOHUB_OTEL_INSECURE", cfg.OTelInsecure)
	cfg.OTelSampleRatio = getEnvFloat("AUTOHUB_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio)
	cfg.OTelExportInterval = getEnvDuration("AUTOHUB_OTEL_EXPORT_INTERVAL", cfg.OTelExportInterval)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Firebase.APIKey == "" {
		return fmt.Errorf("firebase api key is required (AUTOHUB_FIREBASE_API_KEY)")
	}
	if c.Firebase.VerifyIDTokens && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase project id is required when id token verification is enabled")
	}
	if c.GitHub.ClientID != "" && c.GitHub.RedirectURL == "" {
		return fmt.Errorf("github redirect url is required when a github client id is set")
	}

	if c.Login.DeviceTTL <= 0 {
		return fmt.Errorf("device ttl must be positive")
	}
	if c.Login.PopupTimeout <= 0 {
		return fmt.Errorf("popup timeout must be positive")
	}
	if c.Login.MaxDevices <= 0 {
		return fmt.Errorf("max devices must be positive")
	}
	if c.Login.RateLimit < 0 || c.Login.RateLimitBurst < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}

	switch c.Store.Type {
	case kvstore.TypeMemory:
	case kvstore.TypeRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	case kvstore.TypePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case kvstore.TypeSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, redis, postgres, or sqlite)", c.Store.Type)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
