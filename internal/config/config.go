package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Admission AdmissionConfig `yaml:"admission"`
	Media     MediaConfig     `yaml:"media"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis connection settings for the attempt log and locks
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// StoreConfig selects the listing store backend
type StoreConfig struct {
	Type          string `yaml:"type"` // "postgres", "dynamodb" or "memory"
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StoreConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// AdmissionConfig holds submission rate limiting settings
type AdmissionConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
	MaxAttempts   int `yaml:"max_attempts"`
}

// Window returns the rate limiting window as a duration
func (c AdmissionConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// MediaConfig holds S3 media storage and URL resolution settings
type MediaConfig struct {
	S3Bucket        string `yaml:"s3_bucket"`
	S3Region        string `yaml:"s3_region"`
	AWSProfile      string `yaml:"aws_profile"`
	DefaultKey      string `yaml:"default_key"`
	PlaceholderURL  string `yaml:"placeholder_url"`
	PresignTTLHours int    `yaml:"presign_ttl_hours"`
	Enabled         bool   `yaml:"enabled"`
}

// PresignTTL returns the presigned URL lifetime as a duration
func (c MediaConfig) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLHours) * time.Hour
}

// GeocodingConfig holds reverse geocoding provider settings
type GeocodingConfig struct {
	PrimaryURL     string `yaml:"primary_url"`
	FallbackURL    string `yaml:"fallback_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c GeocodingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Store.AWSRegion == "" {
		cfg.Store.AWSRegion = "us-west-2"
	}
	if cfg.Admission.WindowMinutes == 0 {
		cfg.Admission.WindowMinutes = 60
	}
	if cfg.Admission.MaxAttempts == 0 {
		cfg.Admission.MaxAttempts = 3
	}
	if cfg.Media.S3Region == "" {
		cfg.Media.S3Region = cfg.Store.AWSRegion
	}
	if cfg.Media.PresignTTLHours == 0 {
		cfg.Media.PresignTTLHours = 24
	}
	if cfg.Geocoding.PrimaryURL == "" {
		cfg.Geocoding.PrimaryURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Geocoding.FallbackURL == "" {
		cfg.Geocoding.FallbackURL = "https://api.bigdatacloud.net"
	}
	if cfg.Geocoding.TimeoutSeconds == 0 {
		cfg.Geocoding.TimeoutSeconds = 10
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
		if cfg.Store.Type == "memory" {
			cfg.Store.Type = "postgres"
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if storeType := os.Getenv("STORE_TYPE"); storeType != "" {
		cfg.Store.Type = storeType
	}
	if table := os.Getenv("DYNAMODB_TABLE"); table != "" {
		cfg.Store.DynamoDBTable = table
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Store.AWSRegion = region
		cfg.Media.S3Region = region
	}
	if bucket := os.Getenv("MEDIA_S3_BUCKET"); bucket != "" {
		cfg.Media.S3Bucket = bucket
		cfg.Media.Enabled = true
	}
	if v := os.Getenv("MEDIA_PLACEHOLDER_URL"); v != "" {
		cfg.Media.PlaceholderURL = v
	}
	if v := os.Getenv("GEO_PRIMARY_URL"); v != "" {
		cfg.Geocoding.PrimaryURL = v
	}
	if v := os.Getenv("GEO_FALLBACK_URL"); v != "" {
		cfg.Geocoding.FallbackURL = v
	}

	return cfg, nil
}
