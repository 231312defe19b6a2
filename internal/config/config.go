package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix is the prefix for environment overrides, e.g. ECB_SERVER_PORT.
const EnvPrefix = "ECB"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Conversion ConversionConfig `json:"conversion"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Anchoring  AnchoringConfig  `json:"anchoring"`
	Audit      AuditConfig      `json:"audit"`
	Exports    ExportsConfig    `json:"exports"`
	AWS        AWSConfig        `json:"aws"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" split_words:"true"`
	Port            int           `json:"port" split_words:"true"`
	ReadTimeout     time.Duration `json:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `json:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `json:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" split_words:"true"`
	Mode            string        `json:"mode" split_words:"true"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string        `json:"driver" split_words:"true"`
	Path           string        `json:"path" split_words:"true"`
	Host           string        `json:"host" split_words:"true"`
	Port           int           `json:"port" split_words:"true"`
	User           string        `json:"user" split_words:"true"`
	Password       string        `json:"password" split_words:"true"`
	DBName         string        `json:"db_name" split_words:"true"`
	SSLMode        string        `json:"ssl_mode" split_words:"true"`
	MaxConnections int           `json:"max_connections" split_words:"true"`
	MaxIdleConns   int           `json:"max_idle_conns" split_words:"true"`
	MaxLifetime    time.Duration `json:"max_lifetime" split_words:"true"`
	LogQueries     bool          `json:"log_queries" split_words:"true"`
}

// ConversionConfig holds the energy to credit conversion policy
type ConversionConfig struct {
	EmissionFactorKgPerKWh decimal.Decimal `json:"emission_factor_kg_per_kwh" split_words:"true"`
	KgPerCreditToken       decimal.Decimal `json:"kg_per_credit_token" split_words:"true"`
	EnergyTokensPerKWh     decimal.Decimal `json:"energy_tokens_per_kwh" split_words:"true"`
	PriceScale             int32           `json:"price_scale" split_words:"true"`
	PriceSymbol            string          `json:"price_symbol" split_words:"true"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret" split_words:"true"`
	JWTIssuer string `json:"jwt_issuer" split_words:"true"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level" split_words:"true"`
	Development bool   `json:"development" split_words:"true"`
}

// AnchoringConfig controls where domain events are published.
type AnchoringConfig struct {
	BufferSize     int      `json:"buffer_size" split_words:"true"`
	SNSTopicARN    string   `json:"sns_topic_arn" split_words:"true"`
	ElasticURLs    []string `json:"elastic_urls" split_words:"true"`
	ElasticIndex   string   `json:"elastic_index" split_words:"true"`
	WebsocketFeeds bool     `json:"websocket_feeds" split_words:"true"`
}

// AuditConfig
type AuditConfig struct {
	Schedule string `json:"schedule" split_words:"true"`
}

// ExportsConfig
type ExportsConfig struct {
	Bucket   string `json:"bucket" split_words:"true"`
	Prefix   string `json:"prefix" split_words:"true"`
	Schedule string `json:"schedule" split_words:"true"`
}

// AWSConfig is shared by the SNS sink and the export uploader. Static keys
// and a custom endpoint are for local S3/SNS emulators; leave them empty to
// use the default credential chain.
type AWSConfig struct {
	Region          string `json:"region" split_words:"true"`
	Endpoint        string `json:"endpoint" split_words:"true"`
	AccessKeyID     string `json:"access_key_id" split_words:"true"`
	SecretAccessKey string `json:"secret_access_key" split_words:"true"`
}

// Default returns the configuration used when no file or environment is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			Mode:            "release",
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbonscribe_energy_credits",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Conversion: ConversionConfig{
			EmissionFactorKgPerKWh: decimal.RequireFromString("0.4354"),
			KgPerCreditToken:       decimal.NewFromInt(10),
			EnergyTokensPerKWh:     decimal.NewFromInt(1),
			PriceScale:             6,
			PriceSymbol:            "SOL",
		},
		Security: SecurityConfig{
			JWTIssuer: "carbon-scribe-identity",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Anchoring: AnchoringConfig{
			BufferSize:     1024,
			ElasticIndex:   "energy-credit-events",
			WebsocketFeeds: true,
		},
		Audit: AuditConfig{
			Schedule: "*/15 * * * *",
		},
		Exports: ExportsConfig{
			Prefix:   "exports",
			Schedule: "0 2 * * *",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	sections := map[string]interface{}{
		"SERVER":     &config.Server,
		"DATABASE":   &config.Database,
		"CONVERSION": &config.Conversion,
		"SECURITY":   &config.Security,
		"LOGGING":    &config.Logging,
		"ANCHORING":  &config.Anchoring,
		"AUDIT":      &config.Audit,
		"EXPORTS":    &config.Exports,
		"AWS":        &config.AWS,
	}
	for name, section := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+name, section); err != nil {
			return fmt.Errorf("failed to read %s environment: %w", name, err)
		}
	}
	return nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if !c.Conversion.EmissionFactorKgPerKWh.IsPositive() {
		return fmt.Errorf("emission factor must be positive")
	}
	if !c.Conversion.KgPerCreditToken.IsPositive() {
		return fmt.Errorf("kg per credit token must be positive")
	}
	if c.Conversion.EnergyTokensPerKWh.IsNegative() {
		return fmt.Errorf("energy tokens per kWh must not be negative")
	}
	if c.Conversion.PriceScale < 0 || c.Conversion.PriceScale > 12 {
		return fmt.Errorf("price scale must be between 0 and 12")
	}
	if c.Anchoring.BufferSize <= 0 {
		return fmt.Errorf("anchoring buffer size must be positive")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws access key id and secret must be set together")
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
