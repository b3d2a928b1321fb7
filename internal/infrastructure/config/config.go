package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Risk        RiskConfig     `mapstructure:"risk"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// PipelineConfig controls batch intake and run scheduling
type PipelineConfig struct {
	InputDir    string `mapstructure:"input_dir"`
	ArtifactDir string `mapstructure:"artifact_dir"`
	Schedule    string `mapstructure:"schedule"`
	RunOnStart  bool   `mapstructure:"run_on_start"`
}

// RiskConfig holds the rule thresholds. Amounts are decimal strings so the
// values survive config round trips without float drift.
type RiskConfig struct {
	HighValueThreshold   string `mapstructure:"high_value_threshold"`
	DailyLimitThreshold  string `mapstructure:"daily_limit_threshold"`
	AuthLookbackMinutes  int    `mapstructure:"auth_lookback_minutes"`
	LookupTimeoutSeconds int    `mapstructure:"lookup_timeout_seconds"`
}

// HighValue returns the high-value threshold as a decimal
func (r RiskConfig) HighValue() (decimal.Decimal, error) {
	return decimal.NewFromString(r.HighValueThreshold)
}

// DailyLimit returns the daily-limit threshold as a decimal
func (r RiskConfig) DailyLimit() (decimal.Decimal, error) {
	return decimal.NewFromString(r.DailyLimitThreshold)
}

// AuthLookback returns the strong-auth lookback window
func (r RiskConfig) AuthLookback() time.Duration {
	return time.Duration(r.AuthLookbackMinutes) * time.Minute
}

// LookupTimeout returns the per-lookup deadline for risk queries
func (r RiskConfig) LookupTimeout() time.Duration {
	return time.Duration(r.LookupTimeoutSeconds) * time.Second
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// Read from config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "bankdata_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Pipeline defaults
	viper.SetDefault("pipeline.input_dir", "./data/incoming")
	viper.SetDefault("pipeline.artifact_dir", "./data/artifacts")
	viper.SetDefault("pipeline.schedule", "@every 5m")
	viper.SetDefault("pipeline.run_on_start", false)

	// Risk defaults
	viper.SetDefault("risk.high_value_threshold", "10000000")
	viper.SetDefault("risk.daily_limit_threshold", "20000000")
	viper.SetDefault("risk.auth_lookback_minutes", 60)
	viper.SetDefault("risk.lookup_timeout_seconds", 5)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if inputDir := os.Getenv("PIPELINE_INPUT_DIR"); inputDir != "" {
		viper.Set("pipeline.input_dir", inputDir)
	}
	if artifactDir := os.Getenv("PIPELINE_ARTIFACT_DIR"); artifactDir != "" {
		viper.Set("pipeline.artifact_dir", artifactDir)
	}
	if schedule := os.Getenv("PIPELINE_SCHEDULE"); schedule != "" {
		viper.Set("pipeline.schedule", schedule)
	}
}

func validate(config *Config) error {
	if config.Pipeline.InputDir == "" {
		return fmt.Errorf("pipeline input directory is required")
	}
	if config.Pipeline.ArtifactDir == "" {
		return fmt.Errorf("pipeline artifact directory is required")
	}
	if _, err := config.Risk.HighValue(); err != nil {
		return fmt.Errorf("invalid high value threshold: %w", err)
	}
	if _, err := config.Risk.DailyLimit(); err != nil {
		return fmt.Errorf("invalid daily limit threshold: %w", err)
	}
	if config.Risk.AuthLookbackMinutes <= 0 {
		return fmt.Errorf("auth lookback must be positive")
	}
	return nil
}
