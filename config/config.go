package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// --- Configuration Structs ---

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"` // S3-compatible endpoint, selects the MinIO client
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Profile   string `mapstructure:"profile"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Prefork bool   `mapstructure:"prefork"`
	// MaxResponseRows caps the rows returned by the load endpoint.
	MaxResponseRows int `mapstructure:"max_response_rows"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
}

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Output  OutputConfig  `mapstructure:"output"`
}

// EnvPrefix prefixes environment overrides, e.g. INGEST_LOG_LEVEL.
const EnvPrefix = "INGEST"

// --- Load Configuration ---

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.profile", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.prefork", false)
	v.SetDefault("server.max_response_rows", 1000)
	v.SetDefault("output.format", "csv")
}

// LoadConfig reads configuration from configPath (optional), INGEST_*
// environment variables and built-in defaults, in decreasing precedence
// of environment, file, default.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// --- Validation Functions ---

// validate is a helper function to reduce repetition.
func validate(condition bool, format string, a ...any) error {
	if !condition {
		return fmt.Errorf(format, a...)
	}
	return nil
}

var (
	logLevels     = []string{"debug", "info", "warn", "error"}
	outputFormats = []string{"csv", "json", "parquet", "arrow", "huggingface"}
)

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := c.Storage.S3.Validate(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	return nil
}

func (lc *LogConfig) Validate() error {
	return validate(contains(logLevels, strings.ToLower(lc.Level)), "unknown log level '%s'", lc.Level)
}

func (sc *S3Config) Validate() error {
	if sc.Endpoint == "" {
		return nil
	}
	if err := validate(sc.AccessKey != "", "access key is required when an endpoint is set"); err != nil {
		return err
	}
	return validate(sc.SecretKey != "", "secret key is required when an endpoint is set")
}

func (sc *ServerConfig) Validate() error {
	if err := validate(sc.Port != "", "server port is required"); err != nil {
		return err
	}
	return validate(sc.MaxResponseRows >= 0, "max response rows must not be negative")
}

func (oc *OutputConfig) Validate() error {
	return validate(contains(outputFormats, strings.ToLower(oc.Format)), "unknown output format '%s'", oc.Format)
}
