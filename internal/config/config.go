package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Lock    LockConfig    `yaml:"lock" mapstructure:"lock"`
	Factors FactorsConfig `yaml:"factors" mapstructure:"factors"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int     `yaml:"port" mapstructure:"port"`
	MaxUploadMB      int     `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	UploadRatePerSec float64 `yaml:"upload_rate_per_sec" mapstructure:"upload_rate_per_sec"`
	UploadBurst      int     `yaml:"upload_burst" mapstructure:"upload_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IngestConfig configures row normalization.
type IngestConfig struct {
	// Strict aborts an upload on the first bad row instead of skipping it.
	Strict bool `yaml:"strict" mapstructure:"strict"`
	// Synonyms adds extra header names per canonical field.
	Synonyms map[string][]string `yaml:"synonyms" mapstructure:"synonyms"`

	CSVDelimiter  string `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`     // single character, default ","
	CSVComment    string `yaml:"csv_comment" mapstructure:"csv_comment"`         // single character; empty disables
	CSVLazyQuotes bool   `yaml:"csv_lazy_quotes" mapstructure:"csv_lazy_quotes"` // tolerate stray quotes
	XLSXSheet     string `yaml:"xlsx_sheet" mapstructure:"xlsx_sheet"`           // empty selects the first sheet
}

// CSVRunes returns the CSV delimiter and comment characters. An empty
// delimiter is ','; an empty comment is 0.
func (c IngestConfig) CSVRunes() (delimiter, comment rune, err error) {
	delimiter = ','
	if c.CSVDelimiter != "" {
		if delimiter, err = csvRune("ingest.csv_delimiter", c.CSVDelimiter); err != nil {
			return 0, 0, err
		}
	}
	if c.CSVComment != "" {
		if comment, err = csvRune("ingest.csv_comment", c.CSVComment); err != nil {
			return 0, 0, err
		}
		if comment == delimiter {
			return 0, 0, errors.New("ingest.csv_comment must differ from ingest.csv_delimiter")
		}
	}
	return delimiter, comment, nil
}

func csvRune(key, s string) (rune, error) {
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("%s must be a single character, got %q", key, s)
	}
	switch r {
	case '"', '\r', '\n':
		return 0, fmt.Errorf("%s cannot be %q", key, s)
	}
	return r, nil
}

// LockConfig selects how concurrent ingestions are serialized.
type LockConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
	Key       string `yaml:"key" mapstructure:"key"`
	TTLSecs   int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// FactorsConfig points at an optional emission factor catalog file.
type FactorsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCOPEZERO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "scopezero.db")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.upload_rate_per_sec", 0)
	v.SetDefault("server.upload_burst", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.strict", false)
	v.SetDefault("ingest.csv_delimiter", ",")
	v.SetDefault("ingest.csv_comment", "")
	v.SetDefault("ingest.csv_lazy_quotes", false)
	v.SetDefault("ingest.xlsx_sheet", "")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.key", "scopezero:ingest")
	v.SetDefault("lock.ttl_secs", 30)
	v.SetDefault("factors.file", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve", "ingest"
// or "report"; every mode requires a usable store.
func (c *Config) Validate(mode string) error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("store.database_url is required"))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, errors.New("server.port must be > 0 and <= 65535"))
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, errors.New("server.max_upload_mb must be > 0"))
		}
		if c.Server.UploadRatePerSec < 0 {
			errs = append(errs, errors.New("server.upload_rate_per_sec must be >= 0"))
		}
		errs = append(errs, c.validateLock()...)
		errs = append(errs, c.validateIngest()...)
	case "ingest":
		errs = append(errs, c.validateLock()...)
		errs = append(errs, c.validateIngest()...)
	case "report":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate")
	}
	return nil
}

func (c *Config) validateIngest() []error {
	if _, _, err := c.Ingest.CSVRunes(); err != nil {
		return []error{err}
	}
	return nil
}

func (c *Config) validateLock() []error {
	var errs []error
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis lock"))
		}
		if c.Lock.TTLSecs <= 0 {
			errs = append(errs, errors.New("lock.ttl_secs must be > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.driver must be local or redis, got %q", c.Lock.Driver))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
