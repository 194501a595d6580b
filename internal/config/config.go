// Package config loads the ingester configuration from flags, environment variables, dotenv
// files and defaults, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/file-ingester/internal/ingesterrors"
)

const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendSQLite     = "sqlite"
	BackendDiscard    = "discard"
)

// Dotenv files, lowest precedence first.
var dotenvFiles = []string{".env", ".env.local"}

type Config struct {
	File       FileConfig
	Processing ProcessingConfig
	Metrics    MetricsConfig
	Server     ServerConfig
	Log        LogConfig
	DB         DBConfig `mapstructure:"db"`
}

type FileConfig struct {
	Path string `validate:"required"`
}

type ProcessingConfig struct {
	// Number of valid records accumulated before a batch is handed to the sink
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
}

type MetricsConfig struct {
	// Count the input once up front so that progress can be reported as a percentage
	PrecountLines bool `mapstructure:"precount_lines"`
	// How often the console progress line is redrawn
	Interval time.Duration `validate:"gt=0"`
}

type ServerConfig struct {
	Enabled bool
	Port    int `validate:"min=1,max=65535"`
	// Keep serving /health, /stats and /metrics after the run has finished, until interrupted
	KeepAlive bool `mapstructure:"keep_alive"`
}

type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"oneof=text json"`
}

type DBConfig struct {
	Backend  string `validate:"oneof=postgres clickhouse sqlite discard"`
	Host     string
	Port     int `validate:"min=0,max=65535"`
	User     string
	Password string
	Name     string
	Table    string `validate:"required"`
	PoolSize int    `mapstructure:"pool_size" validate:"gt=0"`
	// Extra attempts after the first failed write of a batch
	MaxRetries int    `mapstructure:"max_retries" validate:"min=0"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// envNames maps every configuration key to the environment variable it is read from.
var envNames = map[string]string{
	"file.path":              "FILE_PATH",
	"processing.batch_size":  "BATCH_SIZE",
	"metrics.precount_lines": "PRECOUNT_TOTAL_LINES",
	"metrics.interval":       "MONITOR_INTERVAL",
	"server.enabled":         "SERVER_ENABLED",
	"server.port":            "PORT",
	"server.keep_alive":      "SERVER_KEEP_ALIVE",
	"log.level":              "LOG_LEVEL",
	"log.format":             "LOG_FORMAT",
	"db.backend":             "DB_BACKEND",
	"db.host":                "DB_SERVER",
	"db.port":                "DB_PORT",
	"db.user":                "DB_USER",
	"db.password":            "DB_PASSWORD",
	"db.name":                "DB_NAME",
	"db.table":               "DB_TABLE",
	"db.pool_size":           "DB_POOL_SIZE",
	"db.max_retries":         "DB_MAX_RETRIES",
	"db.sqlite_path":         "SQLITE_PATH",
}

// FlagKeys maps command line flag names to configuration keys. Flags that are not defined on the
// flag set passed to Load are ignored.
var FlagKeys = map[string]string{
	"file":       "file.path",
	"batch-size": "processing.batch_size",
	"precount":   "metrics.precount_lines",
	"interval":   "metrics.interval",
	"server":     "server.enabled",
	"port":       "server.port",
	"keep-alive": "server.keep_alive",
	"log-level":  "log.level",
	"log-format": "log.format",
	"backend":    "db.backend",
	"sqlite":     "db.sqlite_path",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("file.path", "input/CLIENTES_IN_0425.dat")
	v.SetDefault("processing.batch_size", 1000)
	v.SetDefault("metrics.precount_lines", false)
	v.SetDefault("metrics.interval", 2*time.Second)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.keep_alive", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("db.backend", BackendPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "challenge")
	v.SetDefault("db.table", "clients")
	v.SetDefault("db.pool_size", 2)
	v.SetDefault("db.max_retries", 3)
	v.SetDefault("db.sqlite_path", "ingester.db")
}

// Load builds the configuration. dir is where the dotenv files are looked up; flags may be nil.
// Any failure is returned as an *ingesterrors.InitializationError.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := load(dir, flags)
	if err != nil {
		return nil, &ingesterrors.InitializationError{Component: "config", Err: err}
	}
	return cfg, nil
}

func load(dir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := applyDotenv(v, dir); err != nil {
		return nil, err
	}
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if flags != nil {
		for name, key := range FlagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, errors.WithStack(err)
				}
			}
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		MillisecondsHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDotenv layers the dotenv files over the defaults. Real environment variables and flags
// still take precedence because viper consults them before defaults.
func applyDotenv(v *viper.Viper, dir string) error {
	for _, name := range dotenvFiles {
		env := viper.New()
		env.SetConfigType("env")
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		env.SetConfigFile(path)
		if err := env.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading %s", name)
		}
		for key, envName := range envNames {
			if env.IsSet(envName) {
				v.SetDefault(key, env.Get(envName))
			}
		}
	}
	return nil
}

func (c Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// MillisecondsHookFunc decodes bare integers into time.Duration as milliseconds, so that
// MONITOR_INTERVAL=2000 means two seconds. Go duration strings fall through to the next hook.
func MillisecondsHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType || f == durationType {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Duration(ms) * time.Millisecond, nil
			}
			return s, nil
		}
		return data, nil
	}
}
