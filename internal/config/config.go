// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PYPIHARVEST_HARVEST_BATCH_SIZE.
const EnvPrefix = "PYPIHARVEST"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	LibrariesIO LibrariesIOConfig `mapstructure:"librariesio"`
	PyPI        PyPIConfig        `mapstructure:"pypi"`
	Harvest     HarvestConfig     `mapstructure:"harvest"`
	Validator   ValidatorConfig   `mapstructure:"validator"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	TableStore  TableStoreConfig  `mapstructure:"tablestore"`
	Publish     PublishConfig     `mapstructure:"publish"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent" validate:"required"`
}

// LibrariesIOConfig configures the package metadata API.
type LibrariesIOConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	APIKey            string        `mapstructure:"api_key"`
	APIKeyFile        string        `mapstructure:"api_key_file"`
	PerPage           int           `mapstructure:"per_page" validate:"gt=0,lte=100"`
	MaxPages          int           `mapstructure:"max_pages" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	RateLimitBackoff  time.Duration `mapstructure:"rate_limit_backoff" validate:"gte=0"`
	OutageBackoff     time.Duration `mapstructure:"outage_backoff" validate:"gte=0"`
}

// PyPIConfig points at the registry index and project pages.
type PyPIConfig struct {
	SimpleURL  string `mapstructure:"simple_url" validate:"required,url"`
	ProjectURL string `mapstructure:"project_url" validate:"required,url"`
}

// HarvestConfig controls the collection loop.
type HarvestConfig struct {
	StorePath  string        `mapstructure:"store_path" validate:"required"`
	BatchSize  int           `mapstructure:"batch_size" validate:"gt=0"`
	BatchPause time.Duration `mapstructure:"batch_pause" validate:"gte=0"`
}

// ValidatorConfig controls URL validation passes.
type ValidatorConfig struct {
	Column            string        `mapstructure:"column" validate:"required"`
	BatchSize         int           `mapstructure:"batch_size" validate:"gt=0"`
	Workers           int           `mapstructure:"workers" validate:"gt=0"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	CheckpointPath    string        `mapstructure:"checkpoint_path" validate:"required"`
	CursorPath        string        `mapstructure:"cursor_path" validate:"required"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
}

// AuditConfig names the repaired store.
type AuditConfig struct {
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the status server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TableStoreConfig points at the Postgres table a store is loaded into.
type TableStoreConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table" validate:"required"`
}

// PublishConfig selects where finished stores are uploaded.
type PublishConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=local gcs"`
	LocalDir  string `mapstructure:"local_dir" validate:"required_if=Provider local"`
	GCSBucket string `mapstructure:"gcs_bucket" validate:"required_if=Provider gcs"`
	Prefix    string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "pypiharvest/0.1")
	v.SetDefault("librariesio.base_url", "https://libraries.io/api")
	v.SetDefault("librariesio.api_key", "")
	v.SetDefault("librariesio.api_key_file", "~/.librariesio/api_key.txt")
	v.SetDefault("librariesio.per_page", 100)
	v.SetDefault("librariesio.max_pages", 100)
	v.SetDefault("librariesio.requests_per_second", 0)
	v.SetDefault("librariesio.rate_limit_backoff", 60*time.Second)
	v.SetDefault("librariesio.outage_backoff", time.Hour)
	v.SetDefault("pypi.simple_url", "https://pypi.org/simple/")
	v.SetDefault("pypi.project_url", "https://pypi.org/project/")
	v.SetDefault("harvest.store_path", "pypi_info_db.csv")
	v.SetDefault("harvest.batch_size", 60)
	v.SetDefault("harvest.batch_pause", 60*time.Second)
	v.SetDefault("validator.column", "package_manager_url")
	v.SetDefault("validator.batch_size", 10000)
	v.SetDefault("validator.workers", 100)
	v.SetDefault("validator.probe_timeout", 5*time.Second)
	v.SetDefault("validator.checkpoint_path", "validator_worked_urls.tmp")
	v.SetDefault("validator.cursor_path", "validator_cursor.yaml")
	v.SetDefault("validator.requests_per_second", 0)
	v.SetDefault("audit.output", "new_pypi_info_main_db.csv")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tablestore.dsn", "")
	v.SetDefault("tablestore.table", "pypi")
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.local_dir", "published")
	v.SetDefault("publish.gcs_bucket", "")
	v.SetDefault("publish.prefix", "stores")
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate enforces required values and reasonable limits. The first
// failure is reported by its config key, e.g. "harvest.batch_size".
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	fe := verrs[0]
	return fmt.Errorf("%s %s", keyOf(fe.Namespace()), describe(fe))
}

// keyOf drops the root struct name from a validator namespace.
func keyOf(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return key
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "gt":
		return "must be > " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		return "must be a URL"
	case "hostname_port":
		return "must be host:port"
	default:
		return "failed " + fe.Tag()
	}
}
