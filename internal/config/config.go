package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/worker"
)

const (
	DefaultConfigFile = "extruct.yaml"
	DefaultEnvFile    = ".env"
)

// Config holds all configuration values.
type Config struct {
	APIToken string `yaml:"api_token" validate:"required"`
	BaseURL  string `yaml:"base_url"`
	CAPath   string `yaml:"ca_path"`

	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxWait        time.Duration `yaml:"max_wait" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	HTTPRetries    int           `yaml:"http_retries" validate:"gte=0"`

	Workers        int     `yaml:"workers" validate:"gte=1"`
	MaxRetries     int     `yaml:"max_retries" validate:"gte=0"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	ContinueOnFail bool    `yaml:"continue_on_fail"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:        extruct.DefaultBaseURL,
		PollInterval:   enrich.DefaultPollInterval,
		MaxWait:        enrich.DefaultMaxWait,
		RequestTimeout: 30 * time.Second,
		HTTPRetries:    2,
		Workers:        1,
		MaxRetries:     2,
		LogLevel:       "info",
	}
}

// Options selects the configuration sources.
type Options struct {
	// ConfigPath is a YAML file. Empty means DefaultConfigFile when it exists.
	ConfigPath string
	// EnvFile is a dotenv file. Empty means DefaultEnvFile when it exists.
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from defaults, the YAML file, the dotenv file and the
// environment, in increasing order of precedence.
func Load(opts Options) (Config, error) {
	cfg := Default()

	path, required := opts.ConfigPath, true
	if strings.TrimSpace(path) == "" {
		path, required = DefaultConfigFile, false
	}
	if err := cfg.mergeYAML(path, required); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(opts.EnvFile)
	if err != nil {
		return Config{}, err
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(dotenv[key])
	}

	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(path string, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func readDotenv(path string) (map[string]string, error) {
	required := true
	if strings.TrimSpace(path) == "" {
		path, required = DefaultEnvFile, false
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vals, nil
}

func (c *Config) applyEnv(env func(string) string) error {
	if v := env("EXTRUCT_API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if v := env("EXTRUCT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := env("DEFAULT_CA_PATH"); v != "" {
		c.CAPath = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := env("LOG_FILE"); v != "" {
		c.LogFile = v
	}

	var err error
	if c.PollInterval, err = envDuration(env, "EXTRUCT_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.MaxWait, err = envDuration(env, "EXTRUCT_MAX_WAIT", c.MaxWait); err != nil {
		return err
	}
	if c.RequestTimeout, err = envDuration(env, "EXTRUCT_REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.HTTPRetries, err = envInt(env, "EXTRUCT_HTTP_RETRIES", c.HTTPRetries); err != nil {
		return err
	}
	if c.Workers, err = envInt(env, "WORKERS", c.Workers); err != nil {
		return err
	}
	if c.MaxRetries, err = envInt(env, "MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat(env, "RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	if c.ContinueOnFail, err = envBool(env, "CONTINUE_ON_FAIL", c.ContinueOnFail); err != nil {
		return err
	}
	return nil
}

// Validate checks the values used by commands that call the API.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}
	if c.APIToken != "" {
		if err := c.Credentials().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "api_token" {
			return errors.New("api token is required (set EXTRUCT_API_TOKEN)")
		}
		return fmt.Errorf("%s is required", fe.Field())
	case "gt":
		return fmt.Errorf("%s must be > %s (got %v)", fe.Field(), fe.Param(), fe.Value())
	case "gte":
		return fmt.Errorf("%s must be >= %s (got %v)", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func (c Config) Credentials() extruct.Credentials {
	return extruct.Credentials{APIToken: c.APIToken, BaseURL: c.BaseURL}
}

func (c Config) ClientOptions(logger *slog.Logger) extruct.ClientOptions {
	retries := c.HTTPRetries
	if retries == 0 {
		retries = -1
	}
	return extruct.ClientOptions{
		Timeout: c.RequestTimeout,
		Retries: retries,
		CAPath:  c.CAPath,
		Logger:  logger,
	}
}

func (c Config) EnrichOptions(logger *slog.Logger) enrich.Options {
	return enrich.Options{
		PollInterval: c.PollInterval,
		MaxWait:      c.MaxWait,
		Logger:       logger,
	}
}

func (c Config) WorkerOptions() worker.Options {
	policy := worker.FailurePolicyStop
	if c.ContinueOnFail {
		policy = worker.FailurePolicyContinue
	}
	return worker.Options{
		Workers:           c.Workers,
		MaxRetries:        c.MaxRetries,
		RateLimitRPS:      c.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

func envInt(env func(string) string, key string, fallback int) (int, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return out, nil
}

func envFloat(env func(string) string, key string, fallback float64) (float64, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return out, nil
}

// envDuration accepts Go durations ("90s") and bare integers as seconds.
func envDuration(env func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return out, nil
}

func envBool(env func(string) string, key string, fallback bool) (bool, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return out, nil
}
