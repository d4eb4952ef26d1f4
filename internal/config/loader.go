package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DATABASE_URL_SSM_PARAM=/prod/alertflow/db resolves into DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

type loaderDeps struct {
	lookupEnv  func(key string) (string, bool)
	setEnv     func(key, value string) error
	environ    func() []string
	loadDotenv func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv:  os.LookupEnv,
		setEnv:     os.Setenv,
		environ:    os.Environ,
		loadDotenv: func() error { return godotenv.Load() },
	}
}

// LoadConfig loads, resolves and validates the configuration:
//  1. force UTC;
//  2. load .env if present (never overrides the environment);
//  3. outside APP_ENV=local, resolve *_SSM_PARAM pointers through provider;
//  4. envconfig into Config;
//  5. build metadata;
//  6. struct validation, then cross-field checks.
//
// provider may be nil when running locally.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	_ = deps.loadDotenv()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := cfg.validateCrossField(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateCrossField checks rules that span sections.
func (c *Config) validateCrossField() error {
	var problems []string
	if c.Feature.EnableEmail && c.Email.Provider == "sendgrid" && !c.Email.SendGridAPIKey.IsSet() {
		problems = append(problems, "SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
	}
	if c.Feature.EnableSQSIngest && c.AWS.EventQueueURL == "" {
		problems = append(problems, "SQS_EVENTS is required when FEATURE_ENABLE_SQS_INGEST=true")
	}
	if c.Engine.RetryBaseDelay > c.Engine.RetryMaxDelay {
		problems = append(problems, "DELIVERY_RETRY_BASE must not exceed DELIVERY_RETRY_MAX")
	}
	if c.Engine.MinuteLength <= 0 {
		problems = append(problems, "ENGINE_MINUTE must be positive")
	}
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Type: ErrValidation, Message: strings.Join(problems, "; ")}
}

// resolveSSMParams injects values for every *_SSM_PARAM pointer whose target
// variable is not already set. Env always wins over SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		pathToTarget[path] = target
	}
	if len(pathToTarget) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required outside local (need %d parameters)", len(pathToTarget)),
		}
	}

	paths := make([]string, 0, len(pathToTarget))
	for p := range pathToTarget {
		paths = append(paths, p)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{Type: ErrSSMResolution, Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)), Err: err}
	}

	var missing []string
	for path, target := range pathToTarget {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{Type: ErrSSMResolution, Message: "failed to set " + target, Err: err}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Type: ErrSSMResolution, Message: "SSM parameters not found for: " + strings.Join(missing, ", ")}
	}
	return nil
}
