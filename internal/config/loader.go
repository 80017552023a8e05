// Configuration loading for the Conjure notification service.
//
// Plain settings come straight from the environment (optionally seeded from a
// .env file). Secrets are special-cased: each env var named in secretKeys may
// instead be supplied indirectly by pointing <NAME>_SSM_PARAM at a Parameter
// Store path, and LoadConfig resolves those pointers through a SecretSource
// before envconfig runs. A directly set value always wins over a pointer, so
// the effective priority is OS environment > .env file > Parameter Store.
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

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretKeys are the env vars Conjure treats as managed secrets. This is the
// complete set: a pointer variable for any other name is ignored, so adding a
// secret to Config means adding its env var here too.
var secretKeys = []string{
	"DATABASE_URL",
	"TELEGRAM_BOT_TOKEN",
	"DISCORD_BOT_TOKEN",
	"INTERNAL_API_CLIENT_KEY",
}

// ssmPointerSuffix turns a secret env var name into the name of the variable
// that holds its Parameter Store path, e.g. DATABASE_URL_SSM_PARAM.
const ssmPointerSuffix = "_SSM_PARAM"

// envLocal is the APP_ENV value under which pointer resolution is skipped.
const envLocal = "local"

// secretFetchTimeout bounds the single Parameter Store call at startup.
const secretFetchTimeout = 30 * time.Second

// loaderDeps holds the injectable environment accessors, enabling loader
// tests that do not mutate process state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
	}
}

// LoadConfig loads and validates the service configuration.
//
// It pins the process timezone to UTC, seeds the environment from a .env file
// when one is present (never overriding values already set), resolves secret
// pointers through the source unless APP_ENV is "local", populates Config via
// envconfig, stamps the build metadata, and validates the result.
//
// The source may be nil for local development. In non-local environments it
// must be non-nil whenever at least one secret still needs resolution.
func LoadConfig(source SecretSource) (*Config, error) {
	return loadConfigWithDeps(source, defaultDeps())
}

func loadConfigWithDeps(source SecretSource, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != envLocal {
		if err := resolveSecretPointers(source, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveSecretPointers fills in every secret from secretKeys that is not yet
// set but has a non-empty <NAME>_SSM_PARAM pointer, fetching all pending
// paths in one Parameter Store call and injecting the values back into the
// environment for envconfig to pick up. Secrets that are already set keep
// their value, which is what gives direct env vars priority over pointers.
func resolveSecretPointers(source SecretSource, deps loaderDeps) error {
	var pendingKeys []string
	pathFor := make(map[string]string, len(secretKeys))
	for _, key := range secretKeys {
		if _, set := deps.lookupEnv(key); set {
			continue
		}
		path, ok := deps.lookupEnv(key + ssmPointerSuffix)
		if !ok || path == "" {
			continue
		}
		pendingKeys = append(pendingKeys, key)
		pathFor[key] = path
	}

	if len(pendingKeys) == 0 {
		return nil
	}

	if source == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("no secret source configured, but %s still need resolution", strings.Join(pendingKeys, ", ")),
		}
	}

	paths := make([]string, 0, len(pendingKeys))
	for _, key := range pendingKeys {
		paths = append(paths, pathFor[key])
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretFetchTimeout)
	defer cancel()

	values, err := source.Fetch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to fetch %d secret parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, key := range pendingKeys {
		value, ok := values[pathFor[key]]
		if !ok {
			missing = append(missing, key)
			continue
		}
		if err := deps.setEnv(key, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", key),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("secret parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
