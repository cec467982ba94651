// Package config loads provider credentials and daemon settings from the
// environment and assembles a ready provider registry from them.
package config

import (
	"os"
	"strings"

	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/provider"
	"github.com/praxisml/maestro/provider/anthropic"
	"github.com/praxisml/maestro/provider/gemini"
	"github.com/praxisml/maestro/provider/ollama"
	"github.com/praxisml/maestro/provider/openai"
)

// Provider names used as registry keys and environment variable prefixes.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// ProviderConfig holds one backend's settings. Empty fields defer to the
// adapter's defaults.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Config is the daemon configuration assembled from the environment.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// LogLevel is a zerolog level name ("debug", "info", ...).
	LogLevel string
	// LogPretty switches to human-readable console output.
	LogPretty bool
	// DefaultProvider overrides the first-registered default.
	DefaultProvider string
	Providers       map[string]ProviderConfig
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// FromEnv reads MAESTRO_* daemon settings and <PROVIDER>_API_KEY /
// <PROVIDER>_BASE_URL / <PROVIDER>_MODEL for every known backend. Missing
// credentials are not an error: the provider still registers and reports
// Configured == false until dispatch fails at the backend.
func FromEnv() Config {
	cfg := Config{
		Addr:            env("MAESTRO_ADDR", ":8080"),
		LogLevel:        env("MAESTRO_LOG_LEVEL", "info"),
		LogPretty:       env("MAESTRO_LOG_PRETTY", "") == "true",
		DefaultProvider: env("MAESTRO_DEFAULT_PROVIDER", ""),
		Providers:       make(map[string]ProviderConfig, 4),
	}
	for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama} {
		prefix := strings.ToUpper(name)
		cfg.Providers[name] = ProviderConfig{
			APIKey:  env(prefix+"_API_KEY", ""),
			BaseURL: env(prefix+"_BASE_URL", ""),
			Model:   env(prefix+"_MODEL", ""),
		}
	}
	return cfg
}

// BuildRegistry registers every known backend with its configured settings.
// Registration order fixes the fallback default: anthropic, openai, gemini,
// ollama, overridden by DefaultProvider when set.
func (c Config) BuildRegistry(logger logging.Logger) *provider.Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	registry := provider.NewRegistry(logger)

	ac := c.Providers[ProviderAnthropic]
	registry.Register(ProviderAnthropic, anthropic.New(func(o *anthropic.Options) {
		o.APIKey = ac.APIKey
		if ac.BaseURL != "" {
			o.BaseURL = ac.BaseURL
		}
		if ac.Model != "" {
			o.Model = ac.Model
		}
		o.Logger = logger
	}))

	oc := c.Providers[ProviderOpenAI]
	registry.Register(ProviderOpenAI, openai.New(func(o *openai.Options) {
		o.APIKey = oc.APIKey
		if oc.BaseURL != "" {
			o.BaseURL = oc.BaseURL
		}
		if oc.Model != "" {
			o.Model = oc.Model
		}
		o.Logger = logger
	}))

	gc := c.Providers[ProviderGemini]
	registry.Register(ProviderGemini, gemini.New(func(o *gemini.Options) {
		o.APIKey = gc.APIKey
		if gc.BaseURL != "" {
			o.BaseURL = gc.BaseURL
		}
		if gc.Model != "" {
			o.Model = gc.Model
		}
		o.Logger = logger
	}))

	lc := c.Providers[ProviderOllama]
	registry.Register(ProviderOllama, ollama.New(func(o *ollama.Options) {
		if lc.BaseURL != "" {
			o.BaseURL = lc.BaseURL
		}
		if lc.Model != "" {
			o.Model = lc.Model
		}
		o.Logger = logger
	}))

	if c.DefaultProvider != "" {
		registry.SetDefault(c.DefaultProvider)
	}
	return registry
}
