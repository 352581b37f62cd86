package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known TTS provider names. Used by [Validate] to
// warn about unrecognised names without rejecting third-party registrations.
var ValidProviderNames = []string{"openai", "jobtts"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicBaseURL == "" {
		errs = append(errs, errors.New("server.public_base_url is required; signed audio URLs are built from it"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}

	// Auth
	if cfg.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("auth.token_secret is required"))
	}

	// Providers
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		errs = append(errs, validateProviderEntry("provider", cfg.Provider)...)
	}
	if fb := cfg.FallbackProvider; fb != nil {
		if fb.Name == "" {
			errs = append(errs, errors.New("fallback_provider.name is required when a fallback is configured"))
		} else {
			errs = append(errs, validateProviderEntry("fallback_provider", *fb)...)
		}
	}

	// Storage. The openai provider returns raw bytes, so audio must be
	// re-hosted; job-based providers may hand back hosted URLs instead.
	if cfg.Storage.NATSURL == "" {
		if rawAudioProvider(cfg) {
			errs = append(errs, errors.New("storage.nats_url is required when a provider returns raw audio"))
		} else {
			slog.Warn("storage.nats_url is empty; audio re-hosting is unavailable and provider URLs are passed through")
		}
	}
	if cfg.Storage.NATSURL != "" && cfg.Storage.URLSecret == "" {
		errs = append(errs, errors.New("storage.url_secret is required when storage is configured"))
	}
	if cfg.Storage.URLTTL < 0 {
		errs = append(errs, fmt.Errorf("storage.url_ttl %s must not be negative", cfg.Storage.URLTTL.Std()))
	}

	return errors.Join(errs...)
}

// validateProviderEntry checks one provider entry. prefix names the YAML
// section for error messages.
func validateProviderEntry(prefix string, entry ProviderEntry) []error {
	var errs []error
	if !slices.Contains(ValidProviderNames, entry.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"section", prefix,
			"name", entry.Name,
			"known", ValidProviderNames,
		)
	}
	if entry.Name == "openai" && entry.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for the openai provider", prefix))
	}
	if entry.Name == "jobtts" && entry.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the jobtts provider", prefix))
	}
	return errs
}

// rawAudioProvider reports whether any configured provider returns inline
// audio bytes and therefore needs the object store.
func rawAudioProvider(cfg *Config) bool {
	if cfg.Provider.Name == "openai" {
		return true
	}
	return cfg.FallbackProvider != nil && cfg.FallbackProvider.Name == "openai"
}
