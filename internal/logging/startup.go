package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects server identity, configuration, and feature flags,
// then emits a single structured zerolog event summarising the startup state.
// This makes it easy to understand exactly how the server was configured when
// troubleshooting from logs.
type StartupLogger struct {
	name         string
	initDuration time.Duration

	accounts []string
	features map[string]bool
	config   map[string]string
}

// NewStartupLogger creates a StartupLogger for the given process name
// (e.g. "carousel-server").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// Accounts registers the account IDs that have stored credentials at startup.
// Only the IDs are logged, never token material.
func (s *StartupLogger) Accounts(ids []string) *StartupLogger {
	s.accounts = ids
	return s
}

// Feature registers a boolean feature flag (e.g. "metrics", "reaper").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup wiring took to complete.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	serverDict := zerolog.Dict().
		Str("name", s.name).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv("CAROUSEL_LOG_LEVEL"))

	evt = evt.Dict("server", serverDict)

	if len(s.accounts) > 0 {
		evt = evt.Strs("accounts", s.accounts)
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		d := zerolog.Dict()
		for k, v := range s.config {
			d = d.Str(k, v)
		}
		evt = evt.Dict("config", d)
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Server startup complete")
}
