package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":1555"`

	// RootPath is reported by the API info endpoint when runfrog sits behind a proxy prefix.
	RootPath string `env:"HTTP_ROOT_PATH" envDefault:""`

	// MaxConnections caps concurrently accepted connections. Zero means unlimited.
	MaxConnections int `env:"HTTP_MAX_CONNECTIONS" envDefault:"0"`

	// CompressionEnabled enables gzip compression for text-based responses.
	CompressionEnabled bool `env:"HTTP_COMPRESSION_ENABLED" envDefault:"false"`

	// CompressionLevel is the gzip compression level (1-9).
	CompressionLevel int `env:"HTTP_COMPRESSION_LEVEL" envDefault:"6"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.CompressionLevel < 1 {
		h.CompressionLevel = 1
	}
	if h.CompressionLevel > 9 {
		h.CompressionLevel = 9
	}
	if h.MaxConnections < 0 {
		h.MaxConnections = 0
	}
	h.RootPath = strings.TrimRight(strings.TrimSpace(h.RootPath), "/")
}

// GUIConfig controls how the browser task page polls for results.
type GUIConfig struct {
	// PollInterval is how often the task page asks for a fresh status fragment.
	PollInterval time.Duration `env:"GUI_POLL_INTERVAL" envDefault:"2s"`

	// ResultTimeout is how long the task page waits before showing the retry panel.
	ResultTimeout time.Duration `env:"GUI_RESULT_TIMEOUT" envDefault:"10m"`
}

// Sanitize applies guardrails to GUI configuration values.
func (g *GUIConfig) Sanitize() {
	if g.PollInterval < 500*time.Millisecond {
		g.PollInterval = 500 * time.Millisecond
	}
	if g.ResultTimeout < g.PollInterval {
		g.ResultTimeout = g.PollInterval
	}
}
