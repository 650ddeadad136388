package config

import (
	"os"
	"strconv"
)

// LiteConfig configures the standalone MCP server. It needs no database,
// cache or analysis provider and is read from the environment only.
type LiteConfig struct {
	// Pseudonyms minted by preview calls
	PseudonymMode string
	PseudonymSalt string

	// MaxTextBytes bounds the text accepted by a single tool call
	MaxTextBytes int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	return &LiteConfig{
		PseudonymMode: "random",
		MaxTextBytes:  64 << 10,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv(EnvPrefix + "_PSEUDONYM_MODE"); v != "" {
		cfg.PseudonymMode = v
	}
	cfg.PseudonymSalt = os.Getenv(EnvPrefix + "_PSEUDONYM_SALT")

	if v := os.Getenv(EnvPrefix + "_MCP_MAX_TEXT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTextBytes = n
		}
	}

	if v := os.Getenv(EnvPrefix + "_LOGGING_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "_LOGGING_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}
