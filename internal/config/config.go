// Package config assembles process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/adapters/llm"
)

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultRelayIdleTimeout = 10 * time.Minute
	defaultToolTimeout      = 10 * time.Second
)

// Config is everything the server and the CLI read at startup.
type Config struct {
	Host             string
	Port             int
	JWTSecret        string
	RelayIdleTimeout time.Duration
	ToolTimeout      time.Duration
	Azure            azure.Config
	Gemini           llm.GeminiConfig
}

// Load reads .env files when present, then the environment. Missing files
// are not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the process environment only.
func FromEnv() (Config, error) {
	config := Config{
		Host:      getEnv("VOICE_SERVER_HOST", defaultHost),
		JWTSecret: os.Getenv("JWT_SECRET"),
		Azure:     azure.NewConfigFromEnv(),
		Gemini:    llm.NewGeminiConfigFromEnv(),
	}

	var err error
	if config.Port, err = getInt("VOICE_SERVER_PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if config.RelayIdleTimeout, err = getDuration("RELAY_IDLE_TIMEOUT", defaultRelayIdleTimeout); err != nil {
		return Config{}, err
	}
	if config.ToolTimeout, err = getDuration("TOOL_TIMEOUT", defaultToolTimeout); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Addr is the listen address of the server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AzureConfigured reports whether enough is set to reach Azure.
func (c Config) AzureConfigured() bool {
	return azure.ValidateConfig(c.Azure) == nil
}

// GeminiConfigured reports whether the expert tool can be enabled.
func (c Config) GeminiConfigured() bool {
	return c.Gemini.APIKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
