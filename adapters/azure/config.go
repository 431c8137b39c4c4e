// Package azure talks to the Azure OpenAI control plane: it builds realtime
// endpoints, authenticates requests and mints ephemeral session credentials.
package azure

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

const (
	defaultDeployment   = "gpt-realtime"
	defaultAPIVersion   = "2025-04-01-preview"
	defaultVoice        = "alloy"
	defaultInstructions = "You are a helpful AI assistant. Keep responses concise and natural."
	defaultRegion       = "eastus2"
	defaultTimeout      = 30 * time.Second
)

// Regions that host the WebRTC realtime endpoint.
var webRTCRegions = []string{"eastus2", "swedencentral"}

// Config holds the Azure OpenAI settings.
// Required fields:
// - Endpoint: resource URL, e.g. https://name-eastus2.cognitiveservices.azure.com
// - APIKey: unless UseEntraID is set
// Optional fields with defaults:
// - Deployment: realtime model deployment (default: "gpt-realtime")
// - APIVersion: (default: "2025-04-01-preview")
// - Region: WebRTC region (default: derived from the endpoint, else "eastus2")
// - Voice: (default: "alloy")
// - Instructions: system prompt for the voice agent
// - TurnDetection: (default: server_vad 0.5/300ms/500ms)
// - Timeout: control plane request timeout (default: 30s)
type Config struct {
	Endpoint      string
	APIKey        string
	UseEntraID    bool
	Deployment    string
	APIVersion    string
	Region        string
	Voice         string
	Instructions  string
	TurnDetection entities.TurnDetection
	Timeout       time.Duration
}

// ValidateConfig validates the Config.
func ValidateConfig(config Config) error {
	if config.Endpoint == "" {
		return fmt.Errorf("azure openai endpoint is required")
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("azure openai endpoint must be an absolute url, got %q", config.Endpoint)
	}
	if config.APIKey == "" && !config.UseEntraID {
		return fmt.Errorf("azure openai api key is required unless entra id is enabled")
	}
	switch config.TurnDetection.Type {
	case "", "server_vad", "semantic_vad":
	default:
		return fmt.Errorf("turn detection must be server_vad or semantic_vad, got %q", config.TurnDetection.Type)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// NewConfigFromEnv reads the AZURE_* variables.
func NewConfigFromEnv() Config {
	useEntra, _ := strconv.ParseBool(os.Getenv("AZURE_USE_ENTRA_ID"))
	config := Config{
		Endpoint:     os.Getenv("AZURE_OPENAI_ENDPOINT"),
		APIKey:       os.Getenv("AZURE_OPENAI_API_KEY"),
		UseEntraID:   useEntra,
		Deployment:   os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		APIVersion:   os.Getenv("AZURE_OPENAI_API_VERSION"),
		Region:       os.Getenv("AZURE_OPENAI_REGION"),
		Voice:        os.Getenv("AZURE_OPENAI_VOICE"),
		Instructions: os.Getenv("AZURE_OPENAI_INSTRUCTIONS"),
	}
	if os.Getenv("AZURE_OPENAI_TURN_DETECTION") == "semantic_vad" {
		config.TurnDetection = entities.SemanticVAD(os.Getenv("AZURE_OPENAI_VAD_EAGERNESS"))
	}
	return config.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Deployment == "" {
		c.Deployment = defaultDeployment
	}
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.Voice == "" {
		c.Voice = defaultVoice
	}
	if c.Instructions == "" {
		c.Instructions = defaultInstructions
	}
	if c.TurnDetection.Type == "" {
		c.TurnDetection = entities.DefaultServerVAD()
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Region == "" {
		c.Region = RegionFromEndpoint(c.Endpoint)
	}
	return c
}

// SessionConfig is the session.update payload for this deployment.
func (c Config) SessionConfig(tools []entities.ToolDefinition) domain.SessionConfig {
	c = c.withDefaults()
	config := domain.DefaultSessionConfig(c.Voice, c.Instructions)
	td := c.TurnDetection
	config.TurnDetection = &td
	if len(tools) > 0 {
		config.Tools = tools
		config.ToolChoice = "auto"
	}
	return config
}

// BaseURL strips any path and query from the endpoint. Users often paste the
// full realtime URL from the portal.
func (c Config) BaseURL() string {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return u.Scheme + "://" + u.Host
}

// SessionsURL is the control plane endpoint that mints ephemeral keys.
func (c Config) SessionsURL() string {
	return c.BaseURL() + "/openai/realtimeapi/sessions?api-version=" + url.QueryEscape(c.APIVersion)
}

// RealtimeURL is the websocket endpoint of the realtime deployment.
func (c Config) RealtimeURL() string {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = "/openai/realtime"
	q := url.Values{}
	q.Set("api-version", c.APIVersion)
	q.Set("deployment", c.Deployment)
	u.RawQuery = q.Encode()
	return u.String()
}

// WebRTCURL is the regional endpoint that accepts SDP offers.
func (c Config) WebRTCURL() string {
	region := c.Region
	if region == "" {
		region = RegionFromEndpoint(c.Endpoint)
	}
	return "https://" + region + ".realtimeapi-preview.ai.azure.com/v1/realtimertc"
}

// RegionFromEndpoint extracts the region suffix from a hostname such as
// "name-id-eastus2.cognitiveservices.azure.com". Unknown hosts fall back to
// eastus2.
func RegionFromEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return defaultRegion
	}
	label, _, _ := strings.Cut(u.Hostname(), ".")
	parts := strings.Split(label, "-")
	if len(parts) < 3 {
		return defaultRegion
	}
	candidate := parts[len(parts)-1]
	for _, region := range webRTCRegions {
		if candidate == region {
			return region
		}
	}
	return defaultRegion
}
