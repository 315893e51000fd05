package llm

import (
	"fmt"
	"strings"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultModel     = "gemini-1.5-flash"
)

// Config holds the backend settings.
//
// An empty APIKey is valid: the backend then reports itself unavailable
// and callers refuse to translate before any request is made.
type Config struct {
	Provider    string  `json:"provider" toml:"provider" yaml:"provider"`
	APIKey      string  `json:"-" toml:"api_key" yaml:"api_key"`
	APIURL      string  `json:"api_url" toml:"api_url" yaml:"api_url"`
	Model       string  `json:"model" toml:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" toml:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" toml:"top_p" yaml:"top_p"`
	TopK        int     `json:"top_k" toml:"top_k" yaml:"top_k"`
	Timeout     int     `json:"timeout" toml:"timeout" yaml:"timeout"`
	SiteURL     string  `json:"site_url" toml:"site_url" yaml:"site_url"`
	AppName     string  `json:"app_name" toml:"app_name" yaml:"app_name"`
}

// DefaultConfig mirrors the generation parameters the translator was tuned with.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderGemini,
		Model:       DefaultModel,
		MaxTokens:   8192,
		Temperature: 0.7,
		TopP:        0.8,
		TopK:        40,
		Timeout:     120,
	}
}

// BaseURL returns APIURL or the provider default.
func (c *Config) BaseURL() string {
	if u := strings.TrimRight(strings.TrimSpace(c.APIURL), "/"); u != "" {
		return u
	}
	if c.normalizedProvider() == ProviderOpenAI {
		return DefaultOpenAIURL
	}
	return DefaultGeminiURL
}

func (c *Config) normalizedProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderGemini
	}
	return p
}

func (c *Config) Validate() error {
	switch c.normalizedProvider() {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for an OpenAI-compatible request.
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}
