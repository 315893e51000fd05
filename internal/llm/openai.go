package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

// OpenAIClient talks to an OpenAI-compatible chat completions API
// (OpenAI, OpenRouter, local gateways).
type OpenAIClient struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

// Option customizes a backend client.
type Option func(*http.Client) *http.Client

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(current *http.Client) *http.Client {
		if client != nil {
			return client
		}
		return current
	}
}

func newHTTPClient(cfg Config, opts []Option) *http.Client {
	client := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	for _, opt := range opts {
		client = opt(client)
	}
	return client
}

func NewOpenAIClient(cfg Config, opts ...Option) (*OpenAIClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindConfiguration, "invalid backend configuration")
	}
	return &OpenAIClient{
		config:     cfg,
		baseURL:    cfg.BaseURL(),
		httpClient: newHTTPClient(cfg, opts),
	}, nil
}

func (c *OpenAIClient) Name() string {
	return ProviderOpenAI
}

func (c *OpenAIClient) Available() bool {
	return strings.TrimSpace(c.config.APIKey) != ""
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if !c.Available() {
		return "", unavailable(c.Name())
	}

	var messages []Message
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	payload := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return "", err
	}

	for _, choice := range response.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			if choice.FinishReason == "content_filter" {
				return "", refused(c.Name(), choice.FinishReason)
			}
			if choice.FinishReason == "length" {
				log.Warn("openai response truncated at max_tokens=%d", c.config.MaxTokens)
			}
			return content, nil
		}
	}

	finish := ""
	if len(response.Choices) > 0 {
		finish = response.Choices[0].FinishReason
	}
	if finish == "content_filter" {
		return "", refused(c.Name(), finish)
	}
	return "", emptyContent(c.Name(), finish)
}

func (c *OpenAIClient) makeRequest(ctx context.Context, method, path string, payload interface{}) (*ChatResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errs.Wrap(err, errs.KindConfiguration, "build backend request")
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(c.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(c.Name(), resp, body)
	}

	var chatResponse ChatResponse
	if err := json.Unmarshal(body, &chatResponse); err != nil {
		return nil, errs.Wrap(err, errs.KindBackendTransient, "decode backend response").
			WithContext("provider", c.Name())
	}
	if chatResponse.Error != nil && chatResponse.Error.Message != "" {
		return nil, errs.Wrap(chatResponse.Error, errs.KindBackendRefused, "backend reported an error").
			WithContext("provider", c.Name())
	}
	return &chatResponse, nil
}
