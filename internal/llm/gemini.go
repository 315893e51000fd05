package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

// GeminiClient calls the Google Generative Language REST API.
type GeminiClient struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

func NewGeminiClient(cfg Config, opts ...Option) (*GeminiClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindConfiguration, "invalid backend configuration")
	}
	return &GeminiClient{
		config:     cfg,
		baseURL:    cfg.BaseURL(),
		httpClient: newHTTPClient(cfg, opts),
	}, nil
}

func (g *GeminiClient) Name() string {
	return ProviderGemini
}

func (g *GeminiClient) Available() bool {
	return strings.TrimSpace(g.config.APIKey) != ""
}

func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if !g.Available() {
		return "", unavailable(g.Name())
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.Temperature,
			TopP:            g.config.TopP,
			TopK:            g.config.TopK,
			MaxOutputTokens: g.config.MaxTokens,
		},
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.config.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", errs.Wrap(err, errs.KindConfiguration, "build backend request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.config.APIKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransport(g.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(g.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(g.Name(), resp, body)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", errs.Wrap(err, errs.KindBackendTransient, "decode backend response").
			WithContext("provider", g.Name())
	}
	if geminiResp.PromptFeedback.BlockReason != "" {
		return "", refused(g.Name(), geminiResp.PromptFeedback.BlockReason)
	}
	if len(geminiResp.Candidates) == 0 {
		log.Debug("[gemini] empty response body: %s", truncate(string(body), maxErrorBody))
		return "", emptyContent(g.Name(), "")
	}

	candidate := geminiResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	switch candidate.FinishReason {
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "", refused(g.Name(), candidate.FinishReason)
	case "", "STOP":
	default:
		log.Warn("[gemini] finishReason=%s", candidate.FinishReason)
	}

	if strings.TrimSpace(text.String()) == "" {
		return "", emptyContent(g.Name(), candidate.FinishReason)
	}
	return text.String(), nil
}
