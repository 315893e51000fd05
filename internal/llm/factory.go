package llm

import (
	"strings"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

// New builds the backend selected by cfg.Provider.
func New(cfg Config, opts ...Option) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderGemini:
		return NewGeminiClient(cfg, opts...)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, opts...)
	default:
		return nil, errs.Newf(errs.KindConfiguration, "unknown provider %q", cfg.Provider)
	}
}
