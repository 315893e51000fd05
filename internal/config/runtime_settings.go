package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/pkg/file"
	"github.com/MimeLyc/srt-translator/pkg/icron"
)

// RuntimeSettings are the settings editable through the HTTP API. They are
// stored in DATA_DIR/settings.json and overlay the loaded configuration on
// the next start; TargetLanguage also applies immediately as the default for
// new jobs.
type RuntimeSettings struct {
	LLMModel       string `json:"llm_model"`
	CronExpr       string `json:"cron_expr"`
	TargetLanguage string `json:"target_language"`
	BlockSize      int    `json:"block_size"`
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMModel) == "" {
		return configErr("llm_model is required")
	}
	if err := icron.Validate(s.CronExpr); err != nil {
		return errs.Wrap(err, errs.KindConfiguration, "invalid cron_expr")
	}
	if _, err := language.Resolve(s.TargetLanguage); err != nil {
		return err
	}
	if s.BlockSize < 1 {
		return configErr("block_size must be at least 1, got %d", s.BlockSize)
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMModel:       c.LLM.Model,
		CronExpr:       c.Watch.CronExpr,
		TargetLanguage: c.TargetCode(),
		BlockSize:      c.Translate.BlockSize,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.CronExpr) != "" {
			c.Watch.CronExpr = settings.CronExpr
		}
		if t, ok := language.Lookup(settings.TargetLanguage); ok {
			c.Translate.TargetLanguage = t.Code
		}
		if settings.BlockSize > 0 {
			c.Translate.BlockSize = settings.BlockSize
		}
	}
}

// LoadRuntimeSettingsFile reads saved settings; a missing file yields false.
func LoadRuntimeSettingsFile(path string) (RuntimeSettings, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return RuntimeSettings{}, false, nil
	}
	if err != nil {
		return RuntimeSettings{}, false, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, false, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, true, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')
	return file.WriteAtomic(path, content, 0o600)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() RuntimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if t, ok := language.Lookup(next.TargetLanguage); ok {
		next.TargetLanguage = t.Code
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
