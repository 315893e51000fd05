package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/internal/llm"
	"github.com/MimeLyc/srt-translator/pkg/icron"
)

// Config holds all application configuration.
//
// Values come from defaults, then an optional TOML or YAML file, then
// environment variables (a .env file in the working directory is loaded first).
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: gemini or openai (default: gemini)
// - LLM_API_KEY: API key; GEMINI_API_KEY is used when unset
// - LLM_API_URL: API endpoint URL (default: provider endpoint)
// - LLM_MODEL: Model name (default: gemini-1.5-flash)
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TOP_P, LLM_TOP_K: generation parameters
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
// - LLM_SITE_URL, LLM_APP_NAME: OpenRouter attribution headers (optional)
//
// Translation:
// - TARGET_LANGUAGE (default: pt-BR), BLOCK_SIZE (default: 180)
// - CALL_DELAY_MS (default: 1000), MAX_RETRIES (default: 3)
// - RETRY_BASE_DELAY_MS (default: 1000), RETRY_MAX_DELAY_MS (default: 30000)
// - MAX_ACTIVE_JOBS (default: 1)
//
// System:
// - OUTPUT_DIR (default: next to the source), DATA_DIR (default: ./data)
// - HTTP_ADDR (default: :8080), ALLOWED_ROOTS (comma separated)
// - WATCH_DIR, CRON_EXPR (default: */5 * * * *)
// - LOG_LEVEL (default: info), LOG_FILE
type Config struct {
	LLM       llm.Config      `toml:"llm" yaml:"llm" json:"llm"`
	Translate TranslateConfig `toml:"translate" yaml:"translate" json:"translate"`
	System    SystemConfig    `toml:"system" yaml:"system" json:"system"`
	HTTP      HTTPConfig      `toml:"http" yaml:"http" json:"http"`
	Watch     WatchConfig     `toml:"watch" yaml:"watch" json:"watch"`
	Log       LogConfig       `toml:"log" yaml:"log" json:"log"`
}

type TranslateConfig struct {
	TargetLanguage   string `toml:"target_language" yaml:"target_language" json:"target_language"`
	BlockSize        int    `toml:"block_size" yaml:"block_size" json:"block_size"`
	CallDelayMS      int    `toml:"call_delay_ms" yaml:"call_delay_ms" json:"call_delay_ms"`
	MaxRetries       int    `toml:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryBaseDelayMS int    `toml:"retry_base_delay_ms" yaml:"retry_base_delay_ms" json:"retry_base_delay_ms"`
	RetryMaxDelayMS  int    `toml:"retry_max_delay_ms" yaml:"retry_max_delay_ms" json:"retry_max_delay_ms"`
	MaxActiveJobs    int    `toml:"max_active_jobs" yaml:"max_active_jobs" json:"max_active_jobs"`
}

type SystemConfig struct {
	OutputDir string `toml:"output_dir" yaml:"output_dir" json:"output_dir"`
	DataDir   string `toml:"data_dir" yaml:"data_dir" json:"data_dir"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`
	// AllowedRoots are the directories API clients may name server paths in.
	AllowedRoots []string `toml:"allowed_roots" yaml:"allowed_roots" json:"allowed_roots"`
}

type WatchConfig struct {
	Dir      string `toml:"dir" yaml:"dir" json:"dir"`
	CronExpr string `toml:"cron_expr" yaml:"cron_expr" json:"cron_expr"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
	File  string `toml:"file" yaml:"file" json:"file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func Default() Config {
	return Config{
		LLM: llm.DefaultConfig(),
		Translate: TranslateConfig{
			TargetLanguage:   "pt-BR",
			BlockSize:        180,
			CallDelayMS:      1000,
			MaxRetries:       3,
			RetryBaseDelayMS: 1000,
			RetryMaxDelayMS:  30000,
			MaxActiveJobs:    1,
		},
		System: SystemConfig{
			DataDir: "./data",
		},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Watch: WatchConfig{CronExpr: "*/5 * * * *"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional file at path and
// the environment, then validates it.
func Load(path string, opts ...Option) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(err, errs.KindConfiguration, "cannot read config file").WithContext("path", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return errs.Newf(errs.KindConfiguration, "unsupported config file format %q", filepath.Ext(path))
	}
	if err != nil {
		return errs.Wrap(err, errs.KindConfiguration, "invalid config file").WithContext("path", path)
	}
	return nil
}

func applyEnv(c *Config) {
	c.LLM.Provider = getEnvString("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnvString("LLM_API_KEY", getEnvString("GEMINI_API_KEY", c.LLM.APIKey))
	c.LLM.APIURL = getEnvString("LLM_API_URL", c.LLM.APIURL)
	c.LLM.Model = getEnvString("LLM_MODEL", c.LLM.Model)
	c.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.TopP = getEnvFloat("LLM_TOP_P", c.LLM.TopP)
	c.LLM.TopK = getEnvInt("LLM_TOP_K", c.LLM.TopK)
	c.LLM.Timeout = getEnvInt("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.SiteURL = getEnvString("LLM_SITE_URL", c.LLM.SiteURL)
	c.LLM.AppName = getEnvString("LLM_APP_NAME", c.LLM.AppName)

	c.Translate.TargetLanguage = getEnvString("TARGET_LANGUAGE", c.Translate.TargetLanguage)
	c.Translate.BlockSize = getEnvInt("BLOCK_SIZE", c.Translate.BlockSize)
	c.Translate.CallDelayMS = getEnvInt("CALL_DELAY_MS", c.Translate.CallDelayMS)
	c.Translate.MaxRetries = getEnvInt("MAX_RETRIES", c.Translate.MaxRetries)
	c.Translate.RetryBaseDelayMS = getEnvInt("RETRY_BASE_DELAY_MS", c.Translate.RetryBaseDelayMS)
	c.Translate.RetryMaxDelayMS = getEnvInt("RETRY_MAX_DELAY_MS", c.Translate.RetryMaxDelayMS)
	c.Translate.MaxActiveJobs = getEnvInt("MAX_ACTIVE_JOBS", c.Translate.MaxActiveJobs)

	c.System.OutputDir = getEnvString("OUTPUT_DIR", c.System.OutputDir)
	c.System.DataDir = getEnvString("DATA_DIR", c.System.DataDir)
	c.HTTP.Addr = getEnvString("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.AllowedRoots = getEnvList("ALLOWED_ROOTS", c.HTTP.AllowedRoots)
	c.Watch.Dir = getEnvString("WATCH_DIR", c.Watch.Dir)
	c.Watch.CronExpr = getEnvString("CRON_EXPR", c.Watch.CronExpr)
	c.Log.Level = getEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnvString("LOG_FILE", c.Log.File)
}

// Validate checks every setting; the API key is deliberately not required.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return errs.Wrap(err, errs.KindConfiguration, "invalid llm settings")
	}
	if _, err := language.Resolve(c.Translate.TargetLanguage); err != nil {
		return err
	}
	t := c.Translate
	switch {
	case t.BlockSize < 1:
		return configErr("BLOCK_SIZE must be at least 1, got %d", t.BlockSize)
	case t.MaxActiveJobs < 1:
		return configErr("MAX_ACTIVE_JOBS must be at least 1, got %d", t.MaxActiveJobs)
	case t.CallDelayMS < 0:
		return configErr("CALL_DELAY_MS must not be negative, got %d", t.CallDelayMS)
	case t.MaxRetries < 0:
		return configErr("MAX_RETRIES must not be negative, got %d", t.MaxRetries)
	case t.RetryBaseDelayMS < 0 || t.RetryMaxDelayMS < 0:
		return configErr("retry delays must not be negative")
	}
	if err := icron.Validate(c.Watch.CronExpr); err != nil {
		return errs.Wrap(err, errs.KindConfiguration, "invalid CRON_EXPR")
	}
	if strings.TrimSpace(c.System.DataDir) == "" {
		return configErr("DATA_DIR is required")
	}
	return nil
}

func configErr(format string, args ...any) error {
	return errs.Newf(errs.KindConfiguration, format, args...)
}

// TargetCode returns the canonical form of the configured target code.
func (c *Config) TargetCode() string {
	t, ok := language.Lookup(c.Translate.TargetLanguage)
	if !ok {
		return c.Translate.TargetLanguage
	}
	return t.Code
}

// CallDelay is the pacing interval; zero disables pacing.
func (c *Config) CallDelay() time.Duration {
	if c.Translate.CallDelayMS == 0 {
		return -1
	}
	return time.Duration(c.Translate.CallDelayMS) * time.Millisecond
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Translate.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Translate.RetryMaxDelayMS) * time.Millisecond
}

func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "srt-translator.db")
}

func (c *Config) UploadDir() string {
	return filepath.Join(c.System.DataDir, "uploads")
}

func (c *Config) SettingsPath() string {
	return filepath.Join(c.System.DataDir, "settings.json")
}

func (c *Config) LockPath() string {
	return filepath.Join(c.System.DataDir, ".lock")
}

// PathRoots returns the directories the HTTP API accepts server paths from:
// the allowed roots plus the watch directory.
func (c *Config) PathRoots() []string {
	roots := append([]string(nil), c.HTTP.AllowedRoots...)
	if c.Watch.Dir != "" {
		roots = append(roots, c.Watch.Dir)
	}
	return roots
}

func (c *Config) String() string {
	key := "unset"
	if c.LLM.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf("provider=%s model=%s key=%s target=%s block=%d delay=%dms retries=%d active=%d data=%s",
		c.LLM.Provider, c.LLM.Model, key, c.Translate.TargetLanguage, c.Translate.BlockSize,
		c.Translate.CallDelayMS, c.Translate.MaxRetries, c.Translate.MaxActiveJobs, c.System.DataDir)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList gets a comma separated list from environment variables with default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}
