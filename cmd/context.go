package main

import (
	"strings"
	"sync"

	"github.com/MimeLyc/srt-translator/internal/config"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logFile    *log.FileLogger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the configuration once, overlays saved runtime
// settings and sets up logging.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		settings, ok, err := config.LoadRuntimeSettingsFile(cfg.SettingsPath())
		if err != nil {
			log.Warn("Ignoring settings file %s: %v", cfg.SettingsPath(), err)
		} else if ok {
			if cfg, err = config.Load(path, config.WithRuntimeSettings(settings)); err != nil {
				c.configErr = err
				return
			}
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.Log.Level = *c.logLevelFlag
		}
		if err := c.setupLogging(cfg); err != nil {
			c.configErr = err
			return
		}
		log.Debug("Config: %s", cfg)
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) setupLogging(cfg *config.Config) error {
	level := log.ParseLevel(cfg.Log.Level)
	if cfg.Log.File == "" {
		log.InitLogger(level)
		return nil
	}
	fl, err := log.NewFileLogger(cfg.Log.File, level)
	if err != nil {
		return err
	}
	c.logFile = fl
	log.SetLogger(fl.Logger)
	return nil
}

func (c *commandContext) close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
		c.logFile = nil
	}
}
