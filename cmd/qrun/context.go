package main

import (
	"strings"
	"sync"

	"qrun/internal/config"
)

// commandContext carries the persistent flags and lazily resolves the
// configuration they point at.
type commandContext struct {
	socketFlag *string
	configFlag *string

	once     sync.Once
	cfg      *config.Config
	cfgPath  string
	fromFile bool
	err      error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{socketFlag: socketFlag, configFlag: configFlag}
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// ensureConfig loads the configuration once, applying --socket on top.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		c.cfg, c.cfgPath, c.fromFile, c.err = c.load()
	})
	return c.cfg, c.err
}

func (c *commandContext) load() (*config.Config, string, bool, error) {
	cfg, path, exists, err := config.Load(flagValue(c.configFlag))
	if err != nil {
		return nil, "", false, err
	}
	if socket := flagValue(c.socketFlag); socket != "" {
		if cfg.Paths.Socket, err = config.ExpandPath(socket); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, "", false, err
	}
	return cfg, path, exists, nil
}

// launchConfigPath is the file a detached daemon must reload, or empty when
// only defaults were used.
func (c *commandContext) launchConfigPath() string {
	if !c.fromFile {
		return ""
	}
	return c.cfgPath
}
