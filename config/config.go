// Package config loads the YAML host configuration: default send encoding,
// console logging, and the set of plugin names a host may serve, with
// fsnotify-driven hot reload so a running host can add or drop servable
// plugins without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/telestoworld/telestoworld-rpc/rpc"
)

// Config is a host's runtime configuration, reloadable from its backing
// YAML file.
type Config struct {
	mu sync.RWMutex

	path   string
	logger *zap.Logger

	sendEncoding rpc.Encoding
	logConsole   bool
	plugins      []string
}

type yamlConfig struct {
	SendEncoding string   `yaml:"send_encoding"`
	LogConsole   bool     `yaml:"log_console"`
	Plugins      []string `yaml:"plugins"`
}

// Load reads path and parses it as YAML host configuration.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}
	c := &Config{path: path, logger: logger}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", c.path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.path, err)
	}

	enc := rpc.EncodingMessagePack
	if y.SendEncoding == "json" {
		enc = rpc.EncodingJSON
	}

	c.mu.Lock()
	c.sendEncoding = enc
	c.logConsole = y.LogConsole
	c.plugins = append([]string(nil), y.Plugins...)
	c.mu.Unlock()

	c.logger.Info("config: loaded", zap.String("path", c.path), zap.Int("plugins", len(y.Plugins)))
	return nil
}

// SendEncoding is the configured default outbound encoding.
func (c *Config) SendEncoding() rpc.Encoding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendEncoding
}

// LogConsole reports whether the host should log every envelope.
func (c *Config) LogConsole() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logConsole
}

// Plugins returns a copy of the configured servable plugin names.
func (c *Config) Plugins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.plugins...)
}

// Watch starts an fsnotify watch on the config file's directory and
// reloads whenever the file changes, so a host can add or remove servable
// plugin names without a restart. The caller owns the returned watcher's
// lifetime and must Close it when done.
func (c *Config) Watch() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go c.watchLoop(watcher)
	return watcher, nil
}

func (c *Config) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				c.logger.Warn("config: reload failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config: watcher error", zap.Error(err))
		}
	}
}
