// Package registry loads and validates the runnables configuration file.
package registry

import (
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/types"
)

// Registry manages the configured runnables.
type Registry struct {
	config    Config
	runnables []types.RunnableConfig
	mu        sync.RWMutex
}

// Config contains registry configuration.
type Config struct {
	Log                log.Logger
	RunnableConfigFile string
	DefaultRunTimeout  types.Duration
}

// fileConfig is the on-disk shape of the runnables file.
type fileConfig struct {
	Defaults struct {
		RunTimeout types.Duration `yaml:"run_timeout,omitempty"`
		Parallel   int            `yaml:"parallel,omitempty"`
		EnumCache  bool           `yaml:"enum_cache,omitempty"`
	} `yaml:"defaults,omitempty"`
	Runnables []types.RunnableConfig `yaml:"runnables"`
}

// NewRegistry creates a new registry instance and loads the config file.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.RunnableConfigFile == "" {
		return nil, fmt.Errorf("runnable config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{
		config: cfg,
	}

	if err := r.loadRunnables(cfg.RunnableConfigFile); err != nil {
		return nil, fmt.Errorf("failed to load runnables: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(runnables)", len(r.runnables))

	return r, nil
}

// loadRunnables reads, validates and normalizes the runnables file.
func (r *Registry) loadRunnables(cfgPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileCfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(fileCfg.Runnables) == 0 {
		return fmt.Errorf("config file %q declares no runnables", cfgPath)
	}

	seen := make(map[string]bool, len(fileCfg.Runnables))
	for i := range fileCfg.Runnables {
		rc := &fileCfg.Runnables[i]

		// Apply file-level defaults before validation fills the rest.
		if rc.RunTimeout == 0 {
			if fileCfg.Defaults.RunTimeout != 0 {
				rc.RunTimeout = fileCfg.Defaults.RunTimeout
			} else {
				rc.RunTimeout = r.config.DefaultRunTimeout
			}
		}
		if rc.Parallel == 0 {
			rc.Parallel = fileCfg.Defaults.Parallel
		}
		if !rc.EnumCache {
			rc.EnumCache = fileCfg.Defaults.EnumCache
		}

		if err := rc.Validate(); err != nil {
			return err
		}
		if _, err := framework.New(framework.Kind(rc.Framework)); err != nil {
			return fmt.Errorf("runnable %q: %w", rc.ID, err)
		}
		if seen[rc.ID] {
			return fmt.Errorf("duplicate runnable id %q", rc.ID)
		}
		seen[rc.ID] = true
	}

	r.runnables = fileCfg.Runnables

	return nil
}

// GetRunnables returns all configured runnables.
func (r *Registry) GetRunnables() []types.RunnableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runnables
}

// GetRunnable returns the runnable with the given id, or false.
func (r *Registry) GetRunnable(id string) (types.RunnableConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rc := range r.runnables {
		if rc.ID == id {
			return rc, true
		}
	}
	return types.RunnableConfig{}, false
}

// GetConfig returns the registry configuration.
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadConfig loads the runnables config from a file.
func loadConfig(path string) (*fileConfig, error) {
	log.Debug("Reading runnable config file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}
