// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/wave/sandbox"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// productionMaxSymlinks is the symlink budget production uses when the
// file has no production section.
const productionMaxSymlinks = 16

// Config is the master configuration for wave.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Memory configures sandbox linear memory.
	Memory MemoryConfig `yaml:"memory"`

	// Resolver configures sandbox path resolution.
	Resolver ResolverConfig `yaml:"resolver"`

	// Process configures the arguments and environment exposed to the
	// guest.
	Process ProcessConfig `yaml:"process"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig       `yaml:"paths,omitempty"`
	Memory   *MemoryConfig      `yaml:"memory,omitempty"`
	Resolver *ResolverOverrides `yaml:"resolver,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the sandbox root: the host directory guest paths resolve
	// under.
	Root string `yaml:"root"`

	// Scratch is where validation checks and escape test fixtures are
	// created.
	Scratch string `yaml:"scratch"`
}

// MemoryConfig configures sandbox linear memory.
type MemoryConfig struct {
	// Size is the linear memory size in bytes.
	// Default: sandbox.LinearMemorySize
	Size uint64 `yaml:"size"`
}

// ResolverConfig configures sandbox path resolution.
type ResolverConfig struct {
	// MaxSymlinks is the symlink expansion budget per path.
	// Default: 40 (development, staging), 16 (production)
	MaxSymlinks int `yaml:"max_symlinks"`

	// FollowFinal is whether tools that resolve paths on behalf of an
	// operator follow a symlink in the final component.
	// Default: true
	FollowFinal bool `yaml:"follow_final"`
}

// ResolverOverrides is ResolverConfig with FollowFinal optional, so an
// override section that does not mention it leaves the base value.
type ResolverOverrides struct {
	MaxSymlinks int   `yaml:"max_symlinks"`
	FollowFinal *bool `yaml:"follow_final"`
}

// ProcessConfig configures the arguments and environment exposed to the
// guest.
type ProcessConfig struct {
	// Args is argv, including argv[0].
	Args []string `yaml:"args"`

	// Env is the environment as KEY=VALUE pairs.
	Env []string `yaml:"env"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "wave")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:    defaultRoot,
			Scratch: filepath.Join(defaultRoot, "scratch"),
		},
		Memory: MemoryConfig{
			Size: sandbox.LinearMemorySize,
		},
		Resolver: ResolverConfig{
			MaxSymlinks: sandbox.DefaultMaxSymlinks,
			FollowFinal: true,
		},
		Process: ProcessConfig{
			Args: []string{"wave"},
		},
	}
}

// Load loads configuration from WAVE_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if WAVE_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("WAVE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WAVE_CONFIG environment variable not set; " +
			"set it to the path of your wave.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: a tighter symlink budget.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Resolver: &ResolverOverrides{
					MaxSymlinks: productionMaxSymlinks,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Scratch != "" {
			c.Paths.Scratch = overrides.Paths.Scratch
		}
	}

	if overrides.Memory != nil {
		if overrides.Memory.Size != 0 {
			c.Memory.Size = overrides.Memory.Size
		}
	}

	if overrides.Resolver != nil {
		if overrides.Resolver.MaxSymlinks != 0 {
			c.Resolver.MaxSymlinks = overrides.Resolver.MaxSymlinks
		}
		if overrides.Resolver.FollowFinal != nil {
			c.Resolver.FollowFinal = *overrides.Resolver.FollowFinal
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WAVE_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WAVE_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Scratch = expandVars(c.Paths.Scratch, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if c.Memory.Size == 0 {
		errs = append(errs, fmt.Errorf("memory.size is required"))
	} else if c.Memory.Size > sandbox.LinearMemorySize {
		errs = append(errs, fmt.Errorf("memory.size must not exceed %d", uint64(sandbox.LinearMemorySize)))
	}

	if c.Resolver.MaxSymlinks <= 0 {
		errs = append(errs, fmt.Errorf("resolver.max_symlinks must be positive"))
	}

	if len(c.Process.Args) >= sandbox.MaxArgs {
		errs = append(errs, fmt.Errorf("process.args must have fewer than %d entries", sandbox.MaxArgs))
	}
	if len(c.Process.Env) >= sandbox.MaxArgs {
		errs = append(errs, fmt.Errorf("process.env must have fewer than %d entries", sandbox.MaxArgs))
	}
	for _, entry := range c.Process.Env {
		if !strings.Contains(entry, "=") {
			errs = append(errs, fmt.Errorf("process.env entry %q is not KEY=VALUE", entry))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Scratch,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

// SandboxConfig returns the sandbox.Config for one instance built from
// this configuration.
func (c *Config) SandboxConfig(logger *slog.Logger) sandbox.Config {
	return sandbox.Config{
		MemorySize:  c.Memory.Size,
		Args:        c.Process.Args,
		Env:         c.Process.Env,
		MaxSymlinks: c.Resolver.MaxSymlinks,
		Logger:      logger,
	}
}
