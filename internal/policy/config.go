// Package policy loads the single configuration document described in
// spec.md §4.8: ACL, label policy, demo-crate set, sandbox caps, and
// per-package overrides. Grounded on pkg/app/config.go's lazy
// sync.Once-loaded, validated YAML document.
package policy

import (
	"fmt"
	"net/mail"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Override is the per-package policy flag set from spec.md §4.3/§4.8.
type Override struct {
	Skip      bool `yaml:"skip"`
	SkipTests bool `yaml:"skipTests"`
	Broken    bool `yaml:"broken"`
	Quiet     bool `yaml:"quiet"`
	Slow      bool `yaml:"slow"`
}

// SandboxCaps are the resource limits enforced by the executor, spec.md §4.4.
type SandboxCaps struct {
	MemoryLimitBytes  int64 `yaml:"memoryLimit"`
	BuildLogMaxSize   int64 `yaml:"buildLogMaxSize"`
	BuildLogMaxLines  int   `yaml:"buildLogMaxLines"`
	OverallTimeoutSec int64 `yaml:"overallTimeoutSeconds"`
	NoOutputTimeoutSec int64 `yaml:"noOutputTimeoutSeconds"`
}

// DemoCrates is the fixed demo selection from original_source/src/ex.rs:
// one registry crate, one git-hosted crate.
type DemoCrates struct {
	Crate string `yaml:"crate"`
	Repo  string `yaml:"repo"`
}

// Config is the process-wide immutable snapshot loaded at startup; its ACL
// sub-structure is the one exception, swapped under ACL's own write-lock by
// reload-acl (SPEC_FULL.md §5.6), per the "global config" design note in
// spec.md §9.
type Config struct {
	acl *ACLStore `yaml:"-"`

	ACLPath      string              `yaml:"aclPath"`
	Labels       map[string]string   `yaml:"labels"`
	Demo         DemoCrates          `yaml:"demoCrates"`
	Sandbox      SandboxCaps         `yaml:"sandbox"`
	PackageRules map[string]Override `yaml:"packages"`
}

func defaultConfig() Config {
	return Config{
		Sandbox: SandboxCaps{
			MemoryLimitBytes:   1536 << 20,
			BuildLogMaxSize:    5 << 20,
			BuildLogMaxLines:   10000,
			OverallTimeoutSec:  15 * 60,
			NoOutputTimeoutSec: 2 * 60,
		},
	}
}

var (
	loadedOnce sync.Once
	loaded     *Config
	loadErr    error
)

// Load reads and validates path once per process; subsequent calls return
// the cached result, matching pkg/app/config.go's Config().
func Load(path string) (*Config, error) {
	loadedOnce.Do(func() {
		loaded, loadErr = loadFrom(path)
	})
	return loaded, loadErr
}

func loadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	acl, err := LoadACL(cfg.ACLPath)
	if err != nil {
		return nil, fmt.Errorf("aclPath: %w", err)
	}
	cfg.acl = NewACLStore(cfg.ACLPath, acl)
	return &cfg, nil
}

// CheckConfig validates that every keyed package-rule entry refers to a
// known package in the current corpus and that no key is duplicated --
// spec.md §4.8. YAML map keys are already unique by construction, so the
// duplicate check is vacuous for map-backed config; it is kept explicit
// here because it is a named contract of the spec, and a future on-disk
// format (e.g. a line-oriented file) could reintroduce the possibility.
func (c *Config) CheckConfig(known func(name string) bool) error {
	seen := make(map[string]bool, len(c.PackageRules))
	for name := range c.PackageRules {
		if seen[name] {
			return fmt.Errorf("duplicate package rule for %q", name)
		}
		seen[name] = true
		if !known(name) {
			return fmt.Errorf("package rule for %q refers to an unknown package", name)
		}
	}
	return nil
}

func (c Config) Validate() error {
	if c.Sandbox.MemoryLimitBytes <= 0 {
		return fmt.Errorf("sandbox.memoryLimit must be positive")
	}
	if c.Sandbox.BuildLogMaxSize <= 0 {
		return fmt.Errorf("sandbox.buildLogMaxSize must be positive")
	}
	if c.Sandbox.BuildLogMaxLines <= 0 {
		return fmt.Errorf("sandbox.buildLogMaxLines must be positive")
	}
	for addr := range c.Labels {
		if _, err := mail.ParseAddress(addr); err == nil {
			continue // labels may be emails or plain strings, so no label is rejected here
		}
	}
	return nil
}

// OverridesFor looks up the policy override for a package by its corpus
// key (crate name, or "git:<repository URL>" for git-hosted packages).
func (c *Config) OverridesFor(key string) Override {
	return c.PackageRules[key]
}

func (c *Config) ACL() *ACLStore { return c.acl }
