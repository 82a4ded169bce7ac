// Package budget bounds the tokens, spend and wall time of a single investigation.
package budget

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
)

// Config defines guardrails for one investigation. Nil or zero values mean unlimited.
type Config struct {
	MaxCost   *float64
	MaxTokens *int64
	MaxTime   time.Duration
}

// FromConfig derives the default per-investigation budget.
func FromConfig(cfg config.InvestigationConfig) Config {
	var c Config
	if cfg.Budget.MaxCost > 0 {
		v := cfg.Budget.MaxCost
		c.MaxCost = &v
	}
	if cfg.Budget.MaxTokens > 0 {
		v := cfg.Budget.MaxTokens
		c.MaxTokens = &v
	}
	c.MaxTime = cfg.Deadline
	return c
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxTime < 0 {
		return fmt.Errorf("max_time cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	clone := Config{MaxTime: c.MaxTime}
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	return clone
}

// Merge overlays set values from override onto base. Queue requests use it to tighten
// or relax the process default for one investigation.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxCost != nil {
		v := *override.MaxCost
		result.MaxCost = &v
	}
	if override.MaxTokens != nil {
		v := *override.MaxTokens
		result.MaxTokens = &v
	}
	if override.MaxTime > 0 {
		result.MaxTime = override.MaxTime
	}
	return result
}

// IsZero reports whether the config defines no explicit limits.
func (c Config) IsZero() bool {
	if c.MaxCost != nil && *c.MaxCost != 0 {
		return false
	}
	if c.MaxTokens != nil && *c.MaxTokens != 0 {
		return false
	}
	return c.MaxTime == 0
}
