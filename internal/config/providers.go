package config

import (
	"fmt"
	"os"

	"agenda/internal/model"

	"gopkg.in/yaml.v3"
)

// RuleConfig is one weekly window applied to each listed day.
type RuleConfig struct {
	Days  []int  `yaml:"days"` // 0=Sun .. 6=Sat
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// ProviderConfig represents a single provider and their weekly availability.
type ProviderConfig struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	Email          string       `yaml:"email"`
	TelegramChatID int64        `yaml:"telegram_chat_id"`
	IsActive       *bool        `yaml:"is_active,omitempty"`
	Rules          []RuleConfig `yaml:"rules,omitempty"`
}

// Active defaults to true when is_active is omitted.
func (p ProviderConfig) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// DefaultsConfig holds rules used by providers that declare none.
type DefaultsConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// ProvidersConfig is the root of providers.yaml.
type ProvidersConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
}

// LoadProvidersConfig loads and validates providers configuration from a YAML file.
func LoadProvidersConfig(path string) (*ProvidersConfig, error) {
	if path == "" {
		path = "configs/providers.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers config: %w", err)
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate providers config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *ProvidersConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers defined")
	}

	ids := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider[%d]: id is required", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("provider[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = true

		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		for j, r := range p.Rules {
			if err := validateRule(r, fmt.Sprintf("provider[%d].rules[%d]", i, j)); err != nil {
				return err
			}
		}
	}

	for j, r := range c.Defaults.Rules {
		if err := validateRule(r, fmt.Sprintf("defaults.rules[%d]", j)); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(r RuleConfig, path string) error {
	if len(r.Days) == 0 {
		return fmt.Errorf("%s: days are required", path)
	}
	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%s: day %d out of range 0-6", path, d)
		}
	}
	rule := model.AvailabilityRule{StartTime: r.Start, EndTime: r.End}
	if _, _, err := rule.Window(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// EffectiveRules expands a provider's windows, falling back to the defaults.
func (c *ProvidersConfig) EffectiveRules(p ProviderConfig) []model.AvailabilityRule {
	src := p.Rules
	if len(src) == 0 {
		src = c.Defaults.Rules
	}

	var out []model.AvailabilityRule
	for _, r := range src {
		for _, d := range r.Days {
			out = append(out, model.AvailabilityRule{
				ProviderID: p.ID,
				DayOfWeek:  d,
				StartTime:  r.Start,
				EndTime:    r.End,
				IsActive:   true,
			})
		}
	}
	return out
}
