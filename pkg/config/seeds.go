package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arguslabs/argus/core/pkg/contracts"
)

// seedPolicy mirrors contracts.PolicyDefinition with YAML field names.
type seedPolicy struct {
	PolicyID string         `yaml:"policy_id"`
	Name     string         `yaml:"name"`
	Version  string         `yaml:"version"`
	Scope    string         `yaml:"scope"`
	Active   *bool          `yaml:"active"`
	Rules    []seedRule     `yaml:"rules"`
	Metadata map[string]any `yaml:"metadata"`
}

type seedRule struct {
	RuleID    string   `yaml:"rule_id"`
	Name      string   `yaml:"name"`
	Condition string   `yaml:"condition"`
	Action    string   `yaml:"action"`
	Priority  int      `yaml:"priority"`
	Enabled   *bool    `yaml:"enabled"`
	Tags      []string `yaml:"tags"`
}

// seedConstraint mirrors contracts.Constraint with YAML field names.
type seedConstraint struct {
	ConstraintID   string        `yaml:"constraint_id"`
	Name           string        `yaml:"name"`
	ConstraintType string        `yaml:"constraint_type"`
	Limit          float64       `yaml:"limit"`
	WindowSeconds  int           `yaml:"window_seconds"`
	Scope          string        `yaml:"scope"`
	AgentID        string        `yaml:"agent_id"`
	Operations     []string      `yaml:"operations"`
	Temporal       *seedTemporal `yaml:"temporal_config"`
	Enabled        *bool         `yaml:"enabled"`
}

type seedTemporal struct {
	BusinessHoursOnly bool   `yaml:"business_hours_only"`
	StartHour         int    `yaml:"start_hour"`
	EndHour           int    `yaml:"end_hour"`
	AllowedDays       []int  `yaml:"allowed_days"`
	Timezone          string `yaml:"timezone"`
}

// LoadPolicySeeds reads all policy_*.yaml files from dir. Booleans omitted
// in the file default to true so seed files stay terse.
func LoadPolicySeeds(dir string) ([]contracts.PolicyDefinition, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "policy_*.yaml"))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	defs := make([]contracts.PolicyDefinition, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var seed seedPolicy
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if seed.PolicyID == "" {
			// policy_base.yaml -> base
			base := filepath.Base(path)
			seed.PolicyID = base[len("policy_") : len(base)-len(".yaml")]
		}

		def := contracts.PolicyDefinition{
			PolicyID:  seed.PolicyID,
			Name:      seed.Name,
			Version:   seed.Version,
			Scope:     seed.Scope,
			Active:    boolOr(seed.Active, true),
			Metadata:  seed.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if def.Scope == "" {
			def.Scope = "global"
		}
		for _, r := range seed.Rules {
			def.Rules = append(def.Rules, contracts.PolicyRule{
				RuleID:    r.RuleID,
				Name:      r.Name,
				Condition: r.Condition,
				Action:    contracts.RuleAction(r.Action),
				Priority:  r.Priority,
				Enabled:   boolOr(r.Enabled, true),
				Tags:      r.Tags,
			})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadConstraintSeeds reads all constraint_*.yaml files from dir.
func LoadConstraintSeeds(dir string) ([]contracts.Constraint, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "constraint_*.yaml"))
	if err != nil {
		return nil, err
	}

	cons := make([]contracts.Constraint, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var seed seedConstraint
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if seed.ConstraintID == "" {
			base := filepath.Base(path)
			seed.ConstraintID = base[len("constraint_") : len(base)-len(".yaml")]
		}

		c := contracts.Constraint{
			ConstraintID:   seed.ConstraintID,
			Name:           seed.Name,
			ConstraintType: contracts.ConstraintType(seed.ConstraintType),
			Limit:          seed.Limit,
			WindowSeconds:  seed.WindowSeconds,
			Scope:          seed.Scope,
			AgentID:        seed.AgentID,
			Operations:     seed.Operations,
			Enabled:        boolOr(seed.Enabled, true),
		}
		if seed.Temporal != nil {
			c.TemporalConfig = &contracts.TemporalConfig{
				BusinessHoursOnly: seed.Temporal.BusinessHoursOnly,
				StartHour:         seed.Temporal.StartHour,
				EndHour:           seed.Temporal.EndHour,
				AllowedDays:       seed.Temporal.AllowedDays,
				Timezone:          seed.Temporal.Timezone,
			}
		}
		cons = append(cons, c)
	}
	return cons, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
