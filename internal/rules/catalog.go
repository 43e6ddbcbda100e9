// Package rules holds the static alerting policy: the rule catalog that maps
// sound labels to alert behavior, and the reclassification table that corrects
// known classifier confusions before rule lookup.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultConfig []byte

// Severity ranks how serious a matched rule is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertType categorizes what kind of response an alert calls for.
type AlertType string

const (
	TypeMechanical  AlertType = "mechanical"
	TypeSafety      AlertType = "safety"
	TypeMaintenance AlertType = "maintenance"
	TypeEmergency   AlertType = "emergency"
	TypeSecurity    AlertType = "security"
)

// Valid reports whether t is one of the known alert types.
func (t AlertType) Valid() bool {
	switch t {
	case TypeMechanical, TypeSafety, TypeMaintenance, TypeEmergency, TypeSecurity:
		return true
	}
	return false
}

// Rule is the alerting policy for a single sound label.
type Rule struct {
	Label           string    `yaml:"label"`
	Threshold       float64   `yaml:"threshold"`
	Severity        Severity  `yaml:"severity"`
	AlertType       AlertType `yaml:"alert_type"`
	NotifyOwner     bool      `yaml:"notify_owner"`
	NotifyService   bool      `yaml:"notify_service"`
	MessageTemplate string    `yaml:"message"`
}

// Catalog is the immutable rule table plus the ordered reclassification
// table. Built once at startup; safe for concurrent reads.
type Catalog struct {
	rules   map[string]Rule
	reclass []ReclassRule
}

type configFile struct {
	Rules      []Rule        `yaml:"rules"`
	Reclassify []ReclassRule `yaml:"reclassify"`
}

// Load builds a Catalog from the YAML file at path, or from the embedded
// defaults when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultConfig
	if path != "" {
		b, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
		if err != nil {
			return nil, fmt.Errorf("rules: read %s: %w", path, err)
		}
		raw = b
	}
	return Parse(raw)
}

// Parse decodes and validates a rules config document.
func Parse(raw []byte) (*Catalog, error) {
	var cf configFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("rules: decode config: %w", err)
	}

	if len(cf.Rules) == 0 {
		return nil, errors.New("rules: config defines no rules")
	}

	var errs []error
	byLabel := make(map[string]Rule, len(cf.Rules))
	for i, r := range cf.Rules {
		if r.Label == "" {
			errs = append(errs, fmt.Errorf("rule %d: empty label", i))
			continue
		}
		if _, dup := byLabel[r.Label]; dup {
			errs = append(errs, fmt.Errorf("rule %q: duplicate label", r.Label))
		}
		if r.Threshold < 0 || r.Threshold > 1 {
			errs = append(errs, fmt.Errorf("rule %q: threshold %v outside [0,1]", r.Label, r.Threshold))
		}
		if !r.Severity.Valid() {
			errs = append(errs, fmt.Errorf("rule %q: unknown severity %q", r.Label, r.Severity))
		}
		if !r.AlertType.Valid() {
			errs = append(errs, fmt.Errorf("rule %q: unknown alert type %q", r.Label, r.AlertType))
		}
		if r.MessageTemplate == "" {
			errs = append(errs, fmt.Errorf("rule %q: empty message", r.Label))
		}
		byLabel[r.Label] = r
	}

	for i, rr := range cf.Reclassify {
		if err := rr.validate(); err != nil {
			errs = append(errs, fmt.Errorf("reclassify row %d: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("rules: invalid config: %w", errors.Join(errs...))
	}

	return &Catalog{rules: byLabel, reclass: cf.Reclassify}, nil
}

// Lookup returns the rule for label. Absence is a legitimate input state,
// not an error: it means no alerting policy exists for that label.
func (c *Catalog) Lookup(label string) (Rule, bool) {
	r, ok := c.rules[label]
	return r, ok
}

// Match applies the threshold gate: it returns the rule for label and true
// iff a rule exists and confidence meets its threshold.
func (c *Catalog) Match(label string, confidence float64) (Rule, bool) {
	r, ok := c.rules[label]
	if !ok {
		return Rule{}, false
	}
	if confidence < r.Threshold {
		return Rule{}, false
	}
	return r, true
}

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int { return len(c.rules) }
