package rules

import (
	"errors"
	"fmt"
	"slices"
)

// Confidence sources for a reclassification target.
const (
	ConfidenceOriginal  = "original"
	ConfidenceSecondary = "secondary"
)

// Prediction is one ranked classifier output.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Observation is the classifier output a reclassification decision is made
// from: the primary label with its confidence, plus the ranked top predictions.
type Observation struct {
	Label      string
	Confidence float64
	Top        []Prediction
}

// Effective is the label and confidence used for all downstream logic.
// Original is empty when no reclassification applied.
type Effective struct {
	Label      string
	Confidence float64
	Original   string
}

// Reclassified reports whether a reclassification row rewrote the label.
func (e Effective) Reclassified() bool { return e.Original != "" }

// ReclassRule is one row of the reclassification decision table.
type ReclassRule struct {
	Match     ReclassMatch     `yaml:"match"`
	Secondary *SecondarySignal `yaml:"secondary,omitempty"`
	Target    ReclassTarget    `yaml:"target"`
}

// ReclassMatch is the condition on the primary label and confidence.
// Bounds are optional; unset bounds do not constrain.
type ReclassMatch struct {
	Label         string   `yaml:"label,omitempty"`
	Labels        []string `yaml:"labels,omitempty"`
	ConfidenceGT  *float64 `yaml:"confidence_gt,omitempty"`
	ConfidenceGTE *float64 `yaml:"confidence_gte,omitempty"`
	ConfidenceLT  *float64 `yaml:"confidence_lt,omitempty"`
	ConfidenceLTE *float64 `yaml:"confidence_lte,omitempty"`

	// NoDirectRule restricts the row to labels the catalog has no rule for.
	NoDirectRule bool `yaml:"no_direct_rule,omitempty"`
}

// SecondarySignal requires another label to appear in the top predictions
// above a confidence floor, optionally also meeting that label's own rule
// threshold.
type SecondarySignal struct {
	Label              string  `yaml:"label"`
	ConfidenceGT       float64 `yaml:"confidence_gt"`
	MeetsRuleThreshold bool    `yaml:"meets_rule_threshold,omitempty"`
}

// ReclassTarget names the label the detection is rewritten to and which
// confidence travels with it.
type ReclassTarget struct {
	Label      string `yaml:"label"`
	Confidence string `yaml:"confidence,omitempty"` // original (default) or secondary

	// MeetsRuleThreshold gates the rewrite on the target rule's threshold.
	MeetsRuleThreshold bool `yaml:"meets_rule_threshold,omitempty"`

	// FallbackToOriginal controls what a failed threshold gate does: when
	// set the row is consumed and the original label stays in effect; when
	// unset the row is skipped and later rows may still match.
	FallbackToOriginal bool `yaml:"fallback_to_original,omitempty"`
}

func (rr *ReclassRule) validate() error {
	var errs []error

	if rr.Match.Label == "" && len(rr.Match.Labels) == 0 {
		errs = append(errs, errors.New("match has no label"))
	}
	if rr.Match.Label != "" && len(rr.Match.Labels) > 0 {
		errs = append(errs, errors.New("match sets both label and labels"))
	}
	for _, b := range []*float64{rr.Match.ConfidenceGT, rr.Match.ConfidenceGTE, rr.Match.ConfidenceLT, rr.Match.ConfidenceLTE} {
		if b != nil && (*b < 0 || *b > 1) {
			errs = append(errs, fmt.Errorf("match bound %v outside [0,1]", *b))
		}
	}
	if rr.Target.Label == "" {
		errs = append(errs, errors.New("target has no label"))
	}
	switch rr.Target.Confidence {
	case "", ConfidenceOriginal:
	case ConfidenceSecondary:
		if rr.Secondary == nil {
			errs = append(errs, errors.New("target confidence is secondary but no secondary signal is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown target confidence source %q", rr.Target.Confidence))
	}
	if rr.Secondary != nil && rr.Secondary.Label == "" {
		errs = append(errs, errors.New("secondary has no label"))
	}

	return errors.Join(errs...)
}

func (m *ReclassMatch) applies(o Observation, c *Catalog) bool {
	if m.Label != "" && o.Label != m.Label {
		return false
	}
	if len(m.Labels) > 0 && !slices.Contains(m.Labels, o.Label) {
		return false
	}
	if m.ConfidenceGT != nil && !(o.Confidence > *m.ConfidenceGT) {
		return false
	}
	if m.ConfidenceGTE != nil && o.Confidence < *m.ConfidenceGTE {
		return false
	}
	if m.ConfidenceLT != nil && !(o.Confidence < *m.ConfidenceLT) {
		return false
	}
	if m.ConfidenceLTE != nil && o.Confidence > *m.ConfidenceLTE {
		return false
	}
	if m.NoDirectRule {
		if _, ok := c.rules[o.Label]; ok {
			return false
		}
	}
	return true
}

// Reclassify evaluates the decision table against o in row order. The first
// row whose conditions hold consumes the observation: at most one
// reclassification applies. When no row applies the observation passes
// through unchanged.
func (c *Catalog) Reclassify(o Observation) Effective {
	passthrough := Effective{Label: o.Label, Confidence: o.Confidence}

	for i := range c.reclass {
		rr := &c.reclass[i]
		if !rr.Match.applies(o, c) {
			continue
		}

		conf := o.Confidence
		if rr.Secondary != nil {
			p, ok := topPrediction(o.Top, rr.Secondary.Label)
			if !ok || p.Confidence <= rr.Secondary.ConfidenceGT {
				continue
			}
			if rr.Secondary.MeetsRuleThreshold {
				tr, ok := c.rules[rr.Secondary.Label]
				if !ok || p.Confidence < tr.Threshold {
					continue
				}
			}
			if rr.Target.Confidence == ConfidenceSecondary {
				conf = p.Confidence
			}
		}

		if rr.Target.MeetsRuleThreshold {
			tr, ok := c.rules[rr.Target.Label]
			if !ok || conf < tr.Threshold {
				if rr.Target.FallbackToOriginal {
					// Row consumed: the original label (and its rule, if any)
					// stays in effect.
					return passthrough
				}
				// Row does not apply; later rows may still match.
				continue
			}
		}

		return Effective{Label: rr.Target.Label, Confidence: conf, Original: o.Label}
	}

	return passthrough
}

func topPrediction(top []Prediction, label string) (Prediction, bool) {
	for _, p := range top {
		if p.Label == label {
			return p, true
		}
	}
	return Prediction{}, false
}
