package alerting

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/harmonlabs/klaxon/internal/rules"
)

// messageData is what a rule message template may reference.
type messageData struct {
	VehicleID  string
	Label      string
	Confidence float64
}

// BuildAlert constructs a fully populated alert from a detection, its
// effective (post-reclassification) label, and the matched rule. Pure: no
// I/O, no clock reads beyond the now argument.
func BuildAlert(det *Detection, eff rules.Effective, rule rules.Rule, now time.Time) *Alert {
	top := det.Predictions
	if len(top) > 3 {
		top = top[:3]
	}

	return &Alert{
		ID:                 fmt.Sprintf("ALERT-%s-%d", det.VehicleID, now.UnixMilli()),
		VehicleID:          det.VehicleID,
		DetectionID:        det.ID,
		SoundLabel:         eff.Label,
		OriginalSoundLabel: eff.Original,
		Confidence:         eff.Confidence,
		Severity:           rule.Severity,
		Priority:           PriorityFor(rule.Severity),
		AlertType:          rule.AlertType,
		Message:            renderMessage(rule.MessageTemplate, messageData{VehicleID: det.VehicleID, Label: eff.Label, Confidence: eff.Confidence}),
		Status:             StatusNew,
		Location:           det.Location,
		Metadata: Metadata{
			ModelVersion:   det.ModelVersion,
			SourceRef:      det.SourceRef,
			TopPredictions: top,
		},
		CreatedAt: now.UTC(),
	}
}

// renderMessage executes the rule message as a template. A template that
// fails to parse or execute is served verbatim; rule messages are trusted
// config and the common case is a plain string with no actions.
func renderMessage(tmpl string, data messageData) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	t, err := template.New("message").Parse(tmpl)
	if err != nil {
		return tmpl
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return tmpl
	}
	return sb.String()
}
