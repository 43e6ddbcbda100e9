// Package notify delivers alert notifications to owner and service channels
// over pluggable transports. Delivery is fire-and-forget at-most-once: each
// channel is attempted independently and a failed channel never blocks or
// rolls back the other, nor the already-committed alert.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/harmonlabs/klaxon/internal/alerting"
	"github.com/harmonlabs/klaxon/internal/rules"
)

// Channels a notification can be dispatched on.
const (
	ChannelOwner   = "owner"
	ChannelService = "service"
)

// Message is the transport-independent notification payload.
type Message struct {
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes"`
}

// Publisher delivers a message over one concrete transport.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg *Message) error
}

// Multi fans a message out to several publishers. Publish succeeds only when
// every underlying transport succeeds.
type Multi []Publisher

// Name implements Publisher.
func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, p := range m {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, msg *Message) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher implements alerting.Notifier over a Publisher.
type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	logger  log.Logger
	metrics *alerting.Metrics
}

// NewDispatcher creates a dispatcher. timeout bounds each channel send.
func NewDispatcher(pub Publisher, timeout time.Duration, logger log.Logger, metrics *alerting.Metrics) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{pub: pub, timeout: timeout, logger: logger, metrics: metrics}
}

// Dispatch sends the alert on each channel the rule enables and reports
// per-channel outcomes. Errors are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, al *alerting.Alert, rule rules.Rule) alerting.DispatchResult {
	var res alerting.DispatchResult

	if rule.NotifyOwner {
		res.OwnerAttempted = true
		res.OwnerDelivered = d.send(ctx, al, ChannelOwner)
	}
	if rule.NotifyService {
		res.ServiceAttempted = true
		res.ServiceDelivered = d.send(ctx, al, ChannelService)
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, al *alerting.Alert, channel string) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.pub.Publish(ctx, BuildMessage(al, channel))

	if d.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.metrics.Notifications.WithLabelValues(channel, status).Inc()
		d.metrics.NotifyDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		d.logger.Error(ctx, err, "notification send failed",
			"alert_id", al.ID,
			"channel", channel,
			"transport", d.pub.Name(),
		)
		return false
	}

	d.logger.Info(ctx, "notification sent",
		"alert_id", al.ID,
		"channel", channel,
		"transport", d.pub.Name(),
	)
	return true
}

// BuildMessage renders the notification payload for one channel.
func BuildMessage(al *alerting.Alert, channel string) *Message {
	subject := fmt.Sprintf("[%s] Vehicle alert: %s", strings.ToUpper(string(al.Severity)), al.SoundLabel)

	body := fmt.Sprintf(`Vehicle Audio Alert

Alert ID: %s
Vehicle: %s
Time: %s
Type: %s
Severity: %s
Detection: %s (confidence %.2f%%)

%s

Log in to the dashboard to acknowledge this alert.`,
		al.ID,
		al.VehicleID,
		al.CreatedAt.UTC().Format(time.RFC3339),
		al.AlertType,
		al.Severity,
		al.SoundLabel,
		al.Confidence*100,
		al.Message,
	)

	return &Message{
		Subject: subject,
		Body:    body,
		Attributes: map[string]string{
			"alert_type": string(al.AlertType),
			"severity":   string(al.Severity),
			"vehicle_id": al.VehicleID,
			"channel":    channel,
		},
	}
}
