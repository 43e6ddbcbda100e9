package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DBConnectSeconds      int
	StoreTimeoutSeconds   int
	RulesFile             string
	SuppressWindowSeconds int
	ScanIntervalSeconds   int
	ScanBatchSize         int
	Workers               int
	NotifyTimeoutSeconds  int
	WebhookURL            string
	MQTTBroker            string
	MQTTTopic             string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBConnectSeconds, "db-connect-seconds", 30, "max seconds to retry the initial database connection (1..300)")
	fs.IntVar(&c.StoreTimeoutSeconds, "store-timeout-seconds", 5, "per-call store timeout in seconds (1..60)")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML rules/reclassification config (empty = embedded defaults)")
	fs.IntVar(&c.SuppressWindowSeconds, "suppress-window", 30, "duplicate-suppression window in seconds (1..3600)")
	fs.IntVar(&c.ScanIntervalSeconds, "scan-interval", 10, "seconds between scans for pending detections (1..300)")
	fs.IntVar(&c.ScanBatchSize, "scan-batch", 50, "max detections claimed per scan (1..1000)")
	fs.IntVar(&c.Workers, "workers", 4, "concurrent detection workers (1..64)")
	fs.IntVar(&c.NotifyTimeoutSeconds, "notify-timeout-seconds", 10, "per-channel notification send timeout in seconds (1..60)")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "webhook URL for alert notifications")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for alert notifications (e.g. tcp://broker:1883)")
	fs.StringVar(&c.MQTTTopic, "mqtt-topic", "klaxon/alerts", "MQTT topic for alert notifications")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", "klaxon", "MQTT client identifier")
	fs.StringVar(&c.MQTTUsername, "mqtt-username", "", "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", "", "MQTT password")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DBConnectSeconds <= 0 || c.DBConnectSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DB_CONNECT_SECONDS %d (must be 1..300)", c.DBConnectSeconds))
	}
	if c.StoreTimeoutSeconds <= 0 || c.StoreTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid STORE_TIMEOUT_SECONDS %d (must be 1..60)", c.StoreTimeoutSeconds))
	}
	if c.SuppressWindowSeconds <= 0 || c.SuppressWindowSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SUPPRESS_WINDOW %d (must be 1..3600)", c.SuppressWindowSeconds))
	}
	if c.ScanIntervalSeconds <= 0 || c.ScanIntervalSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SCAN_INTERVAL %d (must be 1..300)", c.ScanIntervalSeconds))
	}
	if c.ScanBatchSize <= 0 || c.ScanBatchSize > 1000 {
		errs = append(errs, fmt.Errorf("invalid SCAN_BATCH %d (must be 1..1000)", c.ScanBatchSize))
	}
	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}
	if c.NotifyTimeoutSeconds <= 0 || c.NotifyTimeoutSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_TIMEOUT_SECONDS %d (must be 1..60)", c.NotifyTimeoutSeconds))
	}

	// MQTT settings only matter when a broker is configured
	if c.MQTTBroker != "" {
		if c.MQTTTopic == "" {
			errs = append(errs, errors.New("MQTT_TOPIC is required when MQTT_BROKER is set"))
		}
		if c.MQTTClientID == "" {
			errs = append(errs, errors.New("MQTT_CLIENT_ID is required when MQTT_BROKER is set"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
