package alerting

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the decision pipeline.
type Metrics struct {
	DetectionsProcessed *prometheus.CounterVec
	ProcessDuration     *prometheus.HistogramVec
	Reclassifications   *prometheus.CounterVec
	Suppressed          prometheus.Counter
	AlertsCreated       *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	NotifyDuration      *prometheus.HistogramVec
	DetectionsEnqueued  prometheus.Counter
	ScanBatchSize       prometheus.Histogram
	ScanErrors          prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DetectionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_detections_processed_total",
			Help: "Detections processed by terminal state.",
		}, []string{"outcome"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaxon_process_duration_seconds",
			Help:    "End-to-end decision pipeline duration per detection.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"outcome"}),
		Reclassifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_reclassifications_total",
			Help: "Label reclassifications by original and effective label.",
		}, []string{"from", "to"}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_alerts_suppressed_total",
			Help: "Alerts suppressed as duplicates within the window.",
		}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_alerts_created_total",
			Help: "Alerts persisted by severity and alert type.",
		}, []string{"severity", "alert_type"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_notifications_total",
			Help: "Notification attempts by channel and result.",
		}, []string{"channel", "status"}),
		NotifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaxon_notify_duration_seconds",
			Help:    "Duration of notification sends by channel.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}, []string{"channel"}),
		DetectionsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_detections_enqueued_total",
			Help: "Detections accepted for processing.",
		}),
		ScanBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_scan_batch_size",
			Help:    "Detections claimed per scan pass.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		ScanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_scan_errors_total",
			Help: "Scan passes that failed to claim detections.",
		}),
	}

	reg.MustRegister(
		m.DetectionsProcessed,
		m.ProcessDuration,
		m.Reclassifications,
		m.Suppressed,
		m.AlertsCreated,
		m.Notifications,
		m.NotifyDuration,
		m.DetectionsEnqueued,
		m.ScanBatchSize,
		m.ScanErrors,
	)

	return m
}
