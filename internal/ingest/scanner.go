package ingest

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/harmonlabs/klaxon/internal/alerting"
)

// ScannerService defines the processing operations the scanner needs.
type ScannerService interface {
	Claim(ctx context.Context, limit int) ([]*alerting.Detection, error)
	Process(ctx context.Context, det *alerting.Detection) *alerting.Outcome
}

// ScannerOptions tune the polling scanner.
type ScannerOptions struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// Scanner polls the store for pending detections and processes each on a
// bounded worker pool. Each worker handles one detection end-to-end;
// cross-worker coordination happens only through the store.
type Scanner struct {
	svc     ScannerService
	opts    ScannerOptions
	logger  log.Logger
	metrics *alerting.Metrics
}

// NewScanner creates a scanner.
func NewScanner(svc ScannerService, opts ScannerOptions, logger log.Logger, metrics *alerting.Metrics) *Scanner {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Scanner{svc: svc, opts: opts, logger: logger, metrics: metrics}
}

// Run polls until ctx is canceled. The pass in flight when cancellation
// arrives is allowed to finish so claimed detections are not stranded in the
// processing state.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info(ctx, "scanner started",
		"interval", s.opts.Interval.String(),
		"batch_size", s.opts.BatchSize,
		"workers", s.opts.Workers,
	)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.WithoutCancel(ctx), "scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	claimed, err := s.svc.Claim(ctx, s.opts.BatchSize)
	if err != nil {
		s.logger.Error(ctx, err, "failed to claim detections")
		if s.metrics != nil {
			s.metrics.ScanErrors.Inc()
		}
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.Info(ctx, "processing detections", "count", len(claimed))
	if s.metrics != nil {
		s.metrics.ScanBatchSize.Observe(float64(len(claimed)))
	}

	// Claimed work finishes even if shutdown starts mid-batch.
	pctx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(pctx)
	g.SetLimit(s.opts.Workers)
	for _, det := range claimed {
		g.Go(func() error {
			s.svc.Process(gctx, det)
			return nil
		})
	}
	_ = g.Wait() // workers report outcomes through the service, never errors
}
