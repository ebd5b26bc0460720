/*
scheduler.go - Periodic paid-status sweep

PURPOSE:
  Periodically re-derives the paid status of every live invoice and sale so
  that drift from out-of-band edits is repaired without a request.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each row is reconciled in its own transaction by the service; a failed
    row is logged and the sweep moves on

USAGE:
  scheduler := NewReconciliationScheduler(svc, log)
  scheduler.CheckInterval = 10 * time.Minute
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconcileAll endpoint (manual sweep)
  - billing/reconciler.go: The paid-status rule
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/invoice-engine/billing"
)

// ReconciliationScheduler runs billing.Service.ReconcileAll on a ticker.
type ReconciliationScheduler struct {
	Service       *billing.Service
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(svc *billing.Service, log *zap.Logger) *ReconciliationScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Service:       svc,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	// A fresh stop channel per run, so a stopped scheduler can start again.
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.log.Info("started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.stop = nil
		rs.log.Info("stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep(stop)

	for {
		select {
		case <-ticker.C:
			rs.sweep(stop)
		case <-stop:
			return
		}
	}
}

// sweep runs one pass, cancelled early if stop closes. A nil stop never fires.
func (rs *ReconciliationScheduler) sweep(stop <-chan struct{}) (billing.SweepResult, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	res, err := rs.Service.ReconcileAll(ctx)
	if err != nil {
		rs.log.Error("sweep failed", zap.Error(err))
		return res, err
	}
	if res.InvoicesChanged > 0 || res.SalesChanged > 0 {
		rs.log.Info("sweep repaired drift",
			zap.Int("invoices", res.Invoices),
			zap.Int("invoices_changed", res.InvoicesChanged),
			zap.Int("sales", res.Sales),
			zap.Int("sales_changed", res.SalesChanged),
			zap.Duration("took", time.Since(start)),
		)
	} else {
		rs.log.Debug("sweep clean",
			zap.Int("invoices", res.Invoices),
			zap.Int("sales", res.Sales),
		)
	}
	return res, nil
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *ReconciliationScheduler) RunNow() (billing.SweepResult, error) {
	return rs.sweep(nil)
}

// NextRunTime returns when the next scheduled sweep will occur.
func (rs *ReconciliationScheduler) NextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
