/*
scheduler.go - Periodic over-allocation audit

PURPOSE:
  Periodically scans every engineer for days where the sum of current and
  future allocations exceeds MaxCapacity. Writes through the service can
  never create such a day, but lowering an engineer's MaxCapacity can, and
  so can data loaded behind the service's back.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Logs each overloaded engineer and reports the count to the recorder

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAuditScheduler(svc.Accountant, collector, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - capacity/audit.go: OverAllocations
  - metrics/prometheus.go: Audit gauges
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/capacity-engine/capacity"
)

// AuditRecorder receives audit outcomes.
type AuditRecorder interface {
	SetOverAllocated(n int)
	RecordAudit(success bool)
}

type nopRecorder struct{}

func (nopRecorder) SetOverAllocated(int) {}
func (nopRecorder) RecordAudit(bool)     {}

// AuditScheduler runs the over-allocation audit on a ticker.
type AuditScheduler struct {
	Accountant    *capacity.Accountant
	Recorder      AuditRecorder
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a new scheduler. A nil recorder or logger is
// replaced by a no-op.
func NewAuditScheduler(accountant *capacity.Accountant, recorder AuditRecorder, logger *zap.Logger) *AuditScheduler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditScheduler{
		Accountant:    accountant,
		Recorder:      recorder,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled || as.CheckInterval <= 0 {
		as.Logger.Info("audit scheduler disabled")
		return
	}
	if as.ticker != nil {
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.stop = make(chan struct{})
	as.wg.Add(1)

	go as.run(as.ticker, as.stop)

	as.Logger.Info("audit scheduler started", zap.Duration("interval", as.CheckInterval))
}

// Stop stops the scheduler and waits for a running audit to finish.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker == nil {
		return
	}
	as.ticker.Stop()
	close(as.stop)
	as.wg.Wait()
	as.ticker = nil
	as.Logger.Info("audit scheduler stopped")
}

func (as *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer as.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	as.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			as.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit and returns the overloaded engineers.
func (as *AuditScheduler) RunNow(ctx context.Context) ([]capacity.OverAllocation, error) {
	found, err := as.Accountant.OverAllocations(ctx)
	if err != nil {
		as.Recorder.RecordAudit(false)
		as.Logger.Error("capacity audit failed", zap.Error(err))
		return nil, err
	}

	for _, o := range found {
		as.Logger.Warn("engineer over-allocated",
			zap.String("engineer_id", string(o.Engineer.ID)),
			zap.String("date", o.At.String()),
			zap.Int("allocated", o.Allocated),
			zap.Int("max_capacity", o.Engineer.MaxCapacity),
			zap.Int("allocations", len(o.AllocationIDs)),
		)
	}
	as.Recorder.SetOverAllocated(len(found))
	as.Recorder.RecordAudit(true)
	as.Logger.Debug("capacity audit completed", zap.Int("over_allocated", len(found)))
	return found, nil
}
