// Package worker hosts the engine's periodic background tasks: indexer
// scans, balance reconciliation, on-ramp polling, and sweeps.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Confio-Network/wallet-engine/internal/logging"
	"github.com/Confio-Network/wallet-engine/internal/metrics"
)

// Task is one unit of periodic work. Errors are logged and counted; the
// task keeps its schedule.
type Task func(context.Context) error

// Host runs ticker-driven and cron-driven tasks until Stop.
type Host struct {
	log  *logging.Logger
	cron *cron.Cron

	stopCh   chan struct{}
	stopOnce sync.Once

	workers []func(context.Context)
	wg      sync.WaitGroup
}

// New creates an empty Host.
func New(log *logging.Logger) *Host {
	if log == nil {
		log = logging.Nop()
	}
	return &Host{
		log:    log,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		stopCh: make(chan struct{}),
	}
}

// AddTickerWorker registers a task run at a fixed interval. The first run
// happens one interval after Start.
func (h *Host) AddTickerWorker(name string, interval time.Duration, fn Task) *Host {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.run(ctx, name, fn)
			}
		}
	}
	h.workers = append(h.workers, worker)
	return h
}

// AddCronJob registers a task on a cron expression (standard five-field
// spec). Overlapping runs of the same job are skipped.
func (h *Host) AddCronJob(name, spec string, fn Task) error {
	_, err := h.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-h.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		h.run(ctx, name, fn)
	})
	if err != nil {
		return fmt.Errorf("cron job %s: %w", name, err)
	}
	return nil
}

func (h *Host) run(ctx context.Context, name string, fn Task) {
	start := time.Now()
	if err := fn(ctx); err != nil {
		metrics.WorkerRuns.WithLabelValues(name, "error").Inc()
		h.log.Warn(ctx, "background task failed", logging.Fields{
			"task":     name,
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
		return
	}
	metrics.WorkerRuns.WithLabelValues(name, "ok").Inc()
	h.log.Debug(ctx, "background task completed", logging.Fields{
		"task":     name,
		"duration": time.Since(start).String(),
	})
}

// Start launches all registered workers and the cron scheduler.
func (h *Host) Start(ctx context.Context) {
	for _, w := range h.workers {
		worker := w
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			worker(ctx)
		}()
	}
	h.cron.Start()
}

// Stop signals every worker and waits for in-flight runs to return.
// Idempotent.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	cronCtx := h.cron.Stop()
	<-cronCtx.Done()
	h.wg.Wait()
}

// WorkerCount returns the number of registered ticker workers.
func (h *Host) WorkerCount() int { return len(h.workers) }
