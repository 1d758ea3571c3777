package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/transitgo/ticketing-service/pkg/logger"
)

// ReservationExpirer is the command surface the worker drives
type ReservationExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// SweepInterval is the interval between sweeps for overdue reservations
	SweepInterval time.Duration
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		SweepInterval: 30 * time.Second,
	}
}

// ExpiryWorker periodically expires overdue reservations so their seats
// return to the pool even when the holder never confirms or cancels
type ExpiryWorker struct {
	expirer ReservationExpirer
	config  *ExpiryWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired     int64
	lastSweepTime    time.Time
	lastExpiredCount int
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer ReservationExpirer, config *ExpiryWorkerConfig) *ExpiryWorker {
	if config == nil {
		config = DefaultExpiryWorkerConfig()
	}

	return &ExpiryWorker{
		expirer: expirer,
		config:  config,
		log:     logger.Get(),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting expiry worker", zap.Duration("sweep_interval", w.config.SweepInterval))

	w.wg.Add(1)
	go w.sweepLoop(ctx)

	return nil
}

// Stop stops the expiry worker and waits for an in-flight sweep to finish
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("expiry worker stopped")
}

// sweepLoop runs one sweep per tick, plus one immediately on start
func (w *ExpiryWorker) sweepLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep expires one batch of overdue reservations
func (w *ExpiryWorker) sweep(ctx context.Context) {
	expired, err := w.expirer.ExpireOverdue(ctx)

	w.mu.Lock()
	w.lastSweepTime = time.Now()
	w.lastExpiredCount = expired
	w.totalExpired += int64(expired)
	w.mu.Unlock()

	if err != nil {
		w.log.Error("expiry sweep failed", zap.Int("expired_before_failure", expired), zap.Error(err))
		return
	}
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() *ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ExpiryWorkerStats{
		IsRunning:        w.running,
		TotalExpired:     w.totalExpired,
		LastSweepTime:    w.lastSweepTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ExpiryWorkerStats contains worker statistics
type ExpiryWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalExpired     int64     `json:"total_expired"`
	LastSweepTime    time.Time `json:"last_sweep_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}
