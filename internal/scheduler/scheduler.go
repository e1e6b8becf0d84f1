// Package scheduler drives the queue-then-dispatch cycle on a fixed interval
// for deployments that do not trigger the admin endpoints externally. The
// single-flight guard still applies inside the task, so a scheduler and a
// manual admin call can never run the same job concurrently.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

type Scheduler struct {
	interval  time.Duration
	task      func(context.Context) error
	stopCh    chan struct{}
	doneCh    chan struct{}
	isRunning bool
	mu        sync.RWMutex
}

func New(interval time.Duration, task func(context.Context) error) *Scheduler {
	return &Scheduler{
		interval: interval,
		task:     task,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)

	logger.Info("scheduler started", "interval", s.interval.String())
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce gives the task most of the interval; the task must be finished
// before the next tick so cycles cannot pile up.
func (s *Scheduler) runOnce(ctx context.Context) {
	timeout := s.interval - time.Second
	if timeout <= 0 {
		timeout = s.interval
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.task(taskCtx); err != nil {
		logger.Error("scheduled cycle failed", "error", err)
	}
}
