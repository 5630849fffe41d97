package service

import (
	"context"
	"sync"
	"time"

	"cubegift-bot/internal/metrics"

	"go.uber.org/zap"
)

// SweeperConfig конфигурация очистки просроченных счетов
type SweeperConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

// Sweeper периодически удаляет ожидающие платежи старше TTL
type Sweeper struct {
	pending PendingStore
	config  SweeperConfig
	metrics *metrics.Metrics
	log     *zap.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewSweeper создаёт новый Sweeper
func NewSweeper(pending PendingStore, config SweeperConfig, m *metrics.Metrics, log *zap.Logger) *Sweeper {
	return &Sweeper{
		pending: pending,
		config:  config,
		metrics: m,
		log:     log,
	}
}

// Start запускает очистку
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	s.log.Info("🧹 pending payment sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("ttl", s.config.TTL),
	)

	go s.runLoop(s.stopChan, s.done)
}

// Stop останавливает очистку и ждёт завершения текущего прохода
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info("🧹 pending payment sweeper stopped")
}

func (s *Sweeper) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// SweepOnce выполняет один проход очистки
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.pending.Expire(ctx, s.config.TTL)
	if err != nil {
		s.log.Error("failed to expire pending payments", zap.Error(err))
		return 0
	}

	if removed > 0 {
		s.metrics.ExpiredPayments.Add(float64(removed))
		s.log.Info("expired pending payments", zap.Int("count", removed))
	}
	return removed
}
