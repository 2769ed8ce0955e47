// Package maintenance runs periodic store housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
)

const runTimeout = 30 * time.Second

// Target is the part of the memory store the scheduler maintains.
type Target interface {
	Maintain(ctx context.Context) error
	CountConversations(ctx context.Context) (int, error)
}

// Scheduler checkpoints and optimizes the store whenever its cron expression
// comes due, and refreshes the conversation gauge.
type Scheduler struct {
	expr    string
	target  Target
	metrics *metrics.Metrics
	now     func() time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(expr string, target Target, m *metrics.Metrics) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid maintenance cron %q", expr)
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Scheduler{
		expr:    expr,
		target:  target,
		metrics: m,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}, nil
}

// Next returns the first due time strictly after ref.
func (s *Scheduler) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// IsDue reports whether the schedule fires at the minute containing at.
func (s *Scheduler) IsDue(at time.Time) bool {
	due, err := gronx.New().IsDue(s.expr, at)
	return err == nil && due
}

func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
		logger.InfoCF("maintenance", "Scheduler started", map[string]any{"cron": s.expr})
	})
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		next, err := s.Next(s.now())
		if err != nil {
			logger.ErrorCF("maintenance", "Cannot compute next run", map[string]any{
				"cron":  s.expr,
				"error": err.Error(),
			})
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		_ = s.RunOnce(ctx)
		cancel()
	}
}

// RunOnce performs one maintenance pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()
	if err := s.target.Maintain(ctx); err != nil {
		s.metrics.RecordStoreError("maintain")
		logger.WarnCF("maintenance", "Store maintenance failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("maintain store: %w", err)
	}
	n, err := s.target.CountConversations(ctx)
	if err != nil {
		s.metrics.RecordStoreError("count_conversations")
		logger.WarnCF("maintenance", "Conversation count failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("count conversations: %w", err)
	}
	s.metrics.SetConversations(n)
	logger.InfoCF("maintenance", "Store maintenance complete", map[string]any{
		"conversations": n,
		"elapsed_ms":    s.now().Sub(start).Milliseconds(),
	})
	return nil
}
