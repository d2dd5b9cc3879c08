package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/schedule"

	"go.uber.org/zap"
)

// OverdueCategory 逾期提醒的通知分类
const OverdueCategory = "haccp_monitoring_overdue"

// OverdueLister 列出逾期计划
type OverdueLister interface {
	ListOverdueSchedules(ctx context.Context) ([]schedule.Status, error)
}

// CCPGetter 读取 CCP
type CCPGetter interface {
	GetCCP(ctx context.Context, ccpID string) (*domain.CCP, error)
}

// Notifier 通知
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// OverdueScanner 定期扫描逾期监控计划并提醒监控负责人
// 同一 CCP 的同一个到期时间只提醒一次
type OverdueScanner struct {
	interval time.Duration
	lister   OverdueLister
	ccps     CCPGetter
	notifier Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	notified map[string]time.Time // ccp_id -> 已提醒的 next_due_time
}

// NewOverdueScanner 创建逾期扫描器
func NewOverdueScanner(interval time.Duration, lister OverdueLister, ccps CCPGetter, notifier Notifier, logger *zap.Logger) *OverdueScanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &OverdueScanner{
		interval: interval,
		lister:   lister,
		ccps:     ccps,
		notifier: notifier,
		logger:   logger,
		notified: make(map[string]time.Time),
	}
}

// Start 轮询直到 ctx 取消
func (s *OverdueScanner) Start(ctx context.Context) error {
	s.logger.Info("Overdue scanner started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error("Failed to scan overdue schedules on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Overdue scanner stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error("Failed to scan overdue schedules", zap.Error(err))
			}
		}
	}
}

// Scan 执行一次扫描，返回本次发出的提醒数
func (s *OverdueScanner) Scan(ctx context.Context) (int, error) {
	overdue, err := s.lister.ListOverdueSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sent := 0
	current := make(map[string]time.Time, len(overdue))
	for _, st := range overdue {
		if st.NextDueTime == nil {
			continue
		}
		due := *st.NextDueTime
		current[st.CCPID] = due
		if prev, ok := s.notified[st.CCPID]; ok && prev.Equal(due) {
			continue
		}

		ccp, err := s.ccps.GetCCP(ctx, st.CCPID)
		if err != nil {
			s.logger.Warn("Failed to load overdue CCP", zap.String("ccp_id", st.CCPID), zap.Error(err))
			delete(current, st.CCPID)
			continue
		}
		if err := s.notify(ctx, ccp, st); err != nil {
			s.logger.Warn("Failed to send overdue reminder", zap.String("ccp_id", st.CCPID), zap.Error(err))
			delete(current, st.CCPID)
			continue
		}
		sent++
	}
	// 已恢复的计划不再保留
	s.notified = current
	return sent, nil
}

func (s *OverdueScanner) notify(ctx context.Context, ccp *domain.CCP, st schedule.Status) error {
	data := map[string]any{
		"ccp_id":        ccp.CCPID,
		"ccp_number":    ccp.CCPNumber,
		"next_due_time": st.NextDueTime.UTC().Format(time.RFC3339),
	}
	if st.LastMonitoringTime != nil {
		data["last_monitoring_time"] = st.LastMonitoringTime.UTC().Format(time.RFC3339)
	}
	return s.notifier.Notify(ctx, domain.Notification{
		UserID:   ccp.AlertRecipient(),
		Title:    fmt.Sprintf("Monitoring overdue: %s", ccp.CCPNumber),
		Message:  fmt.Sprintf("CCP %s (%s) monitoring was due at %s", ccp.CCPNumber, ccp.CCPName, st.NextDueTime.UTC().Format(time.RFC3339)),
		Priority: domain.PriorityMedium,
		Category: OverdueCategory,
		Data:     data,
	})
}
