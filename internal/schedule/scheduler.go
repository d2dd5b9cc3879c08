package schedule

import (
	"fmt"
	"time"

	"haccp-core/internal/domain"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronFallback cron 表达式无法解析时的降级间隔
const CronFallback = time.Hour

// Scheduler 监控计划计算器（纯计算，不启动定时器）
type Scheduler struct {
	parser cron.Parser
	logger *zap.Logger
}

// NewScheduler 创建 Scheduler，cron 使用标准 5 字段语法（支持 @hourly 等描述符）
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
}

// NextDue 下次到期计算结果
type NextDue struct {
	Time *time.Time
	// Degraded cron 解析失败，使用 from+1h 兜底
	Degraded bool
}

// Validate 校验计划配置
func (s *Scheduler) Validate(sch *domain.MonitoringSchedule) error {
	if sch.ToleranceWindowMinutes < 0 {
		return fmt.Errorf("%w: tolerance_window_minutes must not be negative", domain.ErrValidation)
	}
	switch sch.ScheduleType {
	case domain.ScheduleInterval:
		if sch.IntervalMinutes == nil || *sch.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: interval schedule needs positive interval_minutes", domain.ErrValidation)
		}
	case domain.ScheduleCron:
		if sch.CronExpression == nil || *sch.CronExpression == "" {
			return fmt.Errorf("%w: cron schedule needs cron_expression", domain.ErrValidation)
		}
		if _, err := s.parser.Parse(*sch.CronExpression); err != nil {
			return fmt.Errorf("%w: invalid cron_expression %q: %v", domain.ErrValidation, *sch.CronExpression, err)
		}
	case domain.ScheduleManual:
	default:
		return fmt.Errorf("%w: unknown schedule_type %q", domain.ErrValidation, sch.ScheduleType)
	}
	return nil
}

// CalculateNextDue 计算下次到期时间
// interval：last_scheduled_time 已设置时为 last + interval，否则 from + interval
// cron：from 之后的下一次触发时间
// manual：无到期时间
func (s *Scheduler) CalculateNextDue(sch *domain.MonitoringSchedule, from time.Time) NextDue {
	switch sch.ScheduleType {
	case domain.ScheduleInterval:
		if sch.IntervalMinutes == nil || *sch.IntervalMinutes <= 0 {
			return NextDue{}
		}
		base := from
		if sch.LastScheduledTime != nil {
			base = *sch.LastScheduledTime
		}
		next := base.Add(time.Duration(*sch.IntervalMinutes) * time.Minute)
		return NextDue{Time: &next}

	case domain.ScheduleCron:
		expr := ""
		if sch.CronExpression != nil {
			expr = *sch.CronExpression
		}
		spec, err := s.parser.Parse(expr)
		if err != nil {
			next := from.Add(CronFallback)
			s.logger.Warn("Cron expression unavailable, using degraded +1h schedule",
				zap.String("ccp_id", sch.CCPID),
				zap.String("cron_expression", expr),
				zap.Error(err),
			)
			return NextDue{Time: &next, Degraded: true}
		}
		next := spec.Next(from)
		if next.IsZero() {
			return NextDue{}
		}
		return NextDue{Time: &next}
	}
	return NextDue{}
}

// Advance 记录监控后推进计划：last_scheduled_time := now，next_due_time 重新计算
func (s *Scheduler) Advance(sch *domain.MonitoringSchedule, now time.Time) NextDue {
	last := now
	sch.LastScheduledTime = &last
	next := s.CalculateNextDue(sch, now)
	sch.NextDueTime = next.Time
	sch.UpdatedAt = now
	return next
}

// IsDue now 落在 [next-tol, next+tol] 内
func IsDue(sch *domain.MonitoringSchedule, now time.Time) bool {
	if sch.NextDueTime == nil {
		return false
	}
	tol := sch.Tolerance()
	start := sch.NextDueTime.Add(-tol)
	end := sch.NextDueTime.Add(tol)
	return !now.Before(start) && !now.After(end)
}

// IsOverdue now 晚于 next+tol
func IsOverdue(sch *domain.MonitoringSchedule, now time.Time) bool {
	if sch.NextDueTime == nil {
		return false
	}
	return now.After(sch.NextDueTime.Add(sch.Tolerance()))
}

// Status 监控计划状态
type Status struct {
	CCPID              string     `json:"ccp_id"`
	ScheduleType       string     `json:"schedule_type"`
	IsActive           bool       `json:"is_active"`
	IsDue              bool       `json:"is_due"`
	IsOverdue          bool       `json:"is_overdue"`
	NextDueTime        *time.Time `json:"next_due_time,omitempty"`
	LastMonitoringTime *time.Time `json:"last_monitoring_time,omitempty"`
}

// StatusOf 计算 now 时刻的计划状态，停用的计划不会到期/逾期
func StatusOf(sch *domain.MonitoringSchedule, lastMonitoring *time.Time, now time.Time) Status {
	st := Status{
		CCPID:              sch.CCPID,
		ScheduleType:       string(sch.ScheduleType),
		IsActive:           sch.IsActive,
		NextDueTime:        sch.NextDueTime,
		LastMonitoringTime: lastMonitoring,
	}
	if sch.IsActive {
		st.IsDue = IsDue(sch, now)
		st.IsOverdue = IsOverdue(sch, now)
	}
	return st
}
