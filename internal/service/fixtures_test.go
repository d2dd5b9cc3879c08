package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"haccp-core/internal/deviation"
	"haccp-core/internal/domain"
	"haccp-core/internal/repository"
	"haccp-core/internal/schedule"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type recordingNC struct {
	requests []domain.NonConformanceRequest
}

func (r *recordingNC) OpenNonConformance(_ context.Context, req domain.NonConformanceRequest) (*domain.NonConformance, error) {
	r.requests = append(r.requests, req)
	return &domain.NonConformance{NCID: fmt.Sprintf("nc-%d", len(r.requests)), Severity: req.Severity}, nil
}

type recordingAudit struct {
	events []domain.AuditEvent
}

func (r *recordingAudit) Record(_ context.Context, ev domain.AuditEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAudit) actions() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

// fixture 一个产品、三个工艺步骤、用户和一个生产中批次
type fixture struct {
	store    *repository.MemoryStore
	clock    *testClock
	notifier *recordingNotifier
	nc       *recordingNC
	audit    *recordingAudit

	hazards     HazardService
	trees       DecisionTreeService
	ccps        CCPService
	monitoring  MonitoringService
	coordinator *deviation.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutProduct(domain.Product{ProductID: "p-1", Code: "CHK-01", Name: "Roast chicken"})
	store.PutProcessStep(domain.ProcessStep{StepID: "s-1", ProductID: "p-1", StepNumber: 1, StepName: "Receiving"})
	store.PutProcessStep(domain.ProcessStep{StepID: "s-2", ProductID: "p-1", StepNumber: 2, StepName: "Cooking"})
	store.PutProcessStep(domain.ProcessStep{StepID: "s-3", ProductID: "p-1", StepNumber: 3, StepName: "Chilling"})
	for _, id := range []string{"op-1", "op-2", "qa-1", "sup-1"} {
		store.PutUser(domain.User{UserID: id, Username: id, IsActive: true})
	}
	store.PutBatch(domain.Batch{BatchID: "b-42", BatchNumber: "LOT-0042", ProductID: "p-1", Status: domain.BatchInProduction})

	f := &fixture{
		store:    store,
		clock:    &testClock{now: t0},
		notifier: &recordingNotifier{},
		nc:       &recordingNC{},
		audit:    &recordingAudit{},
	}
	logger := zap.NewNop()
	opts := []Option{WithClock(f.clock.Now), WithAuditSink(f.audit)}
	scheduler := schedule.NewScheduler(logger)

	f.coordinator = deviation.NewCoordinator(f.notifier, f.nc, store, logger,
		deviation.WithLogLinker(store),
		deviation.WithAuditSink(f.audit),
		deviation.WithClock(f.clock.Now),
	)
	f.hazards = NewHazardService(store, store, logger, opts...)
	f.trees = NewDecisionTreeService(store, store, logger, opts...)
	f.ccps = NewCCPService(store, store, scheduler, logger, opts...)
	f.monitoring = NewMonitoringService(MonitoringDeps{
		CCPs:      store,
		Logs:      store,
		Batches:   store,
		Users:     store,
		Scheduler: scheduler,
		Deviation: f.coordinator,
	}, logger, opts...)
	return f
}

func (f *fixture) createHazard(t *testing.T, stepID string, likelihood, severity int, controlled bool, effectiveness int) *domain.Hazard {
	t.Helper()
	h, err := f.hazards.CreateHazard(context.Background(), CreateHazardRequest{
		ProductID:            "p-1",
		ProcessStepID:        stepID,
		HazardType:           domain.HazardBiological,
		HazardName:           "Salmonella survival",
		Likelihood:           likelihood,
		Severity:             severity,
		IsControlled:         controlled,
		ControlEffectiveness: effectiveness,
		UserID:               "op-1",
	})
	require.NoError(t, err)
	return h
}

// cookingCCP 烹饪步骤 CCP：65..85 °C，每 30 分钟一次，容差 5 分钟
func (f *fixture) cookingCCP(t *testing.T) *domain.CCP {
	t.Helper()
	h := f.createHazard(t, "s-2", 4, 5, true, 4)
	lo, hi := 65.0, 85.0
	interval := 30
	op, qa := "op-1", "qa-1"
	resp, err := f.ccps.CreateCCP(context.Background(), CreateCCPRequest{
		HazardID:                h.HazardID,
		ManualDetermination:     true,
		CCPNumber:               "CCP-1",
		CCPName:                 "Cooking core temperature",
		CriticalLimitMin:        &lo,
		CriticalLimitMax:        &hi,
		CriticalLimitUnit:       "°C",
		MonitoringResponsible:   &op,
		VerificationResponsible: &qa,
		Schedule: &ScheduleInput{
			ScheduleType:           domain.ScheduleInterval,
			IntervalMinutes:        &interval,
			ToleranceWindowMinutes: 5,
		},
		UserID: "sup-1",
	})
	require.NoError(t, err)
	return resp.CCP
}

func strPtr(s string) *string { return &s }
