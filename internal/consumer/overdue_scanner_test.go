package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/schedule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLister struct {
	statuses []schedule.Status
	err      error
}

func (f *fakeLister) ListOverdueSchedules(context.Context) ([]schedule.Status, error) {
	return f.statuses, f.err
}

type fakeCCPs map[string]*domain.CCP

func (f fakeCCPs) GetCCP(_ context.Context, id string) (*domain.CCP, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

type fakeNotifier struct {
	sent []domain.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n domain.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func overdueAt(ccpID string, due time.Time) schedule.Status {
	return schedule.Status{CCPID: ccpID, IsActive: true, IsDue: true, IsOverdue: true, NextDueTime: &due}
}

func TestOverdueScanner_RemindsOncePerDueTime(t *testing.T) {
	due := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	lister := &fakeLister{statuses: []schedule.Status{overdueAt("ccp-1", due)}}
	ccps := fakeCCPs{"ccp-1": {CCPID: "ccp-1", CCPNumber: "CCP-1", CCPName: "Cooking", MonitoringResponsible: strPtr("op-1")}}
	notifier := &fakeNotifier{}
	s := NewOverdueScanner(time.Minute, lister, ccps, notifier, zap.NewNop())
	ctx := context.Background()

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "op-1", notifier.sent[0].UserID)
	assert.Equal(t, OverdueCategory, notifier.sent[0].Category)
	assert.Equal(t, "2026-03-02T10:30:00Z", notifier.sent[0].Data["next_due_time"])

	n, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "same due time is not reminded twice")

	lister.statuses = []schedule.Status{overdueAt("ccp-1", due.Add(30*time.Minute))}
	n, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOverdueScanner_RecoveredScheduleIsForgotten(t *testing.T) {
	due := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	lister := &fakeLister{statuses: []schedule.Status{overdueAt("ccp-1", due)}}
	notifier := &fakeNotifier{}
	s := NewOverdueScanner(time.Minute, lister, fakeCCPs{"ccp-1": {CCPID: "ccp-1", MonitoringResponsible: strPtr("op-1")}}, notifier, zap.NewNop())

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	lister.statuses = nil
	_, err = s.Scan(context.Background())
	require.NoError(t, err)
	lister.statuses = []schedule.Status{overdueAt("ccp-1", due)}
	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOverdueScanner_FailedReminderIsRetried(t *testing.T) {
	due := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	lister := &fakeLister{statuses: []schedule.Status{overdueAt("ccp-1", due), overdueAt("ccp-gone", due)}}
	notifier := &fakeNotifier{err: errors.New("redis down")}
	s := NewOverdueScanner(time.Minute, lister, fakeCCPs{"ccp-1": {CCPID: "ccp-1", MonitoringResponsible: strPtr("op-1")}}, notifier, zap.NewNop())

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	notifier.err = nil
	n, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOverdueScanner_ListError(t *testing.T) {
	s := NewOverdueScanner(0, &fakeLister{err: errors.New("db down")}, fakeCCPs{}, &fakeNotifier{}, zap.NewNop())
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestOverdueScanner_StartStops(t *testing.T) {
	s := NewOverdueScanner(time.Hour, &fakeLister{}, fakeCCPs{}, &fakeNotifier{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Start(ctx))
}

func strPtr(s string) *string { return &s }
