package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"haccp-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_DownstreamAndCascade(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutProcessStep(domain.ProcessStep{StepID: "s-1", ProductID: "p-1", StepNumber: 1})
	m.PutProcessStep(domain.ProcessStep{StepID: "s-2", ProductID: "p-1", StepNumber: 2})
	m.PutProcessStep(domain.ProcessStep{StepID: "s-9", ProductID: "p-2", StepNumber: 9})

	require.NoError(t, m.CreateHazard(ctx, &domain.Hazard{HazardID: "h-1", ProductID: "p-1", ProcessStepID: "s-1"}))
	require.NoError(t, m.CreateHazard(ctx, &domain.Hazard{HazardID: "h-2", ProductID: "p-1", ProcessStepID: "s-2", IsControlled: true}))
	require.NoError(t, m.CreateHazard(ctx, &domain.Hazard{HazardID: "h-3", ProductID: "p-2", ProcessStepID: "s-9"}))

	down, err := m.ListDownstreamHazards(ctx, "p-1", 1)
	require.NoError(t, err)
	require.Len(t, down, 1)
	assert.Equal(t, "h-2", down[0].HazardID)

	require.NoError(t, m.CreateCCP(ctx, &domain.CCP{CCPID: "ccp-1", HazardID: "h-1"}))
	require.NoError(t, m.SaveSchedule(ctx, &domain.MonitoringSchedule{CCPID: "ccp-1", IsActive: true}))
	require.NoError(t, m.CreateMonitoringLog(ctx, &domain.MonitoringLog{LogID: "log-1", CCPID: "ccp-1", MonitoredAt: time.Now()}))
	require.NoError(t, m.CreateDecisionTree(ctx, &domain.DecisionTree{TreeID: "t-1", HazardID: "h-1"}))

	require.NoError(t, m.DeleteHazard(ctx, "h-1"))
	_, err = m.GetCCP(ctx, "ccp-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.GetSchedule(ctx, "ccp-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.GetMonitoringLog(ctx, "log-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.GetDecisionTreeByHazard(ctx, "h-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = m.GetHazard(ctx, "h-2")
	assert.NoError(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutBatch(domain.Batch{BatchID: "b-1", Status: domain.BatchInProduction})

	b, err := m.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	b.Status = domain.BatchDisposed

	again, err := m.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchInProduction, again.Status)
}

func TestMemoryStore_TransitionStepOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.ReplacePendingSteps(ctx, domain.EntityDocument, "d-1", []*domain.ApprovalStep{
		{StepID: "st-1", Kind: domain.EntityDocument, EntityID: "d-1", Status: domain.StepPending},
	}))

	ok, err := m.TransitionStep(ctx, "st-1", domain.StepApproved, "", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.TransitionStep(ctx, "st-1", domain.StepRejected, "", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	// 已决策的步骤不会被重新提交清除
	require.NoError(t, m.ReplacePendingSteps(ctx, domain.EntityDocument, "d-1", nil))
	steps, err := m.ListSteps(ctx, domain.EntityDocument, "d-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, domain.StepApproved, steps[0].Status)
}

func TestMemoryStore_Permissions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutUser(domain.User{UserID: "u-1", IsActive: true})
	m.PutUser(domain.User{UserID: "u-2", IsActive: false})
	m.Grant("u-1", domain.PermissionMonitoringOverride)
	m.Grant("u-2", domain.PermissionMonitoringOverride)

	ok, _ := m.HasPermission(ctx, "u-1", domain.PermissionMonitoringOverride)
	assert.True(t, ok)
	ok, _ = m.HasPermission(ctx, "u-1", domain.PermissionVerificationOverride)
	assert.False(t, ok)
	ok, _ = m.HasPermission(ctx, "u-2", domain.PermissionMonitoringOverride)
	assert.False(t, ok)
}

func TestMemoryStore_CreateCCPWithScheduleAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateHazard(ctx, &domain.Hazard{HazardID: "h-1", ProductID: "p-1"}))
	require.NoError(t, m.CreateCCP(ctx, &domain.CCP{CCPID: "ccp-1", HazardID: "h-1"}))

	marked := &domain.Hazard{HazardID: "h-1", ProductID: "p-1", IsCCP: true, CCPJustification: "manual CCP determination"}
	err := m.CreateCCPWithSchedule(ctx, marked,
		&domain.CCP{CCPID: "ccp-2", HazardID: "h-1"},
		&domain.MonitoringSchedule{CCPID: "ccp-2", IsActive: true})
	require.ErrorIs(t, err, domain.ErrValidation)

	h, err := m.GetHazard(ctx, "h-1")
	require.NoError(t, err)
	assert.False(t, h.IsCCP)
	assert.Empty(t, h.CCPJustification)
	_, err = m.GetSchedule(ctx, "ccp-2")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
