package service

import (
	"context"
	"testing"

	"haccp-core/internal/approval"
	"haccp-core/internal/deviation"
	"haccp-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newApprovalService(t *testing.T, f *fixture) ApprovalService {
	t.Helper()
	engine := approval.NewEngine(f.store, f.store, zap.NewNop(),
		approval.WithPasswordVerifier(BcryptVerifier{Users: f.store}),
		approval.WithAuditSink(f.audit),
		approval.WithClock(f.clock.Now),
	)
	return NewApprovalService(engine, f.coordinator, zap.NewNop())
}

func TestBcryptVerifier(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	f.store.PutUser(domain.User{UserID: "signer", PasswordHash: string(hash), IsActive: true})
	f.store.PutUser(domain.User{UserID: "gone", PasswordHash: string(hash), IsActive: false})
	v := BcryptVerifier{Users: f.store}
	ctx := context.Background()

	ok, err := v.VerifyPassword(ctx, "signer", "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.VerifyPassword(ctx, "signer", "battery staple")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.VerifyPassword(ctx, "gone", "correct horse")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.VerifyPassword(ctx, "nobody", "correct horse")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprovalService_HACCPPlanFlow(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("sign-here"), bcrypt.MinCost)
	require.NoError(t, err)
	f.store.PutUser(domain.User{UserID: "qa-1", PasswordHash: string(hash), IsActive: true})
	product := "p-empty"
	f.store.PutEntity(domain.ApprovableEntity{Kind: domain.EntityHACCPPlan, EntityID: "plan-9", ProductID: &product, Status: domain.EntityDraft})
	svc := newApprovalService(t, f)
	ctx := context.Background()

	sub, err := svc.SubmitApprovalChain(ctx, approval.SubmitRequest{
		Kind: domain.EntityHACCPPlan, EntityID: "plan-9",
		Approvals: []approval.ApproverInput{{ApproverID: "qa-1", ApprovalOrder: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.StepsCreated)

	steps, err := f.store.ListSteps(ctx, domain.EntityHACCPPlan, "plan-9")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	decision := approval.DecisionRequest{
		Kind: domain.EntityHACCPPlan, EntityID: "plan-9", StepID: steps[0].StepID,
		ApproverID: "qa-1", Password: "sign-here",
	}

	_, err = svc.ApproveStep(ctx, decision)
	assert.ErrorIs(t, err, domain.ErrPrecondition, "no process flow yet")

	f.store.PutProcessStep(domain.ProcessStep{StepID: "pe-1", ProductID: "p-empty", StepNumber: 1, StepName: "Mixing"})

	bad := decision
	bad.Password = "wrong"
	_, err = svc.ApproveStep(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	resp, err := svc.ApproveStep(ctx, decision)
	require.NoError(t, err)
	assert.True(t, resp.Finalized)
	assert.Equal(t, 0, resp.RemainingSteps)

	plan, err := f.store.GetEntity(ctx, domain.EntityHACCPPlan, "plan-9")
	require.NoError(t, err)
	assert.Equal(t, domain.EntityApproved, plan.Status)
}

func TestApprovalService_RejectReturnsToDraft(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntity(domain.ApprovableEntity{Kind: domain.EntityDocument, EntityID: "sop-1", Status: domain.EntityDraft})
	svc := newApprovalService(t, f)
	ctx := context.Background()

	_, err := svc.SubmitApprovalChain(ctx, approval.SubmitRequest{
		Kind: domain.EntityDocument, EntityID: "sop-1",
		Approvals: []approval.ApproverInput{{ApproverID: "qa-1", ApprovalOrder: 1}, {ApproverID: "sup-1", ApprovalOrder: 2}},
	})
	require.NoError(t, err)
	steps, err := f.store.ListSteps(ctx, domain.EntityDocument, "sop-1")
	require.NoError(t, err)

	require.NoError(t, svc.RejectStep(ctx, approval.DecisionRequest{
		Kind: domain.EntityDocument, EntityID: "sop-1", StepID: steps[0].StepID, ApproverID: "qa-1", Comments: "missing hold times",
	}))
	doc, err := f.store.GetEntity(ctx, domain.EntityDocument, "sop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntityDraft, doc.Status)
}

func TestApprovalService_DisposeBatch(t *testing.T) {
	f := newFixture(t)
	ccp := f.cookingCCP(t)
	svc := newApprovalService(t, f)
	ctx := context.Background()

	req := deviation.DispositionRequest{
		BatchID: "b-42", DispositionType: domain.DispositionRework, Reason: "re-cook to 75 °C", ApproverID: "qa-1",
	}
	_, err := svc.DisposeBatch(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPrecondition, "batch is not quarantined yet")

	_, err = f.monitoring.RecordMonitoringLog(ctx, RecordMonitoringLogRequest{
		CCPID: ccp.CCPID, MeasuredValue: 58, BatchID: strPtr("b-42"), UserID: "op-1",
	})
	require.NoError(t, err)

	b, err := svc.DisposeBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchInProduction, b.Status)
	require.NotNil(t, b.Disposition)
	assert.Equal(t, domain.BatchQuarantined, b.Disposition.PreviousStatus)
	assert.Contains(t, f.audit.actions(), "batch.disposition")
}
