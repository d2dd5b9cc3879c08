package deviation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"haccp-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

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

type fakeNC struct {
	requests []domain.NonConformanceRequest
	err      error
}

func (f *fakeNC) OpenNonConformance(_ context.Context, req domain.NonConformanceRequest) (*domain.NonConformance, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &domain.NonConformance{NCID: fmt.Sprintf("nc-%d", len(f.requests)), Severity: req.Severity}, nil
}

type fakeBatches struct {
	batches map[string]*domain.Batch
	updates int
	err     error
}

func (f *fakeBatches) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatches) UpdateBatch(_ context.Context, b *domain.Batch) error {
	if f.err != nil {
		return f.err
	}
	f.updates++
	cp := *b
	f.batches[b.BatchID] = &cp
	return nil
}

type fakeLinker struct{ links map[string]string }

func (f *fakeLinker) LinkNonConformance(_ context.Context, logID, ncID string) error {
	f.links[logID] = ncID
	return nil
}

type fakeAudit struct{ events []domain.AuditEvent }

func (f *fakeAudit) Record(_ context.Context, ev domain.AuditEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newFixture() (*Coordinator, *fakeNotifier, *fakeNC, *fakeBatches) {
	n := &fakeNotifier{}
	nc := &fakeNC{}
	b := &fakeBatches{batches: map[string]*domain.Batch{
		"b-1": {BatchID: "b-1", BatchNumber: "LOT-0042", ProductID: "p-1", Status: domain.BatchInProduction},
	}}
	c := NewCoordinator(n, nc, b, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
	return c, n, nc, b
}

func pasteurizerCCP() *domain.CCP {
	return &domain.CCP{
		CCPID:                 "ccp-1",
		ProductID:             "p-1",
		CCPNumber:             "CCP-1",
		CCPName:               "Pasteurization",
		CriticalLimitMin:      f64(65),
		CriticalLimitMax:      f64(85),
		CriticalLimitUnit:     "C",
		MonitoringResponsible: str("u-monitor"),
		CreatedBy:             "u-qa",
	}
}

func TestHandleDeviation_FullCascade(t *testing.T) {
	c, n, nc, b := newFixture()
	linker := &fakeLinker{links: map[string]string{}}
	c.linker = linker

	log := &domain.MonitoringLog{LogID: "log-1", CCPID: "ccp-1", BatchID: str("b-1"), MeasuredValue: 90, Unit: "C"}
	res := c.HandleDeviation(context.Background(), pasteurizerCCP(), log, "u-monitor")

	assert.True(t, res.AlertCreated)
	assert.True(t, res.NCCreated)
	assert.True(t, res.BatchQuarantined)
	assert.Empty(t, res.Errors)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "u-monitor", n.sent[0].UserID)
	assert.Equal(t, domain.PriorityHigh, n.sent[0].Priority)
	assert.Equal(t, "LOT-0042", n.sent[0].Data["batch_number"])
	assert.Equal(t, "CCP-1", n.sent[0].Data["ccp_number"])

	require.Len(t, nc.requests, 1)
	req := nc.requests[0]
	assert.Equal(t, NCSource, req.Source)
	assert.Equal(t, domain.NCSeverityCritical, req.Severity)
	assert.Equal(t, "log-1", req.MonitoringLogID)
	assert.Equal(t, "p-1", req.ProductID)
	assert.Equal(t, fixedNow.Add(7*24*time.Hour), req.TargetResolutionDate)

	batch := b.batches["b-1"]
	assert.Equal(t, domain.BatchQuarantined, batch.Status)
	require.NotNil(t, batch.Quarantine)
	assert.Equal(t, QuarantineReason, batch.Quarantine.Reason)
	assert.Equal(t, "log-1", batch.Quarantine.MonitoringLogID)
	require.NotNil(t, batch.Quarantine.NonConformanceID)
	assert.Equal(t, "nc-1", *batch.Quarantine.NonConformanceID)
	assert.Equal(t, 90.0, batch.Quarantine.MeasuredValue)

	assert.Equal(t, "nc-1", linker.links["log-1"])
	require.NotNil(t, log.NonConformanceID)
}

func TestHandleDeviation_AlreadyQuarantinedIsNoop(t *testing.T) {
	c, _, nc, b := newFixture()
	ccp := pasteurizerCCP()

	first := c.HandleDeviation(context.Background(), ccp, &domain.MonitoringLog{LogID: "log-1", BatchID: str("b-1"), MeasuredValue: 90}, "u-monitor")
	require.True(t, first.BatchQuarantined)
	before := *b.batches["b-1"].Quarantine

	second := c.HandleDeviation(context.Background(), ccp, &domain.MonitoringLog{LogID: "log-2", BatchID: str("b-1"), MeasuredValue: 95}, "u-monitor")
	assert.False(t, second.BatchQuarantined)
	assert.True(t, second.NCCreated)
	assert.Empty(t, second.Errors)
	assert.Equal(t, 1, b.updates)
	assert.Equal(t, domain.BatchQuarantined, b.batches["b-1"].Status)
	assert.Equal(t, before, *b.batches["b-1"].Quarantine)
	assert.Len(t, nc.requests, 2)
}

func TestHandleDeviation_EffectsIndependent(t *testing.T) {
	c, n, nc, b := newFixture()
	n.err = errors.New("stream unavailable")
	nc.err = errors.New("qms down")

	res := c.HandleDeviation(context.Background(), pasteurizerCCP(), &domain.MonitoringLog{LogID: "log-1", BatchID: str("b-1"), MeasuredValue: 50}, "u-monitor")
	assert.False(t, res.AlertCreated)
	assert.False(t, res.NCCreated)
	assert.True(t, res.BatchQuarantined)
	assert.Contains(t, res.Errors, "alert")
	assert.Contains(t, res.Errors, "nc")
	assert.Nil(t, b.batches["b-1"].Quarantine.NonConformanceID)
}

func TestHandleDeviation_QuarantineFailure(t *testing.T) {
	c, _, _, b := newFixture()
	b.err = errors.New("db down")

	res := c.HandleDeviation(context.Background(), pasteurizerCCP(), &domain.MonitoringLog{LogID: "log-1", BatchID: str("b-1"), MeasuredValue: 90}, "u-monitor")
	assert.True(t, res.AlertCreated)
	assert.True(t, res.NCCreated)
	assert.False(t, res.BatchQuarantined)
	assert.Contains(t, res.Errors, "quarantine")
}

func TestHandleDeviation_NoBatch(t *testing.T) {
	c, n, _, b := newFixture()
	ccp := pasteurizerCCP()
	ccp.MonitoringResponsible = nil

	res := c.HandleDeviation(context.Background(), ccp, &domain.MonitoringLog{LogID: "log-1", MeasuredValue: 86}, "u-super")
	assert.True(t, res.AlertCreated)
	assert.True(t, res.NCCreated)
	assert.False(t, res.BatchQuarantined)
	assert.Equal(t, 0, b.updates)
	assert.Equal(t, "u-qa", n.sent[0].UserID)
}

func TestDisposeBatch(t *testing.T) {
	c, _, _, b := newFixture()
	audit := &fakeAudit{}
	c.audit = audit
	b.batches["b-1"].Status = domain.BatchQuarantined

	batch, err := c.DisposeBatch(context.Background(), DispositionRequest{
		BatchID:           "b-1",
		DispositionType:   domain.DispositionRework,
		Reason:            "re-pasteurized",
		ApproverID:        "u-qa",
		VerificationTests: "micro ok",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchInProduction, batch.Status)
	require.NotNil(t, batch.Disposition)
	assert.Equal(t, domain.BatchQuarantined, batch.Disposition.PreviousStatus)
	assert.Equal(t, "u-qa", batch.Disposition.ApprovedBy)
	assert.Equal(t, fixedNow, batch.Disposition.ApprovedAt)
	require.Len(t, audit.events, 1)
	assert.Equal(t, "batch.disposition", audit.events[0].Action)
}

func TestDisposeBatch_TargetStatuses(t *testing.T) {
	for typ, want := range map[domain.DispositionType]domain.BatchStatus{
		domain.DispositionRelease: domain.BatchReleased,
		domain.DispositionDispose: domain.BatchDisposed,
	} {
		c, _, _, b := newFixture()
		b.batches["b-1"].Status = domain.BatchQuarantined
		batch, err := c.DisposeBatch(context.Background(), DispositionRequest{
			BatchID: "b-1", DispositionType: typ, Reason: "lab result", ApproverID: "u-qa",
		})
		require.NoError(t, err)
		assert.Equal(t, want, batch.Status)
	}
}

func TestDisposeBatch_Rejections(t *testing.T) {
	c, _, _, b := newFixture()

	_, err := c.DisposeBatch(context.Background(), DispositionRequest{BatchID: "b-1", DispositionType: "recycle", Reason: "x", ApproverID: "u"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = c.DisposeBatch(context.Background(), DispositionRequest{BatchID: "b-1", DispositionType: domain.DispositionRelease, Reason: "  ", ApproverID: "u"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = c.DisposeBatch(context.Background(), DispositionRequest{BatchID: "b-1", DispositionType: domain.DispositionRelease, Reason: "ok"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = c.DisposeBatch(context.Background(), DispositionRequest{BatchID: "b-1", DispositionType: domain.DispositionRelease, Reason: "ok", ApproverID: "u"})
	assert.True(t, errors.Is(err, domain.ErrPrecondition))

	_, err = c.DisposeBatch(context.Background(), DispositionRequest{BatchID: "missing", DispositionType: domain.DispositionRelease, Reason: "ok", ApproverID: "u"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, 0, b.updates)
}
