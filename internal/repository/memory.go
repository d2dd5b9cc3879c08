package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"haccp-core/internal/domain"
)

// MemoryStore 内存实现（无数据库时使用，也用于服务层测试）
// 读写都复制结构体，调用方修改返回值不会影响存储
type MemoryStore struct {
	mu sync.RWMutex

	products     map[string]domain.Product
	riskConfigs  map[string]domain.ProductRiskConfig
	processSteps map[string]domain.ProcessStep
	hazards      map[string]domain.Hazard
	trees        map[string]domain.DecisionTree // hazard_id -> tree
	ccps         map[string]domain.CCP
	schedules    map[string]domain.MonitoringSchedule // ccp_id -> schedule
	logs         map[string]domain.MonitoringLog
	equipment    map[string]domain.Equipment
	batches      map[string]domain.Batch
	entities     map[string]domain.ApprovableEntity // kind/id -> entity
	steps        map[string]domain.ApprovalStep
	users        map[string]domain.User
	permissions  map[string]map[string]bool // user_id -> permission set
}

// NewMemoryStore 创建空的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     map[string]domain.Product{},
		riskConfigs:  map[string]domain.ProductRiskConfig{},
		processSteps: map[string]domain.ProcessStep{},
		hazards:      map[string]domain.Hazard{},
		trees:        map[string]domain.DecisionTree{},
		ccps:         map[string]domain.CCP{},
		schedules:    map[string]domain.MonitoringSchedule{},
		logs:         map[string]domain.MonitoringLog{},
		equipment:    map[string]domain.Equipment{},
		batches:      map[string]domain.Batch{},
		entities:     map[string]domain.ApprovableEntity{},
		steps:        map[string]domain.ApprovalStep{},
		users:        map[string]domain.User{},
		permissions:  map[string]map[string]bool{},
	}
}

var (
	_ ProductRepository       = (*MemoryStore)(nil)
	_ HazardRepository        = (*MemoryStore)(nil)
	_ DecisionTreeRepository  = (*MemoryStore)(nil)
	_ CCPRepository           = (*MemoryStore)(nil)
	_ MonitoringLogRepository = (*MemoryStore)(nil)
	_ BatchRepository         = (*MemoryStore)(nil)
	_ ApprovalRepository      = (*MemoryStore)(nil)
	_ UserRepository          = (*MemoryStore)(nil)
)

// ========== 种子数据 ==========

// PutProduct 写入产品
func (m *MemoryStore) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ProductID] = p
}

// PutRiskConfig 写入产品风险配置
func (m *MemoryStore) PutRiskConfig(c domain.ProductRiskConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskConfigs[c.ProductID] = c
}

// PutProcessStep 写入工艺步骤
func (m *MemoryStore) PutProcessStep(s domain.ProcessStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processSteps[s.StepID] = s
}

// PutEquipment 写入设备
func (m *MemoryStore) PutEquipment(e domain.Equipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equipment[e.EquipmentID] = e
}

// PutBatch 写入批次
func (m *MemoryStore) PutBatch(b domain.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.BatchID] = b
}

// PutEntity 写入可审批实体
func (m *MemoryStore) PutEntity(e domain.ApprovableEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entityKey(e.Kind, e.EntityID)] = e
}

// PutUser 写入用户
func (m *MemoryStore) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
}

// Grant 授予权限
func (m *MemoryStore) Grant(userID, permission string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.permissions[userID] == nil {
		m.permissions[userID] = map[string]bool{}
	}
	m.permissions[userID][permission] = true
}

func entityKey(kind domain.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
}

// ========== ProductRepository ==========

func (m *MemoryStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return nil, notFound("product", productID)
	}
	return &p, nil
}

func (m *MemoryStore) GetRiskConfig(_ context.Context, productID string) (*domain.ProductRiskConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.riskConfigs[productID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) GetProcessStep(_ context.Context, stepID string) (*domain.ProcessStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.processSteps[stepID]
	if !ok {
		return nil, notFound("process step", stepID)
	}
	return &s, nil
}

func (m *MemoryStore) ListProcessSteps(_ context.Context, productID string) ([]*domain.ProcessStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ProcessStep
	for _, s := range m.processSteps {
		if s.ProductID == productID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (m *MemoryStore) CountProcessSteps(ctx context.Context, productID string) (int, error) {
	steps, err := m.ListProcessSteps(ctx, productID)
	return len(steps), err
}

// ========== HazardRepository ==========

func (m *MemoryStore) GetHazard(_ context.Context, hazardID string) (*domain.Hazard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hazards[hazardID]
	if !ok {
		return nil, notFound("hazard", hazardID)
	}
	return &h, nil
}

func (m *MemoryStore) CreateHazard(_ context.Context, h *domain.Hazard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hazards[h.HazardID]; ok {
		return fmt.Errorf("%w: hazard %s already exists", domain.ErrValidation, h.HazardID)
	}
	m.hazards[h.HazardID] = *h
	return nil
}

func (m *MemoryStore) UpdateHazard(_ context.Context, h *domain.Hazard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hazards[h.HazardID]; !ok {
		return notFound("hazard", h.HazardID)
	}
	m.hazards[h.HazardID] = *h
	return nil
}

func (m *MemoryStore) ListHazardsByProduct(_ context.Context, productID string) ([]*domain.Hazard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Hazard
	for _, h := range m.hazards {
		if h.ProductID == productID {
			h := h
			out = append(out, &h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListDownstreamHazards(_ context.Context, productID string, stepNumber int) ([]*domain.Hazard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Hazard
	for _, h := range m.hazards {
		if h.ProductID != productID {
			continue
		}
		step, ok := m.processSteps[h.ProcessStepID]
		if !ok || step.StepNumber <= stepNumber {
			continue
		}
		h := h
		out = append(out, &h)
	}
	return out, nil
}

func (m *MemoryStore) DeleteHazard(_ context.Context, hazardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hazards[hazardID]; !ok {
		return notFound("hazard", hazardID)
	}
	for id, c := range m.ccps {
		if c.HazardID != hazardID {
			continue
		}
		for logID, l := range m.logs {
			if l.CCPID == id {
				delete(m.logs, logID)
			}
		}
		delete(m.schedules, id)
		delete(m.ccps, id)
	}
	delete(m.trees, hazardID)
	delete(m.hazards, hazardID)
	return nil
}

// ========== DecisionTreeRepository ==========

func (m *MemoryStore) GetDecisionTreeByHazard(_ context.Context, hazardID string) (*domain.DecisionTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trees[hazardID]
	if !ok {
		return nil, notFound("decision tree for hazard", hazardID)
	}
	return &t, nil
}

func (m *MemoryStore) CreateDecisionTree(_ context.Context, t *domain.DecisionTree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trees[t.HazardID]; ok {
		return fmt.Errorf("%w: decision tree already exists for hazard %s", domain.ErrValidation, t.HazardID)
	}
	m.trees[t.HazardID] = *t
	return nil
}

func (m *MemoryStore) UpdateDecisionTree(_ context.Context, t *domain.DecisionTree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trees[t.HazardID]
	if !ok || cur.TreeID != t.TreeID {
		return notFound("decision tree", t.TreeID)
	}
	m.trees[t.HazardID] = *t
	return nil
}

// ========== CCPRepository ==========

func (m *MemoryStore) GetCCP(_ context.Context, ccpID string) (*domain.CCP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.ccps[ccpID]
	if !ok {
		return nil, notFound("ccp", ccpID)
	}
	return &c, nil
}

func (m *MemoryStore) GetCCPByHazard(_ context.Context, hazardID string) (*domain.CCP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.ccps {
		if c.HazardID == hazardID {
			return &c, nil
		}
	}
	return nil, notFound("ccp for hazard", hazardID)
}

func (m *MemoryStore) CreateCCP(_ context.Context, c *domain.CCP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ccps {
		if existing.HazardID == c.HazardID {
			return fmt.Errorf("%w: hazard %s already has ccp %s", domain.ErrValidation, c.HazardID, existing.CCPID)
		}
	}
	m.ccps[c.CCPID] = *c
	return nil
}

func (m *MemoryStore) CreateCCPWithSchedule(_ context.Context, hazard *domain.Hazard, c *domain.CCP, s *domain.MonitoringSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hazard != nil {
		if _, ok := m.hazards[hazard.HazardID]; !ok {
			return notFound("hazard", hazard.HazardID)
		}
	}
	for _, existing := range m.ccps {
		if existing.HazardID == c.HazardID {
			return fmt.Errorf("%w: hazard %s already has ccp %s", domain.ErrValidation, c.HazardID, existing.CCPID)
		}
	}
	if hazard != nil {
		m.hazards[hazard.HazardID] = *hazard
	}
	m.ccps[c.CCPID] = *c
	if s != nil {
		m.schedules[s.CCPID] = *s
	}
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, ccpID string) (*domain.MonitoringSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[ccpID]
	if !ok {
		return nil, notFound("monitoring schedule for ccp", ccpID)
	}
	return &s, nil
}

func (m *MemoryStore) SaveSchedule(_ context.Context, s *domain.MonitoringSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.CCPID] = *s
	return nil
}

func (m *MemoryStore) ListActiveSchedules(_ context.Context) ([]*domain.MonitoringSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.MonitoringSchedule
	for _, s := range m.schedules {
		if s.IsActive {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CCPID < out[j].CCPID })
	return out, nil
}

// ========== MonitoringLogRepository ==========

func (m *MemoryStore) CreateMonitoringLog(_ context.Context, l *domain.MonitoringLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.LogID] = *l
	return nil
}

func (m *MemoryStore) GetMonitoringLog(_ context.Context, logID string) (*domain.MonitoringLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[logID]
	if !ok {
		return nil, notFound("monitoring log", logID)
	}
	return &l, nil
}

func (m *MemoryStore) SaveVerification(_ context.Context, l *domain.MonitoringLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.logs[l.LogID]
	if !ok {
		return notFound("monitoring log", l.LogID)
	}
	cur.IsVerified = l.IsVerified
	cur.VerifiedBy = l.VerifiedBy
	cur.VerifiedAt = l.VerifiedAt
	cur.VerificationResult = l.VerificationResult
	cur.VerificationNotes = l.VerificationNotes
	cur.CorrectiveActionTaken = l.CorrectiveActionTaken
	cur.CorrectiveActionDescription = l.CorrectiveActionDescription
	cur.CorrectiveActionBy = l.CorrectiveActionBy
	m.logs[l.LogID] = cur
	return nil
}

func (m *MemoryStore) LinkNonConformance(_ context.Context, logID, ncID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.logs[logID]
	if !ok {
		return notFound("monitoring log", logID)
	}
	cur.NonConformanceID = &ncID
	m.logs[logID] = cur
	return nil
}

func (m *MemoryStore) LastMonitoredAt(_ context.Context, ccpID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, l := range m.logs {
		if l.CCPID != ccpID {
			continue
		}
		if last == nil || l.MonitoredAt.After(*last) {
			t := l.MonitoredAt
			last = &t
		}
	}
	return last, nil
}

func (m *MemoryStore) GetEquipment(_ context.Context, equipmentID string) (*domain.Equipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.equipment[equipmentID]
	if !ok {
		return nil, notFound("equipment", equipmentID)
	}
	return &e, nil
}

// ========== BatchRepository ==========

func (m *MemoryStore) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, notFound("batch", batchID)
	}
	return &b, nil
}

func (m *MemoryStore) UpdateBatch(_ context.Context, b *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.BatchID]; !ok {
		return notFound("batch", b.BatchID)
	}
	m.batches[b.BatchID] = *b
	return nil
}

// ========== ApprovalRepository ==========

func (m *MemoryStore) GetEntity(_ context.Context, kind domain.EntityKind, entityID string) (*domain.ApprovableEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[entityKey(kind, entityID)]
	if !ok {
		return nil, notFound(string(kind), entityID)
	}
	return &e, nil
}

func (m *MemoryStore) UpdateEntity(_ context.Context, e *domain.ApprovableEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityKey(e.Kind, e.EntityID)
	if _, ok := m.entities[key]; !ok {
		return notFound(string(e.Kind), e.EntityID)
	}
	m.entities[key] = *e
	return nil
}

func (m *MemoryStore) ListSteps(_ context.Context, kind domain.EntityKind, entityID string) ([]*domain.ApprovalStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ApprovalStep
	for _, s := range m.steps {
		if s.Kind == kind && s.EntityID == entityID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].ApprovalOrder < out[j].ApprovalOrder
	})
	return out, nil
}

func (m *MemoryStore) GetStep(_ context.Context, stepID string) (*domain.ApprovalStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[stepID]
	if !ok {
		return nil, notFound("approval step", stepID)
	}
	return &s, nil
}

func (m *MemoryStore) ReplacePendingSteps(_ context.Context, kind domain.EntityKind, entityID string, steps []*domain.ApprovalStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.steps {
		if s.Kind == kind && s.EntityID == entityID && s.Status == domain.StepPending {
			delete(m.steps, id)
		}
	}
	for _, s := range steps {
		m.steps[s.StepID] = *s
	}
	return nil
}

func (m *MemoryStore) TransitionStep(_ context.Context, stepID string, to domain.StepStatus, comments string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[stepID]
	if !ok || s.Status != domain.StepPending {
		return false, nil
	}
	s.Status = to
	s.Comments = comments
	s.DecidedAt = &at
	m.steps[stepID] = s
	return true, nil
}

// ========== UserRepository ==========

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, notFound("user", userID)
	}
	return &u, nil
}

func (m *MemoryStore) HasPermission(_ context.Context, userID, permission string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok || !u.IsActive {
		return false, nil
	}
	return m.permissions[userID][permission], nil
}
