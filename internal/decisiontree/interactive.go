package decisiontree

import (
	"fmt"
	"time"

	"haccp-core/internal/domain"

	"github.com/google/uuid"
)

// QuestionText 交互模式下展示给 HACCP 小组的问题
var QuestionText = map[domain.Question]string{
	domain.Q1: "Do preventive control measures exist for the identified hazard?",
	domain.Q2: "Is control at this step necessary for food safety?",
	domain.Q3: "Could contamination occur at or increase to unacceptable levels at this step?",
	domain.Q4: "Will a subsequent step eliminate the hazard or reduce it to an acceptable level?",
}

// 交互模式结论说明
const (
	ReasonNoControlMeasures = "no control measures exist at this step – not a CCP (modify step, process or product)"
	ReasonControlNotNeeded  = "control at this step is not necessary for safety – not a CCP"
	ReasonNoContamination   = "contamination cannot occur or increase to unacceptable levels – not a CCP"
	ReasonSubsequentStep    = "a subsequent step will eliminate or reduce the hazard – not a CCP"
	ReasonCCP               = "no subsequent step eliminates or reduces the hazard – CCP"
)

// NewTree 为危害创建新的交互式决策树
func NewTree(hazardID, userID string, now time.Time) *domain.DecisionTree {
	return &domain.DecisionTree{
		TreeID:    uuid.NewString(),
		HazardID:  hazardID,
		Status:    domain.DecisionTreeInProgress,
		CreatedBy: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentQuestion 第一个未作答的问题，四题都已作答返回 0
func CurrentQuestion(t *domain.DecisionTree) domain.Question {
	for i, a := range t.Answers {
		if !a.Answered() {
			return domain.Question(i + 1)
		}
	}
	return 0
}

// CanProceedToNextQuestion 已作答的问题中没有"否"时才能继续
func CanProceedToNextQuestion(t *domain.DecisionTree) bool {
	for _, a := range t.Answers {
		if a.Answered() && !*a.Answer {
			return false
		}
	}
	return true
}

// Answer 作答问题 q；Q1..Q3 答"否"或作答 Q4 时立即给出结论
func Answer(t *domain.DecisionTree, q domain.Question, answer bool, justification, userID string, now time.Time) error {
	if !q.Valid() {
		return fmt.Errorf("%w: question number must be 1..4, got %d", domain.ErrValidation, int(q))
	}
	if t.Status != domain.DecisionTreeInProgress {
		return fmt.Errorf("%w: decision tree is %s, no further answers accepted", domain.ErrValidation, t.Status)
	}
	if t.AnswerFor(q).Answered() {
		return fmt.Errorf("%w: %s already answered", domain.ErrValidation, q)
	}
	for prev := domain.Q1; prev < q; prev++ {
		if !t.AnswerFor(prev).Answered() {
			return fmt.Errorf("%w: %s cannot be answered before %s", domain.ErrValidation, q, prev)
		}
	}
	if q > domain.Q1 && !CanProceedToNextQuestion(t) {
		return fmt.Errorf("%w: decision already determined by a previous answer", domain.ErrValidation)
	}

	a := answer
	by := userID
	at := now
	t.Answers[q-1] = domain.DecisionAnswer{
		Answer:        &a,
		Justification: justification,
		AnsweredBy:    &by,
		AnsweredAt:    &at,
	}
	t.UpdatedAt = now

	if (!answer && q <= domain.Q3) || q == domain.Q4 {
		finalize(t, userID, now)
	}
	return nil
}

// DetermineCCPDecision 根据当前作答给出结论
func DetermineCCPDecision(t *domain.DecisionTree) (bool, string) {
	isFalse := func(q domain.Question) bool {
		a := t.AnswerFor(q)
		return a.Answered() && !*a.Answer
	}
	switch {
	case isFalse(domain.Q1):
		return false, ReasonNoControlMeasures
	case isFalse(domain.Q2):
		return false, ReasonControlNotNeeded
	case isFalse(domain.Q3):
		return false, ReasonNoContamination
	}
	if a := t.AnswerFor(domain.Q4); a.Answered() && *a.Answer {
		return false, ReasonSubsequentStep
	}
	return true, ReasonCCP
}

func finalize(t *domain.DecisionTree, userID string, now time.Time) {
	isCCP, reasoning := DetermineCCPDecision(t)
	by := userID
	at := now
	t.IsCCP = &isCCP
	t.Reasoning = reasoning
	t.DecisionBy = &by
	t.DecisionAt = &at
	t.Status = domain.DecisionTreeCompleted
}

// Review 复核已完成的决策树，复核人不能是做出结论的人
func Review(t *domain.DecisionTree, reviewerID string, now time.Time) error {
	if t.Status != domain.DecisionTreeCompleted {
		return fmt.Errorf("%w: only completed decision trees can be reviewed (status=%s)", domain.ErrValidation, t.Status)
	}
	if t.DecisionBy != nil && *t.DecisionBy == reviewerID {
		return fmt.Errorf("%w: reviewer must differ from the user who made the decision", domain.ErrAuthorization)
	}
	by := reviewerID
	at := now
	t.ReviewedBy = &by
	t.ReviewedAt = &at
	t.Status = domain.DecisionTreeReviewed
	t.UpdatedAt = now
	return nil
}
