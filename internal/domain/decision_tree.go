package domain

import "time"

// DecisionTreeStatus 交互式决策树状态
type DecisionTreeStatus string

const (
	DecisionTreeInProgress DecisionTreeStatus = "in_progress"
	DecisionTreeCompleted  DecisionTreeStatus = "completed"
	DecisionTreeReviewed   DecisionTreeStatus = "reviewed"
)

// DecisionAnswer 单个问题的作答记录
type DecisionAnswer struct {
	Answer        *bool      `json:"answer"`
	Justification string     `json:"justification,omitempty"`
	AnsweredBy    *string    `json:"answered_by,omitempty"`
	AnsweredAt    *time.Time `json:"answered_at,omitempty"`
}

// Answered 是否已作答
func (a DecisionAnswer) Answered() bool {
	return a.Answer != nil
}

// DecisionTree 交互式决策树（对应 decision_trees 表，与 Hazard 一对一）
type DecisionTree struct {
	TreeID   string `json:"tree_id" db:"tree_id"`
	HazardID string `json:"hazard_id" db:"hazard_id"`

	// Answers[0..3] 对应 Q1..Q4
	Answers [4]DecisionAnswer `json:"answers" db:"answers"`

	IsCCP      *bool              `json:"is_ccp,omitempty" db:"is_ccp"`
	Reasoning  string             `json:"reasoning,omitempty" db:"reasoning"`
	DecisionAt *time.Time         `json:"decision_at,omitempty" db:"decision_at"`
	DecisionBy *string            `json:"decision_by,omitempty" db:"decision_by"`
	Status     DecisionTreeStatus `json:"status" db:"status"`

	ReviewedBy *string    `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AnswerFor 返回问题 q 的作答记录
func (t *DecisionTree) AnswerFor(q Question) DecisionAnswer {
	if !q.Valid() {
		return DecisionAnswer{}
	}
	return t.Answers[q-1]
}
