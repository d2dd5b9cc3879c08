package service

import (
	"context"
	"testing"

	"haccp-core/internal/decisiontree"
	"haccp-core/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answer(t *testing.T, f *fixture, hazardID string, q domain.Question, yes bool, user string) *DecisionTreeView {
	t.Helper()
	v, err := f.trees.AnswerDecisionTreeQuestion(context.Background(), AnswerQuestionRequest{
		HazardID: hazardID, Question: q, Answer: yes, Justification: "team consensus", UserID: user,
	})
	require.NoError(t, err)
	return v
}

func TestAnswerDecisionTree_AutoCreatesAndStopsOnNo(t *testing.T) {
	f := newFixture(t)
	h := f.createHazard(t, "s-1", 2, 2, false, 0)

	v := answer(t, f, h.HazardID, domain.Q1, false, "op-1")
	assert.Equal(t, domain.DecisionTreeCompleted, v.Tree.Status)
	assert.Equal(t, domain.Question(0), v.NextQuestion)
	require.NotNil(t, v.Tree.IsCCP)
	assert.False(t, *v.Tree.IsCCP)

	stored, err := f.store.GetHazard(context.Background(), h.HazardID)
	require.NoError(t, err)
	assert.False(t, stored.IsCCP)
	assert.Equal(t, decisiontree.ReasonNoControlMeasures, stored.CCPJustification)
	require.Len(t, stored.DecisionTreeSteps, 1)
}

func TestAnswerDecisionTree_FullWalkMarksCCP(t *testing.T) {
	f := newFixture(t)
	h := f.createHazard(t, "s-2", 4, 5, true, 4)

	v := answer(t, f, h.HazardID, domain.Q1, true, "op-1")
	assert.Equal(t, domain.Q2, v.NextQuestion)
	assert.Equal(t, decisiontree.QuestionText[domain.Q2], v.NextQuestionText)
	answer(t, f, h.HazardID, domain.Q2, true, "op-1")
	answer(t, f, h.HazardID, domain.Q3, true, "op-1")
	v = answer(t, f, h.HazardID, domain.Q4, false, "op-1")

	assert.Equal(t, domain.DecisionTreeCompleted, v.Tree.Status)
	stored, err := f.store.GetHazard(context.Background(), h.HazardID)
	require.NoError(t, err)
	assert.True(t, stored.IsCCP)
	assert.Equal(t, decisiontree.ReasonCCP, stored.CCPJustification)
	assert.Len(t, stored.DecisionTreeSteps, 4)
	assert.Contains(t, f.audit.actions(), "decision_tree.complete")
}

func TestAnswerDecisionTree_OutOfOrder(t *testing.T) {
	f := newFixture(t)
	h := f.createHazard(t, "s-2", 4, 5, true, 4)

	_, err := f.trees.AnswerDecisionTreeQuestion(context.Background(), AnswerQuestionRequest{
		HazardID: h.HazardID, Question: domain.Q3, Answer: true, UserID: "op-1",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.trees.GetDecisionTree(context.Background(), h.HazardID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a rejected first answer must not leave a tree behind")
}

func TestStartDecisionTree_Duplicate(t *testing.T) {
	f := newFixture(t)
	h := f.createHazard(t, "s-2", 4, 5, true, 4)
	ctx := context.Background()

	v, err := f.trees.StartDecisionTree(ctx, StartDecisionTreeRequest{HazardID: h.HazardID, UserID: "op-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.Q1, v.NextQuestion)

	_, err = f.trees.StartDecisionTree(ctx, StartDecisionTreeRequest{HazardID: h.HazardID, UserID: "op-1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.trees.StartDecisionTree(ctx, StartDecisionTreeRequest{HazardID: "missing", UserID: "op-1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReviewDecisionTree(t *testing.T) {
	f := newFixture(t)
	h := f.createHazard(t, "s-1", 2, 2, false, 0)
	ctx := context.Background()

	_, err := f.trees.StartDecisionTree(ctx, StartDecisionTreeRequest{HazardID: h.HazardID, UserID: "op-1"})
	require.NoError(t, err)
	_, err = f.trees.ReviewDecisionTree(ctx, ReviewDecisionTreeRequest{HazardID: h.HazardID, ReviewerID: "qa-1"})
	assert.ErrorIs(t, err, domain.ErrValidation, "in-progress trees cannot be reviewed")

	answer(t, f, h.HazardID, domain.Q1, false, "op-1")

	_, err = f.trees.ReviewDecisionTree(ctx, ReviewDecisionTreeRequest{HazardID: h.HazardID, ReviewerID: "op-1"})
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	v, err := f.trees.ReviewDecisionTree(ctx, ReviewDecisionTreeRequest{HazardID: h.HazardID, ReviewerID: "qa-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTreeReviewed, v.Tree.Status)
	require.NotNil(t, v.Tree.ReviewedBy)
	assert.Equal(t, "qa-1", *v.Tree.ReviewedBy)
}
