package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
)

// testSchema scalars 道普通题 + 1 道表格题
func testSchema(surveyID int64, scalars int) *domain.SurveySchema {
	questions := make([]domain.SurveyQuestion, 0, scalars+1)
	for i := 1; i <= scalars; i++ {
		questions = append(questions, domain.SurveyQuestion{QuestionID: int64(i), Kind: domain.QuestionScalar})
	}
	questions = append(questions, domain.SurveyQuestion{QuestionID: 100, Kind: domain.QuestionTabular})
	return &domain.SurveySchema{
		SurveyID: surveyID,
		Sections: []domain.SurveySection{{
			SectionID: 1,
			Domains:   []domain.SurveyDomain{{DomainID: 1, Questions: questions}},
		}},
	}
}

func TestCompletionPercentRounding(t *testing.T) {
	tests := []struct {
		answered, total int
		want            float64
	}{
		{0, 10, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 4, 75},
		{4, 4, 100},
		{5, 4, 100},
		{3, 0, 0},
		{3, -1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, completionPercent(tt.answered, tt.total), "%d/%d", tt.answered, tt.total)
	}
}

func TestProgress_CountsOnlySubmittedScalars(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	h.schemas.Put(testSchema(2, 4))
	r := h.create(t, 5, 2, evaluator)

	_, err := h.answers.SaveDraft(ctx, SaveDraftRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "a", 0), answer(t, "2", "b", 0)}})
	require.NoError(t, err)

	p, err := h.progress.CompletionPercent(ctx, r.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.CompletionPercent)
	assert.Equal(t, 0, p.ScalarAnswered)
	assert.Equal(t, 4, p.ScalarTotal)

	_, err = h.submit.Submit(ctx, SubmitRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "a", 0), answer(t, "2", "b", 0), answer(t, "3", "c", 0), answer(t, "100_field_1", "x", 0)}})
	require.NoError(t, err)

	p, err = h.progress.CompletionPercent(ctx, r.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, p.CompletionPercent)
	assert.Equal(t, 3, p.ScalarAnswered)
	assert.Equal(t, 1, p.TabularAnswered)
	assert.Equal(t, domain.StatusCompleted, p.Status)
}

func TestProgress_MissingSchemaIsZero(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 9, evaluator)

	_, err := h.submit.Submit(ctx, SubmitRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "a", 0)}})
	require.NoError(t, err)

	p, err := h.progress.CompletionPercent(ctx, r.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.CompletionPercent)
	assert.Equal(t, 1, p.ScalarAnswered)
	assert.Equal(t, 0, p.ScalarTotal)

	_, err = h.progress.CompletionPercent(ctx, "missing")
	requireKind(t, err, KindNotFound)
}

type brokenSchemas struct{}

func (brokenSchemas) GetSurveySchema(context.Context, int64) (*domain.SurveySchema, error) {
	return nil, errors.New("schema service down")
}

func TestProgress_SchemaFailure(t *testing.T) {
	st := repository.NewMemorySurveyStore()
	h := newHarness(t, defaultGuardConfig())
	r := h.create(t, 5, 2, evaluator)

	p := NewProgressCalculator(h.store, brokenSchemas{}, zap.NewNop())
	_, err := p.CompletionPercent(context.Background(), r.ResponseID)
	requireKind(t, err, KindPersistence)

	// 没有结构仓库时分母为 0
	p = NewProgressCalculator(st, nil, zap.NewNop())
	total, err := p.scalarTotal(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSubmit_SchemaFailureStillCompletes(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	h.progress.schemas = brokenSchemas{}
	r := h.create(t, 5, 2, evaluator)

	out, err := h.submit.Submit(context.Background(), SubmitRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "a", 2)}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Response.Status)
	assert.Equal(t, 0.0, out.Response.CompletionPercentage)
}
