package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

func newMemoryResponse(id string, version int, status domain.ResponseStatus) *domain.SurveyResponse {
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)
	return &domain.SurveyResponse{
		ResponseID:        id,
		CenterID:          1,
		SurveyID:          2,
		Year:              2024,
		Month:             5,
		EvaluationVersion: version,
		EvaluatorID:       "user-1",
		Status:            status,
		LastActivityAt:    now,
		CreatedAt:         now,
	}
}

func TestMemorySurveyStore_CreateEnforcesOneOpenResponse(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()

	require.NoError(t, s.CreateResponse(ctx, newMemoryResponse("r1", 1, domain.StatusStarted)))
	err := s.CreateResponse(ctx, newMemoryResponse("r2", 2, domain.StatusStarted))
	assert.ErrorIs(t, err, ErrConflict)

	err = s.CreateResponse(ctx, newMemoryResponse("r3", 1, domain.StatusCompleted))
	assert.ErrorIs(t, err, ErrConflict, "version must be unique")
}

func TestMemorySurveyStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()
	require.NoError(t, s.CreateResponse(ctx, newMemoryResponse("r1", 1, domain.StatusStarted)))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx SurveyTx) error {
		require.NoError(t, tx.UpsertAnswer(ctx, domain.Answer{ResponseID: "r1", QuestionID: 1, Answer: "yes"}))
		require.NoError(t, tx.UpdateResponseStatus(ctx, "r1", domain.StatusDraft, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	resp, err := s.GetResponse(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, resp.Status)
	assert.Equal(t, 0, resp.Revision)

	answers, err := s.ListAnswers(ctx, "r1", false)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestMemorySurveyStore_UpsertIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()
	require.NoError(t, s.CreateResponse(ctx, newMemoryResponse("r1", 1, domain.StatusStarted)))

	require.NoError(t, s.UpsertAnswer(ctx, domain.Answer{ResponseID: "r1", QuestionID: 1, Answer: "a", IsDraft: true}))
	require.NoError(t, s.UpsertAnswer(ctx, domain.Answer{ResponseID: "r1", QuestionID: 1, Answer: "b", IsDraft: true}))
	require.NoError(t, s.UpsertTabularAnswers(ctx, "r1", []domain.TabularAnswer{
		{QuestionKey: "1_field_1", Answer: "x", IsDraft: true},
	}))
	require.NoError(t, s.UpsertTabularAnswers(ctx, "r1", []domain.TabularAnswer{
		{QuestionKey: "1_field_1", Answer: "y", IsDraft: true},
	}))

	answers, _ := s.ListAnswers(ctx, "r1", true)
	require.Len(t, answers, 1)
	assert.Equal(t, "b", answers[0].Answer)

	cells, _ := s.ListTabularAnswers(ctx, "r1", true)
	require.Len(t, cells, 1)
	assert.Equal(t, "y", cells[0].Answer)
}

func TestMemorySurveyStore_DeleteThenInsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()
	require.NoError(t, s.CreateResponse(ctx, newMemoryResponse("r1", 1, domain.StatusDraft)))
	require.NoError(t, s.UpsertAnswer(ctx, domain.Answer{ResponseID: "r1", QuestionID: 9, Answer: "old", IsDraft: true}))

	err := s.WithinTx(ctx, func(tx SurveyTx) error {
		n, err := tx.DeleteAnswers(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return tx.InsertAnswers(ctx, "r1", domain.AnswerSet{
			Scalars:  []domain.Answer{{QuestionID: 1, Answer: "yes"}},
			Tabulars: []domain.TabularAnswer{{QuestionKey: "2_3", Answer: "5"}},
		})
	})
	require.NoError(t, err)

	c, err := s.CountAnswers(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, AnswerCounts{Scalar: 1, Tabular: 1}, c)

	err = s.InsertAnswers(ctx, "r1", domain.AnswerSet{Scalars: []domain.Answer{{QuestionID: 1}}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemorySurveyStore_ExpireOverdue(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()

	old := newMemoryResponse("old", 1, domain.StatusDraft)
	old.Month = 4
	done := newMemoryResponse("done", 1, domain.StatusCompleted)
	done.Month = 3
	current := newMemoryResponse("current", 1, domain.StatusInProgress)
	for _, r := range []*domain.SurveyResponse{old, done, current} {
		require.NoError(t, s.CreateResponse(ctx, r))
	}

	ids, err := s.ExpireOverdue(ctx, domain.Period{Year: 2024, Month: 5}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	got, _ := s.GetResponse(ctx, "old")
	assert.Equal(t, domain.StatusEnded, got.Status)
	got, _ = s.GetResponse(ctx, "done")
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestMemorySurveyStore_ListResponses(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()

	v1 := newMemoryResponse("v1", 1, domain.StatusCompleted)
	v2 := newMemoryResponse("v2", 2, domain.StatusDraft)
	april := newMemoryResponse("april", 1, domain.StatusCompleted)
	april.Month = 4
	other := newMemoryResponse("other", 1, domain.StatusStarted)
	other.EvaluatorID = "user-2"
	for _, r := range []*domain.SurveyResponse{april, v1, v2, other} {
		require.NoError(t, s.CreateResponse(ctx, r))
	}

	list, total, err := s.ListResponses(ctx, &ResponseFilters{EvaluatorID: "user-1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 3)
	assert.Equal(t, "v2", list[0].ResponseID)
	assert.Equal(t, "v1", list[1].ResponseID)
	assert.Equal(t, "april", list[2].ResponseID)

	list, total, err = s.ListResponses(ctx, &ResponseFilters{
		EvaluatorID: "user-1",
		Statuses:    []domain.ResponseStatus{domain.StatusCompleted},
	}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "april", list[0].ResponseID)
}

func TestMemorySurveyStore_AuditIsScopedToResponse(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySurveyStore()

	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{AuditID: "a1", Action: domain.AuditSurveyCreated, ResponseID: "r1"}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{AuditID: "a2", Action: domain.AuditSurveyCreated, ResponseID: "r2"}))
	require.NoError(t, s.AppendAudit(ctx, &domain.AuditEntry{AuditID: "a3", Action: domain.AuditDraftSaved, ResponseID: "r1"}))

	list, err := s.ListAudit(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.AuditDraftSaved, list[1].Action)

	assert.Error(t, s.AppendAudit(ctx, &domain.AuditEntry{}))
}

func TestMemorySurveySchemaRepository(t *testing.T) {
	repo := NewMemorySurveySchemaRepository(&domain.SurveySchema{SurveyID: 2, Title: "Monthly"})

	s, err := repo.GetSurveySchema(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Monthly", s.Title)

	_, err = repo.GetSurveySchema(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotFound)
}
