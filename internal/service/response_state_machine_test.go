package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

func TestCreateOrResume_FirstCallCreatesVersionOne(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())

	out, err := h.machine.CreateOrResume(context.Background(), CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
	require.NoError(t, err)
	assert.False(t, out.Resumed)

	r := out.Response
	assert.NotEmpty(t, r.ResponseID)
	assert.Equal(t, int64(5), r.CenterID)
	assert.Equal(t, int64(2), r.SurveyID)
	assert.Equal(t, 2024, r.Year)
	assert.Equal(t, 5, r.Month)
	assert.Equal(t, 1, r.EvaluationVersion)
	assert.Equal(t, evaluator, r.EvaluatorID)
	assert.Equal(t, domain.StatusStarted, r.Status)
	assert.Equal(t, []string{domain.AuditSurveyCreated}, h.auditActions(t, r.ResponseID))
}

func TestCreateOrResume_IsIdempotentWithinPeriod(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	first := h.create(t, 5, 2, evaluator)

	out, err := h.machine.CreateOrResume(context.Background(), CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, first.ResponseID, out.Response.ResponseID)
	assert.Equal(t, 1, out.Response.EvaluationVersion)

	list, total, err := h.store.ListResponses(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
	assert.Equal(t, []string{domain.AuditSurveyCreated, domain.AuditSurveyResumed}, h.auditActions(t, first.ResponseID))
}

func TestCreateOrResume_ResumesDraftAndInProgress(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	first := h.create(t, 5, 2, evaluator)

	_, err := h.answers.SaveDraft(ctx, SaveDraftRequest{ResponseID: first.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 1)}})
	require.NoError(t, err)
	again := h.create(t, 5, 2, evaluator)
	assert.Equal(t, first.ResponseID, again.ResponseID)
	assert.Equal(t, domain.StatusDraft, again.Status)

	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: first.ResponseID, ActorID: evaluator, Status: "in_progress"})
	require.NoError(t, err)
	again = h.create(t, 5, 2, evaluator)
	assert.Equal(t, first.ResponseID, again.ResponseID)
	assert.Equal(t, domain.StatusInProgress, again.Status)
}

func TestCreateOrResume_NewVersionAfterCompletion(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	first := h.create(t, 5, 2, evaluator)

	_, err := h.submit.Submit(ctx, SubmitRequest{ResponseID: first.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 4)}})
	require.NoError(t, err)

	out, err := h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
	require.NoError(t, err)
	assert.False(t, out.Resumed)
	assert.NotEqual(t, first.ResponseID, out.Response.ResponseID)
	assert.Equal(t, 2, out.Response.EvaluationVersion)
	assert.Equal(t, domain.StatusStarted, out.Response.Status)

	completed, err := h.store.GetResponse(ctx, first.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
}

func TestCreateOrResume_SeparateKeysDoNotShareResponses(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())

	a := h.create(t, 5, 2, evaluator)
	b := h.create(t, 6, 2, evaluator)
	c := h.create(t, 5, 3, evaluator)
	d := h.create(t, 5, 2, "evaluator-other")

	ids := map[string]bool{a.ResponseID: true, b.ResponseID: true, c.ResponseID: true, d.ResponseID: true}
	assert.Len(t, ids, 4)
}

func TestCreateOrResume_Validation(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()

	_, err := h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, SurveyID: 2})
	requireKind(t, err, KindOwnershipViolation)

	_, err = h.machine.CreateOrResume(ctx, CreateOrResumeRequest{SurveyID: 2, ActorID: evaluator})
	requireKind(t, err, KindValidation)

	_, err = h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, ActorID: evaluator})
	requireKind(t, err, KindValidation)
}

func TestCreateOrResume_ConcurrentCallsYieldOneResponse(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())

	const workers = 20
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.machine.CreateOrResume(context.Background(), CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
			errs[i] = err
			if out != nil {
				ids[i] = out.Response.ResponseID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	_, total, err := h.store.ListResponses(context.Background(), nil, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCreateOrResume_DailyCapBlocksCreation(t *testing.T) {
	cfg := defaultGuardConfig()
	cfg.DailySubmissionLimit = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	first := h.create(t, 5, 1, evaluator)
	_, err := h.submit.Submit(ctx, SubmitRequest{ResponseID: first.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 1)}})
	require.NoError(t, err)

	_, err = h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
	requireKind(t, err, KindRateLimitExceeded)

	// 其他评估员不受影响
	_, err = h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: "evaluator-other"})
	require.NoError(t, err)

	// 第二天额度恢复
	h.clock.Advance(24 * time.Hour)
	_, err = h.machine.CreateOrResume(ctx, CreateOrResumeRequest{CenterID: 5, SurveyID: 2, ActorID: evaluator})
	require.NoError(t, err)
}

func TestSaveDraftTransition(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 2, evaluator)

	out, err := h.machine.SaveDraft(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: evaluator})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, out.Status)
	assert.Equal(t, r.Revision+1, out.Revision)

	// draft 保持 draft，只刷新活动时间
	h.clock.Advance(time.Minute)
	out, err = h.machine.SaveDraft(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: evaluator})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, out.Status)
	assert.Equal(t, h.clock.Now(), out.LastActivityAt)

	_, err = h.machine.SaveDraft(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: intruder})
	requireKind(t, err, KindOwnershipViolation)

	_, err = h.machine.SaveDraft(ctx, TransitionRequest{ResponseID: "missing", ActorID: evaluator})
	requireKind(t, err, KindNotFound)
}

func TestMarkInProgress(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 2, evaluator)

	// 空内容不迁移
	out, err := h.machine.MarkInProgress(ctx, MarkInProgressRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "   ", 0)}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, out.Status)

	out, err = h.machine.MarkInProgress(ctx, MarkInProgressRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 0)}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, out.Status)

	// 幂等
	out, err = h.machine.MarkInProgress(ctx, MarkInProgressRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "2", "no", 0)}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, out.Status)
	assert.Equal(t, []string{domain.AuditSurveyCreated, domain.AuditInProgress}, h.auditActions(t, r.ResponseID))

	_, err = h.machine.MarkInProgress(ctx, MarkInProgressRequest{ResponseID: r.ResponseID, ActorID: intruder,
		Answers: []domain.AnswerInput{answer(t, "2", "no", 0)}})
	requireKind(t, err, KindOwnershipViolation)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 2, evaluator)

	out, err := h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: "DRAFT"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, out.Status)

	entries, err := h.store.ListAudit(ctx, r.ResponseID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.AuditStatusUpdated, last.Action)
	assert.Equal(t, "started", last.Metadata["old_status"])
	assert.Equal(t, "draft", last.Metadata["new_status"])

	// 相同状态不写审计
	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: "draft"})
	require.NoError(t, err)
	assert.Len(t, h.auditActions(t, r.ResponseID), len(entries))

	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: "archived"})
	requireKind(t, err, KindInvalidTransition)

	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: "completed"})
	requireKind(t, err, KindInvalidTransition)

	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: intruder, Status: "in_progress"})
	requireKind(t, err, KindOwnershipViolation)
}

func TestUpdateStatus_CompletedIsImmutable(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 2, evaluator)

	_, err := h.submit.Submit(ctx, SubmitRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 3)}})
	require.NoError(t, err)

	for _, status := range []string{"started", "draft", "in_progress", "ended"} {
		_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: status})
		requireKind(t, err, KindInvalidTransition)
	}
	// completed 检查先于归属检查
	_, err = h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: intruder, Status: "draft"})
	requireKind(t, err, KindInvalidTransition)

	got, err := h.store.GetResponse(ctx, r.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestExpireOverdue(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()

	h.clock.Set(time.Date(2024, time.April, 28, 12, 0, 0, 0, time.UTC))
	open := h.create(t, 5, 2, evaluator)
	done := h.create(t, 5, 3, evaluator)
	_, err := h.submit.Submit(ctx, SubmitRequest{ResponseID: done.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "yes", 1)}})
	require.NoError(t, err)

	// 当月内不过期
	res, err := h.machine.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, []string{}, res.Expired)

	h.clock.Set(time.Date(2024, time.May, 1, 0, 0, 1, 0, time.UTC))
	current := h.create(t, 5, 4, evaluator)

	res, err = h.machine.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05", res.Period)
	assert.Equal(t, []string{open.ResponseID}, res.Expired)

	got, err := h.store.GetResponse(ctx, open.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, got.Status)

	got, err = h.store.GetResponse(ctx, done.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	got, err = h.store.GetResponse(ctx, current.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, got.Status)

	entries, err := h.store.ListAudit(ctx, open.ResponseID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.AuditSurveyExpired, last.Action)
	assert.Equal(t, domain.SystemActor, last.ActorID)

	// 已过期的不重复处理
	res, err = h.machine.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestEndedResponse_RejectsAnswersButCanBeReopened(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()

	h.clock.Set(time.Date(2024, time.April, 20, 12, 0, 0, 0, time.UTC))
	r := h.create(t, 5, 2, evaluator)
	h.clock.Set(time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC))
	_, err := h.machine.ExpireOverdue(ctx)
	require.NoError(t, err)

	_, err = h.answers.SaveDraft(ctx, SaveDraftRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "late", 0)}})
	requireKind(t, err, KindInvalidTransition)

	_, err = h.submit.Submit(ctx, SubmitRequest{ResponseID: r.ResponseID, ActorID: evaluator,
		Answers: []domain.AnswerInput{answer(t, "1", "late", 0)}})
	requireKind(t, err, KindInvalidTransition)

	out, err := h.machine.UpdateStatus(ctx, UpdateStatusRequest{ResponseID: r.ResponseID, ActorID: evaluator, Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, out.Status)
}

func TestListResponses(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()

	h.clock.Set(time.Date(2024, time.April, 20, 12, 0, 0, 0, time.UTC))
	old := h.create(t, 5, 2, evaluator)
	h.clock.Set(time.Date(2024, time.May, 2, 12, 0, 0, 0, time.UTC))
	cur := h.create(t, 5, 2, evaluator)
	h.create(t, 5, 2, intruder)

	out, err := h.machine.ListResponses(ctx, ListResponsesRequest{ActorID: evaluator})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 20, out.Size)
	require.Len(t, out.Items, 2)
	assert.Equal(t, cur.ResponseID, out.Items[0].ResponseID)
	assert.Equal(t, old.ResponseID, out.Items[1].ResponseID)
	// 列表前先做过期对账
	assert.Equal(t, domain.StatusEnded, out.Items[1].Status)

	out, err = h.machine.ListResponses(ctx, ListResponsesRequest{ActorID: evaluator, Statuses: []string{"ended"}})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, old.ResponseID, out.Items[0].ResponseID)

	out, err = h.machine.ListResponses(ctx, ListResponsesRequest{ActorID: evaluator, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, out.Size)

	_, err = h.machine.ListResponses(ctx, ListResponsesRequest{ActorID: evaluator, Statuses: []string{"bogus"}})
	requireKind(t, err, KindValidation)

	_, err = h.machine.ListResponses(ctx, ListResponsesRequest{})
	requireKind(t, err, KindOwnershipViolation)
}

func TestGetResponseAndAudit_OwnerOnly(t *testing.T) {
	h := newHarness(t, defaultGuardConfig())
	ctx := context.Background()
	r := h.create(t, 5, 2, evaluator)

	got, err := h.machine.GetResponse(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: evaluator})
	require.NoError(t, err)
	assert.Equal(t, r.ResponseID, got.ResponseID)

	_, err = h.machine.GetResponse(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: intruder})
	requireKind(t, err, KindOwnershipViolation)

	entries, err := h.machine.ListAudit(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: evaluator})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, evaluator, entries[0].ActorID)

	_, err = h.machine.ListAudit(ctx, TransitionRequest{ResponseID: r.ResponseID, ActorID: intruder})
	requireKind(t, err, KindOwnershipViolation)
}
