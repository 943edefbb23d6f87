package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/security"
)

// SubmissionEvent 最终提交成功后发布的事件
type SubmissionEvent struct {
	ResponseID           string    `json:"response_id"`
	CenterID             int64     `json:"center_id"`
	SurveyID             int64     `json:"survey_id"`
	Year                 int       `json:"year"`
	Month                int       `json:"month"`
	EvaluationVersion    int       `json:"evaluation_version"`
	EvaluatorID          string    `json:"evaluator_id"`
	OverallScore         float64   `json:"overall_score"`
	CompletionPercentage float64   `json:"completion_percentage"`
	AnswerCount          int       `json:"answer_count"`
	SubmittedAt          time.Time `json:"submitted_at"`
}

// SubmissionNotifier 提交通知（MQTT 等），失败不影响提交结果
type SubmissionNotifier interface {
	PublishSubmission(ctx context.Context, event SubmissionEvent) error
}

// Notifiers 依次通知全部下游，一个失败不影响其它
type Notifiers []SubmissionNotifier

func (ns Notifiers) PublishSubmission(ctx context.Context, event SubmissionEvent) error {
	var errs []error
	for _, n := range ns {
		if err := n.PublishSubmission(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BulkSubmissionCoordinator 最终提交：整卷替换答案、计分、关闭答卷，单事务
type BulkSubmissionCoordinator struct {
	store    repository.SurveyStore
	answers  *AnswerStore
	progress *ProgressCalculator
	guard    *security.Guard
	metrics  *metrics.Metrics
	notifier SubmissionNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewBulkSubmissionCoordinator notifier 可为 nil
func NewBulkSubmissionCoordinator(
	store repository.SurveyStore,
	answers *AnswerStore,
	progress *ProgressCalculator,
	guard *security.Guard,
	m *metrics.Metrics,
	notifier SubmissionNotifier,
	logger *zap.Logger,
) *BulkSubmissionCoordinator {
	return &BulkSubmissionCoordinator{
		store:    store,
		answers:  answers,
		progress: progress,
		guard:    guard,
		metrics:  m,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest 最终提交请求
type SubmitRequest struct {
	ResponseID string
	ActorID    string
	Answers    []domain.AnswerInput
	// ExpectedRevision 客户端最后看到的 revision；不为空时必须一致
	ExpectedRevision *int
}

// SubmitResponse 最终提交响应
type SubmitResponse struct {
	Response     *domain.SurveyResponse `json:"response"`
	AnswerCount  int                    `json:"answer_count"`
	OverallScore float64                `json:"overall_score"`
}

// Submit 最终提交
//  1. 载荷校验（重复 question_id 拒绝，至少一条）
//  2. 归属 / 可修改预检，无副作用
//  3. 防重复提交 + 占用今日提交额度
//  4. 事务：行锁 -> 复检 -> revision 比对 -> 先删后插 -> 计分 -> completed -> 审计
//  5. 失败：回滚并归还额度
//  6. 提交后：指标、通知
func (c *BulkSubmissionCoordinator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	started := time.Now()
	out, err := c.submit(ctx, req)

	count := 0
	if out != nil {
		count = out.AnswerCount
	}
	c.metrics.Submitted(err, count, started)

	if err != nil {
		logFailure(c.guard, c.logger, "submit", err, zap.String("response_id", req.ResponseID), zap.String("actor_id", req.ActorID))
		return nil, err
	}

	c.logger.Info("Survey response submitted",
		zap.String("response_id", out.Response.ResponseID),
		zap.Int("answer_count", out.AnswerCount),
		zap.Float64("overall_score", out.OverallScore))
	c.notify(ctx, out)
	return out, nil
}

func (c *BulkSubmissionCoordinator) submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.ActorID == "" {
		return nil, ownershipViolation("actor is required")
	}
	answers, err := normalizeAnswers(req.Answers, true)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, validationError("at least one answer is required")
	}

	resp, err := c.store.GetResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, storeError(err, "survey response")
	}
	if err := checkSubmittable(resp, req.ActorID); err != nil {
		return nil, err
	}

	now := c.now()
	cfg := c.guard.Config()
	ok, err := c.guard.CheckDuplicateLimit(ctx, security.ActionSubmit, req.ActorID, 1, cfg.SubmitDuplicateWindow, now)
	if err != nil {
		return nil, persistenceFailure("failed to check duplicate submission", err)
	}
	if !ok {
		return nil, rateLimitExceeded("duplicate submission, please wait before retrying")
	}
	ok, err = c.guard.ReserveDailySubmission(ctx, req.ActorID, now)
	if err != nil {
		return nil, persistenceFailure("failed to check daily submission limit", err)
	}
	if !ok {
		return nil, rateLimitExceeded("daily submission limit reached")
	}

	// 远程结构服务不放进事务
	total, err := c.progress.scalarTotal(ctx, resp.SurveyID)
	if err != nil {
		c.logger.Warn("Survey schema unavailable, completion percentage left at 0",
			zap.Int64("survey_id", resp.SurveyID), zap.Error(err))
		total = 0
	}

	var out *SubmitResponse
	err = c.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		locked, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if err := checkSubmittable(locked, req.ActorID); err != nil {
			return err
		}
		if req.ExpectedRevision != nil && *req.ExpectedRevision != locked.Revision {
			return invalidTransition("survey response was modified concurrently (revision %d, expected %d)",
				locked.Revision, *req.ExpectedRevision)
		}

		set, err := c.answers.ReplaceAll(ctx, tx, locked.ResponseID, answers)
		if err != nil {
			return err
		}
		score := set.TotalScore()
		pct := completionPercent(len(set.Scalars), total)

		if err := tx.CompleteResponse(ctx, locked.ResponseID, repository.Completion{
			OverallScore:         score,
			CompletionPercentage: pct,
			SubmittedAt:          now,
		}); err != nil {
			return err
		}
		if _, err := c.guard.CreateAuditEntry(ctx, tx, domain.AuditSurveySubmitted, locked.ResponseID, req.ActorID,
			map[string]any{
				"answer_count":          set.Len(),
				"scalar_count":          len(set.Scalars),
				"tabular_count":         len(set.Tabulars),
				"overall_score":         score,
				"completion_percentage": pct,
				"previous_status":       string(locked.Status),
			}, now); err != nil {
			return err
		}

		updated, err := tx.GetResponse(ctx, locked.ResponseID)
		if err != nil {
			return err
		}
		out = &SubmitResponse{Response: updated, AnswerCount: set.Len(), OverallScore: score}
		return nil
	})
	if err != nil {
		c.guard.ReleaseDailySubmission(context.WithoutCancel(ctx), req.ActorID, now)
		return nil, storeError(err, "survey response")
	}
	return out, nil
}

func checkSubmittable(resp *domain.SurveyResponse, actor string) error {
	if !resp.IsOwnedBy(actor) {
		return ownershipViolation("survey response belongs to another evaluator")
	}
	if !resp.CanBeModified() {
		return invalidTransition("survey response is already completed")
	}
	if !resp.AcceptsAnswers() {
		return invalidTransition("survey response is %s and no longer accepts answers", resp.Status)
	}
	return nil
}

func (c *BulkSubmissionCoordinator) notify(ctx context.Context, out *SubmitResponse) {
	if c.notifier == nil {
		return
	}
	r := out.Response
	event := SubmissionEvent{
		ResponseID:           r.ResponseID,
		CenterID:             r.CenterID,
		SurveyID:             r.SurveyID,
		Year:                 r.Year,
		Month:                r.Month,
		EvaluationVersion:    r.EvaluationVersion,
		EvaluatorID:          r.EvaluatorID,
		OverallScore:         r.OverallScore,
		CompletionPercentage: r.CompletionPercentage,
		AnswerCount:          out.AnswerCount,
	}
	if r.SubmittedAt != nil {
		event.SubmittedAt = *r.SubmittedAt
	}
	if err := c.notifier.PublishSubmission(ctx, event); err != nil {
		c.metrics.NotifyFailed()
		c.logger.Warn("Failed to publish submission event",
			zap.String("response_id", r.ResponseID), zap.Error(err))
	}
}
