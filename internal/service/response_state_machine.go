package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/security"
)

// ResponseStateMachine 答卷生命周期
//
//	started -> draft -> in_progress -> completed（终态，只能经最终提交到达）
//	任意未终结状态，所属月份过去后 -> ended（终态，可由本人 UpdateStatus 重新打开）
type ResponseStateMachine struct {
	store   repository.SurveyStore
	guard   *security.Guard
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewResponseStateMachine 创建答卷状态机
func NewResponseStateMachine(store repository.SurveyStore, guard *security.Guard, m *metrics.Metrics, logger *zap.Logger) *ResponseStateMachine {
	return &ResponseStateMachine{
		store:   store,
		guard:   guard,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
}

// CreateOrResumeRequest 创建或继续答卷请求
type CreateOrResumeRequest struct {
	CenterID int64
	SurveyID int64
	ActorID  string
}

// CreateOrResumeResponse 创建或继续答卷响应
type CreateOrResumeResponse struct {
	Response *domain.SurveyResponse `json:"response"`
	Resumed  bool                   `json:"resumed"`
}

// CreateOrResume 当月已有未完成答卷则返回它，否则创建新版本（上一版本 +1，首个为 1）
func (s *ResponseStateMachine) CreateOrResume(ctx context.Context, req CreateOrResumeRequest) (*CreateOrResumeResponse, error) {
	if req.ActorID == "" {
		return nil, ownershipViolation("actor is required")
	}
	if req.CenterID <= 0 {
		return nil, validationError("center_id is required")
	}
	if req.SurveyID <= 0 {
		return nil, validationError("survey_id is required")
	}

	now := s.now()
	key := domain.PeriodKey{
		CenterID:    req.CenterID,
		SurveyID:    req.SurveyID,
		EvaluatorID: req.ActorID,
		Period:      domain.PeriodOf(now),
	}

	var (
		out *CreateOrResumeResponse
		err error
	)
	// 并发创建撞上唯一约束时重读一次，走继续分支
	for attempt := 0; attempt < 2; attempt++ {
		out, err = s.createOrResumeOnce(ctx, key, now)
		if err == nil || !errors.Is(err, repository.ErrConflict) {
			break
		}
		s.logger.Info("Concurrent survey response creation, resuming",
			zap.String("period_key", key.String()))
	}
	if err != nil {
		err = storeError(err, "survey response")
		s.logFailure("create_or_resume", err, zap.String("period_key", key.String()))
		return nil, err
	}

	s.metrics.ResponseOpened(out.Resumed)
	return out, nil
}

func (s *ResponseStateMachine) createOrResumeOnce(ctx context.Context, key domain.PeriodKey, now time.Time) (*CreateOrResumeResponse, error) {
	var out *CreateOrResumeResponse
	err := s.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		if err := tx.LockPeriod(ctx, key); err != nil {
			return err
		}

		latest, err := tx.FindLatestResponse(ctx, key)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if latest != nil && latest.Status != domain.StatusCompleted {
			if _, err := s.guard.CreateAuditEntry(ctx, tx, domain.AuditSurveyResumed, latest.ResponseID, key.EvaluatorID,
				map[string]any{"status": string(latest.Status), "evaluation_version": latest.EvaluationVersion}, now); err != nil {
				return err
			}
			out = &CreateOrResumeResponse{Response: latest, Resumed: true}
			return nil
		}

		ok, err := s.guard.CheckDailySubmissionLimit(ctx, key.EvaluatorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return rateLimitExceeded("daily submission limit reached")
		}

		version := 1
		if latest != nil {
			version = latest.EvaluationVersion + 1
		}
		resp := &domain.SurveyResponse{
			ResponseID:        s.newID(),
			CenterID:          key.CenterID,
			SurveyID:          key.SurveyID,
			Year:              key.Period.Year,
			Month:             key.Period.Month,
			EvaluationVersion: version,
			EvaluatorID:       key.EvaluatorID,
			Status:            domain.StatusStarted,
			LastActivityAt:    now,
			CreatedAt:         now,
		}
		if err := tx.CreateResponse(ctx, resp); err != nil {
			return err
		}
		if _, err := s.guard.CreateAuditEntry(ctx, tx, domain.AuditSurveyCreated, resp.ResponseID, key.EvaluatorID,
			map[string]any{
				"center_id":          key.CenterID,
				"survey_id":          key.SurveyID,
				"period":             key.Period.String(),
				"evaluation_version": version,
			}, now); err != nil {
			return err
		}
		out = &CreateOrResumeResponse{Response: resp, Resumed: false}
		return nil
	})
	return out, err
}

// TransitionRequest 只带答卷与操作人的状态迁移请求
type TransitionRequest struct {
	ResponseID string
	ActorID    string
}

// SaveDraft 状态迁移：started -> draft；draft / in_progress 不变
func (s *ResponseStateMachine) SaveDraft(ctx context.Context, req TransitionRequest) (*domain.SurveyResponse, error) {
	var out *domain.SurveyResponse
	err := s.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		resp, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if _, err := s.draftTransition(ctx, tx, resp, req.ActorID, s.now()); err != nil {
			return err
		}
		out, err = tx.GetResponse(ctx, req.ResponseID)
		return err
	})
	if err != nil {
		err = storeError(err, "survey response")
		s.logFailure("save_draft_transition", err, zap.String("response_id", req.ResponseID))
		return nil, err
	}
	return out, nil
}

// draftTransition 调用方已持有行锁；返回迁移后的状态
func (s *ResponseStateMachine) draftTransition(ctx context.Context, tx repository.SurveyTx, resp *domain.SurveyResponse, actor string, now time.Time) (domain.ResponseStatus, error) {
	if !resp.IsOwnedBy(actor) {
		return "", ownershipViolation("survey response belongs to another evaluator")
	}
	if !resp.AcceptsAnswers() {
		return "", invalidTransition("survey response is %s and no longer accepts answers", resp.Status)
	}

	if resp.Status == domain.StatusStarted {
		if err := tx.UpdateResponseStatus(ctx, resp.ResponseID, domain.StatusDraft, now); err != nil {
			return "", err
		}
		return domain.StatusDraft, nil
	}
	if err := tx.TouchResponse(ctx, resp.ResponseID, now); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// MarkInProgressRequest 标记作答中请求
type MarkInProgressRequest struct {
	ResponseID string
	ActorID    string
	Answers    []domain.AnswerInput
}

// MarkInProgress 出现实际作答内容后 started / draft -> in_progress；空载荷或已是 in_progress 时不变
func (s *ResponseStateMachine) MarkInProgress(ctx context.Context, req MarkInProgressRequest) (*domain.SurveyResponse, error) {
	hasContent := false
	for _, a := range req.Answers {
		if a.HasContent() {
			hasContent = true
			break
		}
	}

	var out *domain.SurveyResponse
	err := s.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		resp, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if !resp.IsOwnedBy(req.ActorID) {
			return ownershipViolation("survey response belongs to another evaluator")
		}
		if !hasContent || resp.Status == domain.StatusInProgress {
			out = resp
			return nil
		}
		if !resp.AcceptsAnswers() {
			return invalidTransition("survey response is %s and no longer accepts answers", resp.Status)
		}

		now := s.now()
		if err := tx.UpdateResponseStatus(ctx, resp.ResponseID, domain.StatusInProgress, now); err != nil {
			return err
		}
		if _, err := s.guard.CreateAuditEntry(ctx, tx, domain.AuditInProgress, resp.ResponseID, req.ActorID,
			map[string]any{"from": string(resp.Status)}, now); err != nil {
			return err
		}
		out, err = tx.GetResponse(ctx, resp.ResponseID)
		return err
	})
	if err != nil {
		err = storeError(err, "survey response")
		s.logFailure("mark_in_progress", err, zap.String("response_id", req.ResponseID))
		return nil, err
	}
	return out, nil
}

// UpdateStatusRequest 更新状态请求
type UpdateStatusRequest struct {
	ResponseID string
	ActorID    string
	Status     string
}

// UpdateStatus completed 之后拒绝；completed 只能经最终提交到达
func (s *ResponseStateMachine) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*domain.SurveyResponse, error) {
	newStatus, err := domain.ParseStatus(req.Status)
	if err != nil {
		return nil, invalidTransition("unknown status %q", req.Status)
	}
	if newStatus == domain.StatusCompleted {
		return nil, invalidTransition("a survey response can only be completed by submission")
	}

	var out *domain.SurveyResponse
	err = s.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		resp, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if !resp.CanBeModified() {
			return invalidTransition("survey response is completed and cannot be modified")
		}
		if !resp.IsOwnedBy(req.ActorID) {
			return ownershipViolation("survey response belongs to another evaluator")
		}
		if resp.Status == newStatus {
			out = resp
			return nil
		}

		now := s.now()
		if err := tx.UpdateResponseStatus(ctx, resp.ResponseID, newStatus, now); err != nil {
			return err
		}
		if _, err := s.guard.CreateAuditEntry(ctx, tx, domain.AuditStatusUpdated, resp.ResponseID, req.ActorID,
			map[string]any{"old_status": string(resp.Status), "new_status": string(newStatus)}, now); err != nil {
			return err
		}
		out, err = tx.GetResponse(ctx, resp.ResponseID)
		return err
	})
	if err != nil {
		err = storeError(err, "survey response")
		s.logFailure("update_status", err, zap.String("response_id", req.ResponseID))
		return nil, err
	}
	return out, nil
}

// ExpireResult 过期对账结果
type ExpireResult struct {
	Period  string   `json:"period"`
	Expired []string `json:"expired"`
	Count   int      `json:"count"`
}

// ExpireOverdue 所属月份已过去、且未 completed / ended 的答卷置为 ended
// 显式调用：列表查询前、/expire 接口、可选定时任务
func (s *ResponseStateMachine) ExpireOverdue(ctx context.Context) (*ExpireResult, error) {
	now := s.now()
	current := domain.PeriodOf(now)

	var ids []string
	err := s.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		var err error
		ids, err = tx.ExpireOverdue(ctx, current, now)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.guard.CreateAuditEntry(ctx, tx, domain.AuditSurveyExpired, id, domain.SystemActor,
				map[string]any{"current_period": current.String()}, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = storeError(err, "survey responses")
		s.logFailure("expire_overdue", err)
		return nil, err
	}

	if len(ids) > 0 {
		s.logger.Info("Expired overdue survey responses",
			zap.String("current_period", current.String()),
			zap.Int("count", len(ids)))
	}
	s.metrics.Expired(len(ids))
	if ids == nil {
		ids = []string{}
	}
	return &ExpireResult{Period: current.String(), Expired: ids, Count: len(ids)}, nil
}

// ListResponsesRequest 查询本人答卷
type ListResponsesRequest struct {
	ActorID  string
	CenterID int64
	SurveyID int64
	Year     int
	Month    int
	Statuses []string
	Page     int
	Size     int
}

// ListResponsesResponse 答卷列表
type ListResponsesResponse struct {
	Items []*domain.SurveyResponse `json:"items"`
	Total int                      `json:"total"`
	Page  int                      `json:"page"`
	Size  int                      `json:"size"`
}

// ListResponses 先做过期对账再查询，保证列表里的状态是新的
func (s *ResponseStateMachine) ListResponses(ctx context.Context, req ListResponsesRequest) (*ListResponsesResponse, error) {
	if req.ActorID == "" {
		return nil, ownershipViolation("actor is required")
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Size <= 0 {
		req.Size = 20
	}
	if req.Size > 100 {
		req.Size = 100
	}

	filters := &repository.ResponseFilters{
		EvaluatorID: req.ActorID,
		CenterID:    req.CenterID,
		SurveyID:    req.SurveyID,
		Year:        req.Year,
		Month:       req.Month,
	}
	for _, raw := range req.Statuses {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			return nil, validationError("unknown status %q", raw)
		}
		filters.Statuses = append(filters.Statuses, st)
	}

	if _, err := s.ExpireOverdue(ctx); err != nil {
		return nil, err
	}

	items, total, err := s.store.ListResponses(ctx, filters, req.Page, req.Size)
	if err != nil {
		err = storeError(err, "survey responses")
		s.logFailure("list_responses", err)
		return nil, err
	}
	if items == nil {
		items = []*domain.SurveyResponse{}
	}
	return &ListResponsesResponse{Items: items, Total: total, Page: req.Page, Size: req.Size}, nil
}

// GetResponse 仅本人可见
func (s *ResponseStateMachine) GetResponse(ctx context.Context, req TransitionRequest) (*domain.SurveyResponse, error) {
	resp, err := s.store.GetResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, storeError(err, "survey response")
	}
	if !resp.IsOwnedBy(req.ActorID) {
		return nil, ownershipViolation("survey response belongs to another evaluator")
	}
	return resp, nil
}

// ListAudit 答卷审计轨迹（仅本人可见）
func (s *ResponseStateMachine) ListAudit(ctx context.Context, req TransitionRequest) ([]*domain.AuditEntry, error) {
	if _, err := s.GetResponse(ctx, req); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, req.ResponseID)
	if err != nil {
		return nil, storeError(err, "audit trail")
	}
	return entries, nil
}

// logFailure 持久化失败走安全事件通道；业务拒绝只记 debug
func (s *ResponseStateMachine) logFailure(op string, err error, fields ...zap.Field) {
	logFailure(s.guard, s.logger, op, err, fields...)
}

func logFailure(guard *security.Guard, logger *zap.Logger, op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", op), zap.Error(err))
	if KindOf(err) == KindPersistence {
		guard.LogSecurityEvent("persistence_failure", fields...)
		return
	}
	logger.Debug("Request rejected", append(fields, zap.String("kind", string(KindOf(err))))...)
}
