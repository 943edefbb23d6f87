package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/security"
)

// AnswerStore 答案读写：普通题按 question_id、表格题按 question_key，草稿后写覆盖
type AnswerStore struct {
	store   repository.SurveyStore
	machine *ResponseStateMachine
	guard   *security.Guard
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnswerStore 创建答案服务
func NewAnswerStore(store repository.SurveyStore, machine *ResponseStateMachine, guard *security.Guard, m *metrics.Metrics, logger *zap.Logger) *AnswerStore {
	return &AnswerStore{
		store:   store,
		machine: machine,
		guard:   guard,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// normalizeAnswers 校验载荷
// final=true：重复 question_id 直接拒绝
// final=false：草稿里重复的 question_id 以最后一次为准（保留首次出现的位置）
func normalizeAnswers(inputs []domain.AnswerInput, final bool) ([]domain.AnswerInput, error) {
	out := make([]domain.AnswerInput, 0, len(inputs))
	index := make(map[string]int, len(inputs))

	for i, in := range inputs {
		if in.Kind.Tag != domain.KindScalar && in.Kind.Tag != domain.KindTabular {
			return nil, validationError("answers[%d]: question_id is required", i)
		}
		if math.IsNaN(in.Score) || math.IsInf(in.Score, 0) || in.Score < 0 {
			return nil, validationError("answers[%d]: score must be a non-negative number", i)
		}

		key := in.Kind.Tag.String() + ":" + in.Kind.String()
		if pos, seen := index[key]; seen {
			if final {
				return nil, validationError("answers[%d]: duplicate question_id %s", i, in.Kind)
			}
			out[pos] = in
			continue
		}
		index[key] = len(out)
		out = append(out, in)
	}
	return out, nil
}

func (a *AnswerStore) sanitize(inputs []domain.AnswerInput) []domain.AnswerInput {
	out := make([]domain.AnswerInput, len(inputs))
	for i, in := range inputs {
		in.Answer = a.guard.SanitizeAnswerText(in.Answer)
		out[i] = in
	}
	return out
}

// UpsertScalar 普通题 UPSERT（后写覆盖）
func (a *AnswerStore) UpsertScalar(ctx context.Context, tx repository.SurveyTx, responseID string, questionID int64, text string, score float64, isDraft bool) error {
	return tx.UpsertAnswer(ctx, domain.Answer{
		ResponseID: responseID,
		QuestionID: questionID,
		Answer:     a.guard.SanitizeAnswerText(text),
		Score:      score,
		IsDraft:    isDraft,
	})
}

// UpsertTabularBatch 表格题批量 UPSERT；非表格题条目忽略
func (a *AnswerStore) UpsertTabularBatch(ctx context.Context, tx repository.SurveyTx, responseID string, cells []domain.AnswerInput, isDraft bool) error {
	rows := make([]domain.TabularAnswer, 0, len(cells))
	index := make(map[string]int, len(cells))
	for _, c := range cells {
		if !c.Kind.IsTabular() {
			continue
		}
		row := domain.TabularAnswer{
			ResponseID:  responseID,
			QuestionKey: c.Kind.Key,
			Answer:      a.guard.SanitizeAnswerText(c.Answer),
			Score:       c.Score,
			IsDraft:     isDraft,
		}
		// 同一批次内 key 不能重复
		if pos, ok := index[row.QuestionKey]; ok {
			rows[pos] = row
			continue
		}
		index[row.QuestionKey] = len(rows)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.UpsertTabularAnswers(ctx, responseID, rows)
}

// ReplaceAll 最终提交专用：先删后插，落库结果与提交内容完全一致
func (a *AnswerStore) ReplaceAll(ctx context.Context, tx repository.SurveyTx, responseID string, answers []domain.AnswerInput) (domain.AnswerSet, error) {
	set := domain.Partition(responseID, a.sanitize(answers), false)
	if _, err := tx.DeleteAnswers(ctx, responseID); err != nil {
		return domain.AnswerSet{}, err
	}
	if err := tx.InsertAnswers(ctx, responseID, set); err != nil {
		return domain.AnswerSet{}, err
	}
	return set, nil
}

// SaveDraftRequest 保存草稿请求
type SaveDraftRequest struct {
	ResponseID string
	ActorID    string
	Answers    []domain.AnswerInput
}

// SaveDraftResponse 保存草稿响应
type SaveDraftResponse struct {
	Response *domain.SurveyResponse `json:"response"`
	Saved    int                    `json:"saved"`
}

// SaveDraft 校验 -> 草稿限流 -> 行锁 -> 归属 / 状态 -> 清洗 -> UPSERT -> started 转 draft -> 审计，同一事务
func (a *AnswerStore) SaveDraft(ctx context.Context, req SaveDraftRequest) (*SaveDraftResponse, error) {
	out, err := a.saveDraft(ctx, req)
	a.metrics.DraftSaved(err)
	if err != nil {
		logFailure(a.guard, a.logger, "save_draft", err, zap.String("response_id", req.ResponseID))
		return nil, err
	}
	return out, nil
}

func (a *AnswerStore) saveDraft(ctx context.Context, req SaveDraftRequest) (*SaveDraftResponse, error) {
	if req.ActorID == "" {
		return nil, ownershipViolation("actor is required")
	}
	answers, err := normalizeAnswers(req.Answers, false)
	if err != nil {
		return nil, err
	}

	now := a.now()
	cfg := a.guard.Config()
	ok, err := a.guard.CheckActionRateLimit(ctx, security.ActionDraft, req.ActorID, cfg.DraftRateWindow, cfg.DraftRateLimit, now)
	if err != nil {
		return nil, persistenceFailure("failed to check draft rate limit", err)
	}
	if !ok {
		return nil, rateLimitExceeded("too many draft saves, slow down")
	}

	var out *SaveDraftResponse
	err = a.store.WithinTx(ctx, func(tx repository.SurveyTx) error {
		resp, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return err
		}
		if !resp.IsOwnedBy(req.ActorID) {
			return ownershipViolation("survey response belongs to another evaluator")
		}
		if !resp.AcceptsAnswers() {
			return invalidTransition("survey response is %s and no longer accepts answers", resp.Status)
		}

		scalars, tabulars := 0, 0
		for _, in := range answers {
			if in.Kind.IsScalar() {
				if err := a.UpsertScalar(ctx, tx, resp.ResponseID, in.Kind.QuestionID, in.Answer, in.Score, true); err != nil {
					return err
				}
				scalars++
			} else {
				tabulars++
			}
		}
		if err := a.UpsertTabularBatch(ctx, tx, resp.ResponseID, answers, true); err != nil {
			return err
		}

		if _, err := a.machine.draftTransition(ctx, tx, resp, req.ActorID, now); err != nil {
			return err
		}
		if _, err := a.guard.CreateAuditEntry(ctx, tx, domain.AuditDraftSaved, resp.ResponseID, req.ActorID,
			map[string]any{
				"answer_count":  len(answers),
				"scalar_count":  scalars,
				"tabular_count": tabulars,
			}, now); err != nil {
			return err
		}

		updated, err := tx.GetResponse(ctx, resp.ResponseID)
		if err != nil {
			return err
		}
		out = &SaveDraftResponse{Response: updated, Saved: len(answers)}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "survey response")
	}
	return out, nil
}

// LoadDraft 草稿答案：普通题在前、表格题在后，各自按写入顺序
func (a *AnswerStore) LoadDraft(ctx context.Context, req TransitionRequest) ([]domain.DraftRow, error) {
	resp, err := a.store.GetResponse(ctx, req.ResponseID)
	if err != nil {
		return nil, storeError(err, "survey response")
	}
	if !resp.IsOwnedBy(req.ActorID) {
		return nil, ownershipViolation("survey response belongs to another evaluator")
	}

	scalars, err := a.store.ListAnswers(ctx, req.ResponseID, true)
	if err != nil {
		return nil, storeError(err, "draft answers")
	}
	cells, err := a.store.ListTabularAnswers(ctx, req.ResponseID, true)
	if err != nil {
		return nil, storeError(err, "draft answers")
	}

	rows := make([]domain.DraftRow, 0, len(scalars)+len(cells))
	for _, s := range scalars {
		rows = append(rows, domain.DraftRow{
			QuestionID: domain.AnswerKind{Tag: domain.KindScalar, QuestionID: s.QuestionID}.String(),
			Kind:       domain.KindScalar.String(),
			Answer:     s.Answer,
			Score:      s.Score,
			IsDraft:    s.IsDraft,
		})
	}
	for _, c := range cells {
		rows = append(rows, domain.DraftRow{
			QuestionID: c.QuestionKey,
			Kind:       domain.KindTabular.String(),
			Answer:     c.Answer,
			Score:      c.Score,
			IsDraft:    c.IsDraft,
		})
	}
	return rows, nil
}
