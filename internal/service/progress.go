package service

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
)

// ProgressCalculator 完成度：已作答普通题 / 问卷普通题总数
// 表格题单独计数，不进分母
type ProgressCalculator struct {
	store   repository.SurveyStore
	schemas repository.SurveySchemaRepository
	logger  *zap.Logger
}

// NewProgressCalculator 创建进度计算
func NewProgressCalculator(store repository.SurveyStore, schemas repository.SurveySchemaRepository, logger *zap.Logger) *ProgressCalculator {
	return &ProgressCalculator{store: store, schemas: schemas, logger: logger}
}

// Progress 进度
type Progress struct {
	ResponseID        string                `json:"response_id"`
	Status            domain.ResponseStatus `json:"status"`
	CompletionPercent float64               `json:"completion_percent"`
	ScalarAnswered    int                   `json:"scalar_answered"`
	ScalarTotal       int                   `json:"scalar_total"`
	TabularAnswered   int                   `json:"tabular_answered"`
}

// CompletionPercent 只读；草稿答案不计入
func (p *ProgressCalculator) CompletionPercent(ctx context.Context, responseID string) (*Progress, error) {
	resp, err := p.store.GetResponse(ctx, responseID)
	if err != nil {
		return nil, storeError(err, "survey response")
	}

	counts, err := p.store.CountAnswers(ctx, responseID)
	if err != nil {
		return nil, storeError(err, "answers")
	}

	total, err := p.scalarTotal(ctx, resp.SurveyID)
	if err != nil {
		return nil, storeError(err, "survey schema")
	}

	return &Progress{
		ResponseID:        resp.ResponseID,
		Status:            resp.Status,
		CompletionPercent: completionPercent(counts.Scalar, total),
		ScalarAnswered:    counts.Scalar,
		ScalarTotal:       total,
		TabularAnswered:   counts.Tabular,
	}, nil
}

// scalarTotal 问卷结构不存在时按 0 处理
func (p *ProgressCalculator) scalarTotal(ctx context.Context, surveyID int64) (int, error) {
	if p.schemas == nil {
		return 0, nil
	}
	schema, err := p.schemas.GetSurveySchema(ctx, surveyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Debug("Survey schema not found", zap.Int64("survey_id", surveyID))
			return 0, nil
		}
		return 0, err
	}
	return schema.ScalarQuestionCount(), nil
}

// completionPercent 保留两位小数，限制在 [0, 100]
func completionPercent(answered, total int) float64 {
	if total <= 0 || answered <= 0 {
		return 0
	}
	pct := math.Round(float64(answered)/float64(total)*100*100) / 100
	return math.Min(pct, 100)
}
