package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrConflict 唯一约束冲突（如并发创建同周期答卷）
	ErrConflict = errors.New("conflict")
)

// ResponseFilters 答卷查询过滤器
type ResponseFilters struct {
	EvaluatorID string
	CenterID    int64
	SurveyID    int64
	Year        int
	Month       int
	Statuses    []domain.ResponseStatus
}

// Completion 最终提交时写回答卷的字段
type Completion struct {
	OverallScore         float64
	CompletionPercentage float64
	SubmittedAt          time.Time
}

// AnswerCounts 进度统计用（只统计非草稿）
type AnswerCounts struct {
	Scalar  int
	Tabular int
}

// SurveyResponsesRepository 答卷Repository接口
type SurveyResponsesRepository interface {
	// GetResponse 获取答卷；不存在返回 ErrNotFound
	GetResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error)

	// LockResponse 在事务内加行锁读取答卷（SELECT ... FOR UPDATE）
	LockResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error)

	// LockPeriod 在事务内对 (center, survey, evaluator, year, month) 加锁，串行化创建
	LockPeriod(ctx context.Context, key domain.PeriodKey) error

	// FindLatestResponse 该周期最新版本；不存在返回 ErrNotFound
	FindLatestResponse(ctx context.Context, key domain.PeriodKey) (*domain.SurveyResponse, error)

	// CreateResponse 创建答卷；唯一约束冲突返回 ErrConflict
	CreateResponse(ctx context.Context, resp *domain.SurveyResponse) error

	// ListResponses 分页查询
	ListResponses(ctx context.Context, filters *ResponseFilters, page, size int) ([]*domain.SurveyResponse, int, error)

	// UpdateResponseStatus 更新状态（revision + 1）
	UpdateResponseStatus(ctx context.Context, responseID string, status domain.ResponseStatus, at time.Time) error

	// TouchResponse 仅刷新 last_activity_at（revision + 1）
	TouchResponse(ctx context.Context, responseID string, at time.Time) error

	// CompleteResponse 标记 completed 并写入得分/提交时间（revision + 1）
	CompleteResponse(ctx context.Context, responseID string, c Completion) error

	// ExpireOverdue 将早于 current 周期且未终结的答卷置为 ended，返回受影响的 response_id
	ExpireOverdue(ctx context.Context, current domain.Period, at time.Time) ([]string, error)
}

// SurveyAnswersRepository 答案Repository接口（普通题 + 表格题）
type SurveyAnswersRepository interface {
	// UpsertAnswer 普通题 UPSERT，UNIQUE(response_id, question_id)，后写覆盖
	UpsertAnswer(ctx context.Context, answer domain.Answer) error

	// UpsertTabularAnswers 表格题批量 UPSERT，UNIQUE(response_id, question_key)
	UpsertTabularAnswers(ctx context.Context, responseID string, cells []domain.TabularAnswer) error

	// DeleteAnswers 删除该答卷全部普通题与表格题答案
	DeleteAnswers(ctx context.Context, responseID string) (int64, error)

	// InsertAnswers 批量插入（用于最终提交的"先删后插"）
	InsertAnswers(ctx context.Context, responseID string, set domain.AnswerSet) error

	// ListAnswers 普通题答案，按插入顺序
	ListAnswers(ctx context.Context, responseID string, draftOnly bool) ([]domain.Answer, error)

	// ListTabularAnswers 表格题答案，按插入顺序
	ListTabularAnswers(ctx context.Context, responseID string, draftOnly bool) ([]domain.TabularAnswer, error)

	// CountAnswers 非草稿答案数量
	CountAnswers(ctx context.Context, responseID string) (AnswerCounts, error)
}

// AuditRepository 审计Repository接口（只追加）
type AuditRepository interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, responseID string) ([]*domain.AuditEntry, error)
}

// SurveyTx 事务内可用的全部操作
type SurveyTx interface {
	SurveyResponsesRepository
	SurveyAnswersRepository
	AuditRepository
}

// SurveyStore 答卷存储：非事务调用直接使用，需要原子性时用 WithinTx
// 注意：fn 内只能使用传入的 tx，不要回调 store 本身
type SurveyStore interface {
	SurveyTx
	WithinTx(ctx context.Context, fn func(tx SurveyTx) error) error
}

// SurveySchemaRepository 问卷结构（只读）
type SurveySchemaRepository interface {
	// GetSurveySchema 不存在返回 ErrNotFound
	GetSurveySchema(ctx context.Context, surveyID int64) (*domain.SurveySchema, error)
}
