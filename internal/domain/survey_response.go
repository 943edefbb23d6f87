package domain

import (
	"fmt"
	"strings"
	"time"
)

// ResponseStatus 评估答卷状态
type ResponseStatus string

const (
	StatusStarted    ResponseStatus = "started"
	StatusDraft      ResponseStatus = "draft"
	StatusInProgress ResponseStatus = "in_progress"
	StatusCompleted  ResponseStatus = "completed" // terminal
	StatusEnded      ResponseStatus = "ended"     // terminal, period elapsed
)

// AllStatuses 全部合法状态（按生命周期顺序）
var AllStatuses = []ResponseStatus{StatusStarted, StatusDraft, StatusInProgress, StatusCompleted, StatusEnded}

// ParseStatus 解析状态字符串（大小写不敏感，兼容 "IN-PROGRESS" 写法）
func ParseStatus(s string) (ResponseStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	for _, st := range AllStatuses {
		if string(st) == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// IsTerminal completed / ended 均为终态
func (s ResponseStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusEnded
}

// SurveyResponse 评估答卷领域模型（对应 survey_responses 表）
// 一个评估员对某中心某问卷在某年某月的一次评估
type SurveyResponse struct {
	ResponseID string `db:"response_id"` // UUID, PRIMARY KEY

	// 评估对象
	CenterID int64 `db:"center_id"` // BIGINT, NOT NULL
	SurveyID int64 `db:"survey_id"` // BIGINT, NOT NULL

	// 评估周期
	Year  int `db:"year"`  // INTEGER, NOT NULL
	Month int `db:"month"` // INTEGER, NOT NULL, 1-12

	EvaluationVersion int    `db:"evaluation_version"` // INTEGER, NOT NULL, >= 1
	EvaluatorID       string `db:"evaluator_id"`       // user reference, NOT NULL

	Status               ResponseStatus `db:"status"`
	CompletionPercentage float64        `db:"completion_percentage"` // 0-100
	OverallScore         float64        `db:"overall_score"`         // >= 0

	SubmittedAt    *time.Time `db:"submitted_at"`     // nullable until submission
	LastActivityAt time.Time  `db:"last_activity_at"` // NOT NULL
	CreatedAt      time.Time  `db:"created_at"`

	// Revision 乐观并发令牌，每次变更 +1
	Revision int `db:"revision"`
}

// CanBeModified completed 之后答卷不可再修改
func (r *SurveyResponse) CanBeModified() bool {
	return r.Status != StatusCompleted
}

// AcceptsAnswers 是否还能写入答案（草稿 / 最终提交）
func (r *SurveyResponse) AcceptsAnswers() bool {
	return !r.Status.IsTerminal()
}

// IsOwnedBy 评估员本人才能操作
func (r *SurveyResponse) IsOwnedBy(actorID string) bool {
	return actorID != "" && r.EvaluatorID == actorID
}

// Period 答卷所属评估周期
func (r *SurveyResponse) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}

// Key 答卷所属 (center, survey, evaluator, year, month)
func (r *SurveyResponse) Key() PeriodKey {
	return PeriodKey{
		CenterID:    r.CenterID,
		SurveyID:    r.SurveyID,
		EvaluatorID: r.EvaluatorID,
		Period:      r.Period(),
	}
}

// Period 评估周期（年 + 月）
type Period struct {
	Year  int
	Month int
}

// PeriodOf 取 t 所在月份
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Index 月序号，便于比较 (year*12 + month-1)
func (p Period) Index() int {
	return p.Year*12 + p.Month - 1
}

// Before p 是否早于 other
func (p Period) Before(other Period) bool {
	return p.Index() < other.Index()
}

func (p Period) Valid() bool {
	return p.Year > 0 && p.Month >= 1 && p.Month <= 12
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PeriodKey 同一评估员同一中心同一问卷同一月份，最多一个未终结答卷
type PeriodKey struct {
	CenterID    int64
	SurveyID    int64
	EvaluatorID string
	Period      Period
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%d:%d:%s:%s", k.CenterID, k.SurveyID, k.EvaluatorID, k.Period)
}
