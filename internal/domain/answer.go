package domain

import (
	"strings"
	"time"
)

// Answer 普通题答案（对应 survey_answers 表）
// UNIQUE(response_id, question_id)
type Answer struct {
	ResponseID string    `db:"response_id"`
	QuestionID int64     `db:"question_id"`
	Answer     string    `db:"answer"`
	Score      float64   `db:"score"`
	IsDraft    bool      `db:"is_draft"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// TabularAnswer 表格题单元格答案（对应 survey_tabular_answers 表，如用药表）
// UNIQUE(response_id, question_key)
type TabularAnswer struct {
	ResponseID  string    `db:"response_id"`
	QuestionKey string    `db:"question_key"` // "<rowId>_field_<fieldId>" / "<rowId>_<fieldId>"
	Answer      string    `db:"answer"`
	Score       float64   `db:"score"`
	IsDraft     bool      `db:"is_draft"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// AnswerInput 已在 API 边界完成分类的单条答案
type AnswerInput struct {
	Kind   AnswerKind
	Answer string
	Score  float64
}

// HasContent 空字符串视为"未作答"
func (a AnswerInput) HasContent() bool {
	return strings.TrimSpace(a.Answer) != ""
}

// AnswerSet 按类型拆分后的答案集合
type AnswerSet struct {
	Scalars  []Answer
	Tabulars []TabularAnswer
}

// Len 总答案数
func (s AnswerSet) Len() int {
	return len(s.Scalars) + len(s.Tabulars)
}

// TotalScore 普通题得分 + 表格题得分
func (s AnswerSet) TotalScore() float64 {
	var total float64
	for _, a := range s.Scalars {
		total += a.Score
	}
	for _, a := range s.Tabulars {
		total += a.Score
	}
	return total
}

// Partition 按 AnswerKind 拆分为普通题 / 表格题
func Partition(responseID string, inputs []AnswerInput, isDraft bool) AnswerSet {
	set := AnswerSet{
		Scalars:  make([]Answer, 0, len(inputs)),
		Tabulars: make([]TabularAnswer, 0),
	}
	for _, in := range inputs {
		switch in.Kind.Tag {
		case KindScalar:
			set.Scalars = append(set.Scalars, Answer{
				ResponseID: responseID,
				QuestionID: in.Kind.QuestionID,
				Answer:     in.Answer,
				Score:      in.Score,
				IsDraft:    isDraft,
			})
		case KindTabular:
			set.Tabulars = append(set.Tabulars, TabularAnswer{
				ResponseID:  responseID,
				QuestionKey: in.Kind.Key,
				Answer:      in.Answer,
				Score:       in.Score,
				IsDraft:     isDraft,
			})
		}
	}
	return set
}

// DraftRow 草稿加载结果（普通题与表格题合并）
type DraftRow struct {
	QuestionID string  `json:"question_id"`
	Kind       string  `json:"kind"`
	Answer     string  `json:"answer"`
	Score      float64 `json:"score"`
	IsDraft    bool    `json:"is_draft"`
}
