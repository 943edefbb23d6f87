package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// questionID 兼容 "12" / 12 / "12_field_3"
type questionID string

func (q *questionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = questionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("question_id must be a string or a number")
	}
	*q = questionID(n.String())
	return nil
}

type answerPayload struct {
	QuestionID questionID `json:"question_id" validate:"required"`
	Answer     string     `json:"answer"`
	Score      float64    `json:"score" validate:"gte=0"`
}

type createPayload struct {
	CenterID int64 `json:"center_id" validate:"required,gt=0"`
	SurveyID int64 `json:"survey_id" validate:"required,gt=0"`
}

type answersPayload struct {
	Answers []answerPayload `json:"answers" validate:"dive"`
}

type submitPayload struct {
	Answers          []answerPayload `json:"answers" validate:"required,min=1,dive"`
	ExpectedRevision *int            `json:"expected_revision" validate:"omitempty,gte=0"`
}

type statusPayload struct {
	Status string `json:"status" validate:"required"`
}

// newValidator 错误字段名使用 json tag
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationDetails 字段 => 失败的规则，如 {"answers[0].question_id": "required"}
func validationDetails(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		out[ns] = fe.Tag()
	}
	return out
}

// toAnswerInputs API 边界上完成题目分类
func toAnswerInputs(payload []answerPayload) ([]domain.AnswerInput, map[string]string) {
	out := make([]domain.AnswerInput, 0, len(payload))
	var details map[string]string
	for i, p := range payload {
		kind, err := domain.ParseQuestionID(string(p.QuestionID))
		if err != nil {
			if details == nil {
				details = map[string]string{}
			}
			details[fmt.Sprintf("answers[%d].question_id", i)] = err.Error()
			continue
		}
		out = append(out, domain.AnswerInput{Kind: kind, Answer: p.Answer, Score: p.Score})
	}
	return out, details
}

func responseToJSON(r *domain.SurveyResponse) map[string]any {
	m := map[string]any{
		"response_id":           r.ResponseID,
		"center_id":             r.CenterID,
		"survey_id":             r.SurveyID,
		"year":                  r.Year,
		"month":                 r.Month,
		"evaluation_version":    r.EvaluationVersion,
		"evaluator_id":          r.EvaluatorID,
		"status":                string(r.Status),
		"completion_percentage": r.CompletionPercentage,
		"overall_score":         r.OverallScore,
		"last_activity_at":      r.LastActivityAt,
		"created_at":            r.CreatedAt,
		"revision":              r.Revision,
	}
	if r.SubmittedAt != nil {
		m["submitted_at"] = *r.SubmittedAt
	}
	return m
}

func auditToJSON(e *domain.AuditEntry) map[string]any {
	return map[string]any{
		"audit_id":    e.AuditID,
		"action":      e.Action,
		"response_id": e.ResponseID,
		"actor_id":    e.ActorID,
		"metadata":    e.Metadata,
		"created_at":  e.CreatedAt,
	}
}
