package domain

// QuestionKind 题目类型
type QuestionKind string

const (
	QuestionScalar  QuestionKind = "scalar"
	QuestionTabular QuestionKind = "tabular"
)

// SurveySchema 问卷结构：section -> domain -> question（只读，由管理端维护）
type SurveySchema struct {
	SurveyID int64           `json:"survey_id"`
	Title    string          `json:"title"`
	Sections []SurveySection `json:"sections"`
}

type SurveySection struct {
	SectionID int64          `json:"section_id"`
	Title     string         `json:"title"`
	Domains   []SurveyDomain `json:"domains"`
}

type SurveyDomain struct {
	DomainID  int64            `json:"domain_id"`
	Title     string           `json:"title"`
	Questions []SurveyQuestion `json:"questions"`
}

type SurveyQuestion struct {
	QuestionID int64        `json:"question_id"`
	Kind       QuestionKind `json:"kind"`
	Text       string       `json:"text"`
}

// ScalarQuestionCount 进度分母：只统计普通题
func (s *SurveySchema) ScalarQuestionCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, sec := range s.Sections {
		for _, d := range sec.Domains {
			for _, q := range d.Questions {
				if q.Kind == "" || q.Kind == QuestionScalar {
					n++
				}
			}
		}
	}
	return n
}
