package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AnswerKindTag 答案类型：普通题 / 表格单元格
type AnswerKindTag int

const (
	KindScalar AnswerKindTag = iota + 1
	KindTabular
)

func (t AnswerKindTag) String() string {
	switch t {
	case KindScalar:
		return "scalar"
	case KindTabular:
		return "tabular"
	default:
		return "unknown"
	}
}

// AnswerKind 由 question_id 解析出的答案类型
// - Scalar:  QuestionID
// - Tabular: RowID + FieldID，Key 为原始 question_key（如 "12_field_3"）
type AnswerKind struct {
	Tag        AnswerKindTag
	QuestionID int64
	RowID      int64
	FieldID    int64
	Key        string
}

func (k AnswerKind) IsScalar() bool  { return k.Tag == KindScalar }
func (k AnswerKind) IsTabular() bool { return k.Tag == KindTabular }

// String 用于日志和去重
func (k AnswerKind) String() string {
	if k.IsTabular() {
		return k.Key
	}
	return strconv.FormatInt(k.QuestionID, 10)
}

var (
	tabularFieldKey = regexp.MustCompile(`^(\d+)_field_(\d+)$`)
	tabularPlainKey = regexp.MustCompile(`^(\d+)_(\d+)$`)
)

// ParseQuestionID 唯一的分类入口：草稿保存和最终提交共用
//
//	"<row>_field_<field>" / "<row>_<field>" => Tabular
//	正整数                                 => Scalar
//	其它                                   => error
func ParseQuestionID(raw string) (AnswerKind, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return AnswerKind{}, fmt.Errorf("question_id is required")
	}

	for _, re := range []*regexp.Regexp{tabularFieldKey, tabularPlainKey} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		row, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return AnswerKind{}, fmt.Errorf("invalid tabular row in question_id %q", raw)
		}
		field, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return AnswerKind{}, fmt.Errorf("invalid tabular field in question_id %q", raw)
		}
		return AnswerKind{Tag: KindTabular, RowID: row, FieldID: field, Key: s}, nil
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return AnswerKind{}, fmt.Errorf("invalid question_id %q", raw)
	}
	return AnswerKind{Tag: KindScalar, QuestionID: id}, nil
}
