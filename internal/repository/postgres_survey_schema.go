package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// PostgresSurveySchemaRepository 问卷结构（surveys -> survey_sections -> survey_domains -> survey_questions）
// 这些表由管理端维护，这里只读
type PostgresSurveySchemaRepository struct {
	db *sql.DB
}

func NewPostgresSurveySchemaRepository(db *sql.DB) *PostgresSurveySchemaRepository {
	return &PostgresSurveySchemaRepository{db: db}
}

var _ SurveySchemaRepository = (*PostgresSurveySchemaRepository)(nil)

// GetSurveySchema 一次 JOIN 取出整棵树，按 sort_order 组装
func (r *PostgresSurveySchemaRepository) GetSurveySchema(ctx context.Context, surveyID int64) (*domain.SurveySchema, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			s.survey_id,
			s.title,
			sec.section_id,
			sec.title,
			d.domain_id,
			d.title,
			q.question_id,
			q.question_kind,
			q.question_text
		FROM surveys s
		JOIN survey_sections sec ON sec.survey_id = s.survey_id
		JOIN survey_domains d ON d.section_id = sec.section_id
		JOIN survey_questions q ON q.domain_id = d.domain_id
		WHERE s.survey_id = $1
		ORDER BY sec.sort_order, sec.section_id, d.sort_order, d.domain_id, q.sort_order, q.question_id`,
		surveyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query survey schema: %w", err)
	}
	defer rows.Close()

	var schema *domain.SurveySchema
	for rows.Next() {
		var (
			sid                int64
			title              string
			sectionID          int64
			sectionTitle       string
			domainID           int64
			domainTitle        string
			questionID         int64
			questionKind, text string
		)
		if err := rows.Scan(&sid, &title, &sectionID, &sectionTitle, &domainID, &domainTitle, &questionID, &questionKind, &text); err != nil {
			return nil, fmt.Errorf("failed to scan survey schema: %w", err)
		}

		if schema == nil {
			schema = &domain.SurveySchema{SurveyID: sid, Title: title}
		}
		// rows are ordered, so a new id always starts a new node
		if n := len(schema.Sections); n == 0 || schema.Sections[n-1].SectionID != sectionID {
			schema.Sections = append(schema.Sections, domain.SurveySection{SectionID: sectionID, Title: sectionTitle})
		}
		sec := &schema.Sections[len(schema.Sections)-1]
		if n := len(sec.Domains); n == 0 || sec.Domains[n-1].DomainID != domainID {
			sec.Domains = append(sec.Domains, domain.SurveyDomain{DomainID: domainID, Title: domainTitle})
		}
		dom := &sec.Domains[len(sec.Domains)-1]
		dom.Questions = append(dom.Questions, domain.SurveyQuestion{
			QuestionID: questionID,
			Kind:       domain.QuestionKind(questionKind),
			Text:       text,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate survey schema: %w", err)
	}

	if schema == nil {
		return nil, fmt.Errorf("survey %d: %w", surveyID, ErrNotFound)
	}
	return schema, nil
}
