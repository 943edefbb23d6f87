package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// 单条 INSERT 的最大行数（PostgreSQL 参数上限 65535）
const insertBatchSize = 500

// UpsertAnswer 普通题 UPSERT（后写覆盖）
func (r *postgresSurveyQueries) UpsertAnswer(ctx context.Context, a domain.Answer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO survey_answers (response_id, question_id, answer, score, is_draft, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (response_id, question_id)
		DO UPDATE SET answer = EXCLUDED.answer,
		              score = EXCLUDED.score,
		              is_draft = EXCLUDED.is_draft,
		              updated_at = EXCLUDED.updated_at`,
		a.ResponseID, a.QuestionID, a.Answer, a.Score, a.IsDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert answer %d: %w", a.QuestionID, err)
	}
	return nil
}

// UpsertTabularAnswers 表格题批量 UPSERT
// 注意：同一批次内 question_key 不能重复（ON CONFLICT 不能二次命中同一行），调用方需先去重
func (r *postgresSurveyQueries) UpsertTabularAnswers(ctx context.Context, responseID string, cells []domain.TabularAnswer) error {
	for start := 0; start < len(cells); start += insertBatchSize {
		end := min(start+insertBatchSize, len(cells))
		values, args := tabularValues(responseID, cells[start:end])

		query := `
		INSERT INTO survey_tabular_answers (response_id, question_key, answer, score, is_draft, updated_at)
		VALUES ` + values + `
		ON CONFLICT (response_id, question_key)
		DO UPDATE SET answer = EXCLUDED.answer,
		              score = EXCLUDED.score,
		              is_draft = EXCLUDED.is_draft,
		              updated_at = EXCLUDED.updated_at`

		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert tabular answers: %w", err)
		}
	}
	return nil
}

// DeleteAnswers 删除全部答案（普通题 + 表格题）
func (r *postgresSurveyQueries) DeleteAnswers(ctx context.Context, responseID string) (int64, error) {
	var deleted int64

	res, err := r.q.ExecContext(ctx, `DELETE FROM survey_answers WHERE response_id = $1`, responseID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete answers: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	res, err = r.q.ExecContext(ctx, `DELETE FROM survey_tabular_answers WHERE response_id = $1`, responseID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tabular answers: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	return deleted, nil
}

// InsertAnswers 批量插入（无 ON CONFLICT，调用方保证已 DeleteAnswers）
func (r *postgresSurveyQueries) InsertAnswers(ctx context.Context, responseID string, set domain.AnswerSet) error {
	for start := 0; start < len(set.Scalars); start += insertBatchSize {
		end := min(start+insertBatchSize, len(set.Scalars))
		values, args := scalarValues(responseID, set.Scalars[start:end])

		query := `
		INSERT INTO survey_answers (response_id, question_id, answer, score, is_draft, updated_at)
		VALUES ` + values
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert answers: %w", err)
		}
	}

	for start := 0; start < len(set.Tabulars); start += insertBatchSize {
		end := min(start+insertBatchSize, len(set.Tabulars))
		values, args := tabularValues(responseID, set.Tabulars[start:end])

		query := `
		INSERT INTO survey_tabular_answers (response_id, question_key, answer, score, is_draft, updated_at)
		VALUES ` + values
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert tabular answers: %w", err)
		}
	}

	return nil
}

// ListAnswers 普通题答案
func (r *postgresSurveyQueries) ListAnswers(ctx context.Context, responseID string, draftOnly bool) ([]domain.Answer, error) {
	query := `
		SELECT response_id::text, question_id, answer, score, is_draft, updated_at
		FROM survey_answers
		WHERE response_id = $1`
	if draftOnly {
		query += ` AND is_draft = TRUE`
	}
	query += ` ORDER BY answer_id`

	rows, err := r.q.QueryContext(ctx, query, responseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	list := []domain.Answer{}
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ResponseID, &a.QuestionID, &a.Answer, &a.Score, &a.IsDraft, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answers: %w", err)
	}
	return list, nil
}

// ListTabularAnswers 表格题答案
func (r *postgresSurveyQueries) ListTabularAnswers(ctx context.Context, responseID string, draftOnly bool) ([]domain.TabularAnswer, error) {
	query := `
		SELECT response_id::text, question_key, answer, score, is_draft, updated_at
		FROM survey_tabular_answers
		WHERE response_id = $1`
	if draftOnly {
		query += ` AND is_draft = TRUE`
	}
	query += ` ORDER BY answer_id`

	rows, err := r.q.QueryContext(ctx, query, responseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabular answers: %w", err)
	}
	defer rows.Close()

	list := []domain.TabularAnswer{}
	for rows.Next() {
		var a domain.TabularAnswer
		if err := rows.Scan(&a.ResponseID, &a.QuestionKey, &a.Answer, &a.Score, &a.IsDraft, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tabular answer: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tabular answers: %w", err)
	}
	return list, nil
}

// CountAnswers 非草稿答案数
func (r *postgresSurveyQueries) CountAnswers(ctx context.Context, responseID string) (AnswerCounts, error) {
	var c AnswerCounts
	err := r.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM survey_answers WHERE response_id = $1 AND is_draft = FALSE),
			(SELECT COUNT(*) FROM survey_tabular_answers WHERE response_id = $1 AND is_draft = FALSE)`,
		responseID,
	).Scan(&c.Scalar, &c.Tabular)
	if err != nil {
		return AnswerCounts{}, fmt.Errorf("failed to count answers: %w", err)
	}
	return c, nil
}

func scalarValues(responseID string, answers []domain.Answer) (string, []any) {
	placeholders := make([]string, 0, len(answers))
	args := make([]any, 0, len(answers)*5)
	for i, a := range answers {
		n := i * 5
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, CURRENT_TIMESTAMP)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, responseID, a.QuestionID, a.Answer, a.Score, a.IsDraft)
	}
	return strings.Join(placeholders, ", "), args
}

func tabularValues(responseID string, cells []domain.TabularAnswer) (string, []any) {
	placeholders := make([]string, 0, len(cells))
	args := make([]any, 0, len(cells)*5)
	for i, c := range cells {
		n := i * 5
		placeholders = append(placeholders,
			fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, CURRENT_TIMESTAMP)", n+1, n+2, n+3, n+4, n+5))
		args = append(args, responseID, c.QuestionKey, c.Answer, c.Score, c.IsDraft)
	}
	return strings.Join(placeholders, ", "), args
}
