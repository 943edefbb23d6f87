package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"

	"github.com/lib/pq"
)

const responseColumns = `
			response_id::text,
			center_id,
			survey_id,
			year,
			month,
			evaluation_version,
			evaluator_id,
			status,
			completion_percentage,
			overall_score,
			submitted_at,
			last_activity_at,
			created_at,
			revision`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*domain.SurveyResponse, error) {
	var r domain.SurveyResponse
	var status string
	var submittedAt sql.NullTime

	if err := row.Scan(
		&r.ResponseID,
		&r.CenterID,
		&r.SurveyID,
		&r.Year,
		&r.Month,
		&r.EvaluationVersion,
		&r.EvaluatorID,
		&status,
		&r.CompletionPercentage,
		&r.OverallScore,
		&submittedAt,
		&r.LastActivityAt,
		&r.CreatedAt,
		&r.Revision,
	); err != nil {
		return nil, err
	}

	r.Status = domain.ResponseStatus(status)
	if submittedAt.Valid {
		t := submittedAt.Time
		r.SubmittedAt = &t
	}
	return &r, nil
}

// GetResponse 获取答卷
func (r *postgresSurveyQueries) GetResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error) {
	if responseID == "" {
		return nil, fmt.Errorf("survey response: %w", ErrNotFound)
	}
	query := `SELECT` + responseColumns + `
		FROM survey_responses
		WHERE response_id = $1`

	resp, err := scanResponse(r.q.QueryRowContext(ctx, query, responseID))
	if err != nil {
		return nil, mapReadErr(err, "survey response")
	}
	return resp, nil
}

// LockResponse 行锁：草稿保存与最终提交都先拿这把锁，保证同一答卷串行
func (r *postgresSurveyQueries) LockResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error) {
	if responseID == "" {
		return nil, fmt.Errorf("survey response: %w", ErrNotFound)
	}
	query := `SELECT` + responseColumns + `
		FROM survey_responses
		WHERE response_id = $1
		FOR UPDATE`

	resp, err := scanResponse(r.q.QueryRowContext(ctx, query, responseID))
	if err != nil {
		return nil, mapReadErr(err, "survey response")
	}
	return resp, nil
}

// LockPeriod 事务级 advisory lock，事务结束自动释放
func (r *postgresSurveyQueries) LockPeriod(ctx context.Context, key domain.PeriodKey) error {
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return fmt.Errorf("failed to lock evaluation period: %w", err)
	}
	return nil
}

// FindLatestResponse 该周期 evaluation_version 最大的一条
func (r *postgresSurveyQueries) FindLatestResponse(ctx context.Context, key domain.PeriodKey) (*domain.SurveyResponse, error) {
	query := `SELECT` + responseColumns + `
		FROM survey_responses
		WHERE center_id = $1
		  AND survey_id = $2
		  AND evaluator_id = $3
		  AND year = $4
		  AND month = $5
		ORDER BY evaluation_version DESC
		LIMIT 1`

	resp, err := scanResponse(r.q.QueryRowContext(ctx, query,
		key.CenterID, key.SurveyID, key.EvaluatorID, key.Period.Year, key.Period.Month,
	))
	if err != nil {
		return nil, mapReadErr(err, "latest survey response")
	}
	return resp, nil
}

// CreateResponse 创建答卷
func (r *postgresSurveyQueries) CreateResponse(ctx context.Context, resp *domain.SurveyResponse) error {
	if resp == nil || resp.ResponseID == "" {
		return fmt.Errorf("response_id is required")
	}
	if resp.EvaluatorID == "" {
		return fmt.Errorf("evaluator_id is required")
	}

	query := `
		INSERT INTO survey_responses (
			response_id, center_id, survey_id, year, month,
			evaluation_version, evaluator_id, status,
			completion_percentage, overall_score,
			last_activity_at, created_at, revision
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13
		)`

	_, err := r.q.ExecContext(ctx, query,
		resp.ResponseID, resp.CenterID, resp.SurveyID, resp.Year, resp.Month,
		resp.EvaluationVersion, resp.EvaluatorID, string(resp.Status),
		resp.CompletionPercentage, resp.OverallScore,
		resp.LastActivityAt, resp.CreatedAt, resp.Revision,
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("survey response for %s v%d: %w", resp.Key(), resp.EvaluationVersion, ErrConflict)
		}
		return fmt.Errorf("failed to create survey response: %w", err)
	}
	return nil
}

// ListResponses 批量查询答卷（支持过滤和分页）
func (r *postgresSurveyQueries) ListResponses(ctx context.Context, filters *ResponseFilters, page, size int) ([]*domain.SurveyResponse, int, error) {
	where := []string{"1 = 1"}
	args := []any{}
	argN := 1

	if filters != nil {
		if filters.EvaluatorID != "" {
			where = append(where, fmt.Sprintf("evaluator_id = $%d", argN))
			args = append(args, filters.EvaluatorID)
			argN++
		}
		if filters.CenterID > 0 {
			where = append(where, fmt.Sprintf("center_id = $%d", argN))
			args = append(args, filters.CenterID)
			argN++
		}
		if filters.SurveyID > 0 {
			where = append(where, fmt.Sprintf("survey_id = $%d", argN))
			args = append(args, filters.SurveyID)
			argN++
		}
		if filters.Year > 0 {
			where = append(where, fmt.Sprintf("year = $%d", argN))
			args = append(args, filters.Year)
			argN++
		}
		if filters.Month > 0 {
			where = append(where, fmt.Sprintf("month = $%d", argN))
			args = append(args, filters.Month)
			argN++
		}
		if len(filters.Statuses) > 0 {
			statuses := make([]string, 0, len(filters.Statuses))
			for _, st := range filters.Statuses {
				statuses = append(statuses, string(st))
			}
			where = append(where, fmt.Sprintf("status = ANY($%d)", argN))
			args = append(args, pq.Array(statuses))
			argN++
		}
	}

	// 查询总数
	queryCount := `
		SELECT COUNT(*)
		FROM survey_responses
		WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := r.q.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count survey responses: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	argsList := append(args, size, offset)
	query := `SELECT` + responseColumns + `
		FROM survey_responses
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY year DESC, month DESC, evaluation_version DESC, created_at DESC
		LIMIT $` + fmt.Sprintf("%d", argN) + ` OFFSET $` + fmt.Sprintf("%d", argN+1)

	rows, err := r.q.QueryContext(ctx, query, argsList...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list survey responses: %w", err)
	}
	defer rows.Close()

	var list []*domain.SurveyResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan survey response: %w", err)
		}
		list = append(list, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate survey responses: %w", err)
	}

	return list, total, nil
}

// UpdateResponseStatus 更新答卷状态
func (r *postgresSurveyQueries) UpdateResponseStatus(ctx context.Context, responseID string, status domain.ResponseStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE survey_responses
		SET status = $2,
		    last_activity_at = $3,
		    revision = revision + 1
		WHERE response_id = $1`,
		responseID, string(status), at,
	)
	if err != nil {
		return fmt.Errorf("failed to update survey response status: %w", err)
	}
	return requireAffected(res, "survey response")
}

// TouchResponse 刷新最后活动时间
func (r *postgresSurveyQueries) TouchResponse(ctx context.Context, responseID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE survey_responses
		SET last_activity_at = $2,
		    revision = revision + 1
		WHERE response_id = $1`,
		responseID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch survey response: %w", err)
	}
	return requireAffected(res, "survey response")
}

// CompleteResponse 最终提交
func (r *postgresSurveyQueries) CompleteResponse(ctx context.Context, responseID string, c Completion) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE survey_responses
		SET status = $2,
		    overall_score = $3,
		    completion_percentage = $4,
		    submitted_at = $5,
		    last_activity_at = $5,
		    revision = revision + 1
		WHERE response_id = $1`,
		responseID, string(domain.StatusCompleted), c.OverallScore, c.CompletionPercentage, c.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete survey response: %w", err)
	}
	return requireAffected(res, "survey response")
}

// ExpireOverdue 过期对账
func (r *postgresSurveyQueries) ExpireOverdue(ctx context.Context, current domain.Period, at time.Time) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		UPDATE survey_responses
		SET status = $1,
		    last_activity_at = $2,
		    revision = revision + 1
		WHERE status IN ($3, $4, $5)
		  AND (year * 12 + month - 1) < $6
		RETURNING response_id::text`,
		string(domain.StatusEnded), at,
		string(domain.StatusStarted), string(domain.StatusDraft), string(domain.StatusInProgress),
		current.Index(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire survey responses: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired response id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired responses: %w", err)
	}
	return ids, nil
}
