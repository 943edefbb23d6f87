package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// AppendAudit 追加审计记录（表上有触发器禁止 UPDATE/DELETE）
func (r *postgresSurveyQueries) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil || e.AuditID == "" {
		return fmt.Errorf("audit_id is required")
	}
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = b
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO survey_audit_log (audit_id, action, response_id, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.AuditID, e.Action, e.ResponseID, e.ActorID, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit 按时间顺序返回答卷的审计记录
func (r *postgresSurveyQueries) ListAudit(ctx context.Context, responseID string) ([]*domain.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT audit_id::text, action, response_id::text, actor_id, metadata, created_at
		FROM survey_audit_log
		WHERE response_id = $1
		ORDER BY created_at, audit_seq`,
		responseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	list := []*domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var metadata []byte
		if err := rows.Scan(&e.AuditID, &e.Action, &e.ResponseID, &e.ActorID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		list = append(list, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return list, nil
}
