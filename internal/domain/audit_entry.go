package domain

import "time"

// 审计动作
const (
	AuditSurveyCreated   = "survey_created"
	AuditSurveyResumed   = "survey_resumed"
	AuditDraftSaved      = "draft_saved"
	AuditInProgress      = "survey_in_progress"
	AuditSurveySubmitted = "survey_submitted"
	AuditStatusUpdated   = "status_updated"
	AuditSurveyExpired   = "survey_expired"
)

// SystemActor 系统动作（如过期对账）的操作人
const SystemActor = "system"

// AuditEntry 审计记录（对应 survey_audit_log 表），只追加不修改
type AuditEntry struct {
	AuditID    string         `db:"audit_id"`
	Action     string         `db:"action"`
	ResponseID string         `db:"response_id"`
	ActorID    string         `db:"actor_id"`
	Metadata   map[string]any `db:"metadata"` // JSONB
	CreatedAt  time.Time      `db:"created_at"`
}
