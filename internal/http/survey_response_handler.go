package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/service"
)

const surveyResponsesPath = "/evaluation/api/v1/survey-responses"

// SurveyResponseHandler 评估答卷 Handler
type SurveyResponseHandler struct {
	machine  *service.ResponseStateMachine
	answers  *service.AnswerStore
	progress *service.ProgressCalculator
	submit   *service.BulkSubmissionCoordinator
	validate *validator.Validate
	logger   *zap.Logger
	debug    bool
}

// NewSurveyResponseHandler debug=true 时 500 响应带上错误详情
func NewSurveyResponseHandler(
	machine *service.ResponseStateMachine,
	answers *service.AnswerStore,
	progress *service.ProgressCalculator,
	submit *service.BulkSubmissionCoordinator,
	logger *zap.Logger,
	debug bool,
) *SurveyResponseHandler {
	return &SurveyResponseHandler{
		machine:  machine,
		answers:  answers,
		progress: progress,
		submit:   submit,
		validate: newValidator(),
		logger:   logger,
		debug:    debug,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *SurveyResponseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, surveyResponsesPath), "/")
	actor, ok := actorFromReq(w, r)
	if !ok {
		return
	}

	parts := strings.Split(rest, "/")
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	// 路由分发
	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.ListResponses(w, r, actor)
	case rest == "" && r.Method == http.MethodPost:
		h.CreateOrResume(w, r, actor)
	case rest == "expire" && r.Method == http.MethodPost:
		h.ExpireOverdue(w, r)
	case len(parts) > 2 || id == "":
		w.WriteHeader(http.StatusNotFound)

	case action == "" && r.Method == http.MethodGet:
		h.GetResponse(w, r, actor, id)
	case action == "" && r.Method == http.MethodPatch:
		h.UpdateStatus(w, r, actor, id)

	case action == "draft" && r.Method == http.MethodPost:
		h.SaveDraft(w, r, actor, id)
	case action == "draft" && r.Method == http.MethodGet:
		h.LoadDraft(w, r, actor, id)
	case action == "in-progress" && r.Method == http.MethodPost:
		h.MarkInProgress(w, r, actor, id)
	case action == "submit" && r.Method == http.MethodPost:
		h.Submit(w, r, actor, id)
	case action == "progress" && r.Method == http.MethodGet:
		h.Progress(w, r, actor, id)
	case action == "audit" && r.Method == http.MethodGet:
		h.ListAudit(w, r, actor, id)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// actorFromReq 身份由网关注入 X-User-Id
func actorFromReq(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if actor == "" || actor == "null" {
		writeJSON(w, http.StatusUnauthorized, Fail("X-User-Id is required"))
		return "", false
	}
	return actor, true
}

// CreateOrResume POST /survey-responses
func (h *SurveyResponseHandler) CreateOrResume(w http.ResponseWriter, r *http.Request, actor string) {
	var payload createPayload
	if !h.decode(w, r, &payload) {
		return
	}

	resp, err := h.machine.CreateOrResume(r.Context(), service.CreateOrResumeRequest{
		CenterID: payload.CenterID,
		SurveyID: payload.SurveyID,
		ActorID:  actor,
	})
	if err != nil {
		h.writeError(w, "CreateOrResume", err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"response": responseToJSON(resp.Response),
		"resumed":  resp.Resumed,
	}))
}

// ListResponses GET /survey-responses
func (h *SurveyResponseHandler) ListResponses(w http.ResponseWriter, r *http.Request, actor string) {
	q := r.URL.Query()
	centerID, err1 := parseInt64(q.Get("center_id"))
	surveyID, err2 := parseInt64(q.Get("survey_id"))
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusUnprocessableEntity, Fail("center_id and survey_id must be integers"))
		return
	}

	resp, err := h.machine.ListResponses(r.Context(), service.ListResponsesRequest{
		ActorID:  actor,
		CenterID: centerID,
		SurveyID: surveyID,
		Year:     parseInt(q.Get("year"), 0),
		Month:    parseInt(q.Get("month"), 0),
		Statuses: queryList(r, "status"),
		Page:     parseInt(q.Get("page"), 1),
		Size:     parseInt(q.Get("size"), 20),
	})
	if err != nil {
		h.writeError(w, "ListResponses", err)
		return
	}

	items := make([]any, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, responseToJSON(item))
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": resp.Total,
		"page":  resp.Page,
		"size":  resp.Size,
	}))
}

// GetResponse GET /survey-responses/{id}
func (h *SurveyResponseHandler) GetResponse(w http.ResponseWriter, r *http.Request, actor, id string) {
	resp, err := h.machine.GetResponse(r.Context(), service.TransitionRequest{ResponseID: id, ActorID: actor})
	if err != nil {
		h.writeError(w, "GetResponse", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(responseToJSON(resp)))
}

// UpdateStatus PATCH /survey-responses/{id}
func (h *SurveyResponseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request, actor, id string) {
	var payload statusPayload
	if !h.decode(w, r, &payload) {
		return
	}

	resp, err := h.machine.UpdateStatus(r.Context(), service.UpdateStatusRequest{
		ResponseID: id,
		ActorID:    actor,
		Status:     payload.Status,
	})
	if err != nil {
		h.writeError(w, "UpdateStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(responseToJSON(resp)))
}

// SaveDraft POST /survey-responses/{id}/draft
func (h *SurveyResponseHandler) SaveDraft(w http.ResponseWriter, r *http.Request, actor, id string) {
	var payload answersPayload
	if !h.decode(w, r, &payload) {
		return
	}
	answers, ok := h.answerInputs(w, payload.Answers)
	if !ok {
		return
	}

	resp, err := h.answers.SaveDraft(r.Context(), service.SaveDraftRequest{
		ResponseID: id,
		ActorID:    actor,
		Answers:    answers,
	})
	if err != nil {
		h.writeError(w, "SaveDraft", err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"response": responseToJSON(resp.Response),
		"saved":    resp.Saved,
	}))
}

// LoadDraft GET /survey-responses/{id}/draft
func (h *SurveyResponseHandler) LoadDraft(w http.ResponseWriter, r *http.Request, actor, id string) {
	rows, err := h.answers.LoadDraft(r.Context(), service.TransitionRequest{ResponseID: id, ActorID: actor})
	if err != nil {
		h.writeError(w, "LoadDraft", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rows))
}

// MarkInProgress POST /survey-responses/{id}/in-progress
func (h *SurveyResponseHandler) MarkInProgress(w http.ResponseWriter, r *http.Request, actor, id string) {
	var payload answersPayload
	if !h.decode(w, r, &payload) {
		return
	}
	answers, ok := h.answerInputs(w, payload.Answers)
	if !ok {
		return
	}

	resp, err := h.machine.MarkInProgress(r.Context(), service.MarkInProgressRequest{
		ResponseID: id,
		ActorID:    actor,
		Answers:    answers,
	})
	if err != nil {
		h.writeError(w, "MarkInProgress", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(responseToJSON(resp)))
}

// Submit POST /survey-responses/{id}/submit
func (h *SurveyResponseHandler) Submit(w http.ResponseWriter, r *http.Request, actor, id string) {
	var payload submitPayload
	if !h.decode(w, r, &payload) {
		return
	}
	answers, ok := h.answerInputs(w, payload.Answers)
	if !ok {
		return
	}

	resp, err := h.submit.Submit(r.Context(), service.SubmitRequest{
		ResponseID:       id,
		ActorID:          actor,
		Answers:          answers,
		ExpectedRevision: payload.ExpectedRevision,
	})
	if err != nil {
		h.writeError(w, "Submit", err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"response":      responseToJSON(resp.Response),
		"answer_count":  resp.AnswerCount,
		"overall_score": resp.OverallScore,
	}))
}

// Progress GET /survey-responses/{id}/progress
func (h *SurveyResponseHandler) Progress(w http.ResponseWriter, r *http.Request, actor, id string) {
	if _, err := h.machine.GetResponse(r.Context(), service.TransitionRequest{ResponseID: id, ActorID: actor}); err != nil {
		h.writeError(w, "Progress", err)
		return
	}
	p, err := h.progress.CompletionPercent(r.Context(), id)
	if err != nil {
		h.writeError(w, "Progress", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(p))
}

// ListAudit GET /survey-responses/{id}/audit
func (h *SurveyResponseHandler) ListAudit(w http.ResponseWriter, r *http.Request, actor, id string) {
	entries, err := h.machine.ListAudit(r.Context(), service.TransitionRequest{ResponseID: id, ActorID: actor})
	if err != nil {
		h.writeError(w, "ListAudit", err)
		return
	}
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditToJSON(e))
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// ExpireOverdue POST /survey-responses/expire
func (h *SurveyResponseHandler) ExpireOverdue(w http.ResponseWriter, r *http.Request) {
	res, err := h.machine.ExpireOverdue(r.Context())
	if err != nil {
		h.writeError(w, "ExpireOverdue", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(res))
}

// decode 解析 + 校验请求体；失败时已写响应
func (h *SurveyResponseHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := readBodyJSON(r, maxBodyBytes, out); err != nil {
		if errors.Is(err, errEmptyBody) {
			writeJSON(w, http.StatusUnprocessableEntity, Fail(err.Error()))
			return false
		}
		writeJSON(w, http.StatusUnprocessableEntity, Fail("invalid JSON body: "+err.Error()))
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		if details := validationDetails(err); details != nil {
			writeJSON(w, http.StatusUnprocessableEntity, FailWithDetails("validation failed", details))
			return false
		}
		writeJSON(w, http.StatusUnprocessableEntity, Fail("invalid input"))
		return false
	}
	return true
}

func (h *SurveyResponseHandler) answerInputs(w http.ResponseWriter, payload []answerPayload) ([]domain.AnswerInput, bool) {
	answers, details := toAnswerInputs(payload)
	if details != nil {
		writeJSON(w, http.StatusUnprocessableEntity, FailWithDetails("validation failed", details))
		return nil, false
	}
	return answers, true
}

// writeError 业务错误原样返回 message；持久化失败只返回通用信息
func (h *SurveyResponseHandler) writeError(w http.ResponseWriter, op string, err error) {
	kind := service.KindOf(err)
	status := statusForKind(kind)

	msg := err.Error()
	if e, ok := service.AsError(err); ok {
		msg = e.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
		msg = "internal server error"
		if h.debug {
			msg += ": " + err.Error()
		}
	}
	writeJSON(w, status, Fail(msg))
}
