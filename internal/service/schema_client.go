package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
)

// schemaEnvelope 问卷管理端统一返回格式 {code, type, message, result}
type schemaEnvelope struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// SchemaClient 远程问卷结构服务（管理端）客户端
type SchemaClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSchemaClient 创建问卷结构客户端
func NewSchemaClient(baseURL string, logger *zap.Logger) *SchemaClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &SchemaClient{httpClient: client, logger: logger}
}

var _ repository.SurveySchemaRepository = (*SchemaClient)(nil)

// GetSurveySchema GET /surveys/{id}/schema；404 => repository.ErrNotFound
func (c *SchemaClient) GetSurveySchema(ctx context.Context, surveyID int64) (*domain.SurveySchema, error) {
	var envelope schemaEnvelope
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprintf("%d", surveyID)).
		SetResult(&envelope).
		Get("/surveys/{id}/schema")
	if err != nil {
		c.logger.Error("Survey schema service call failed", zap.Int64("survey_id", surveyID), zap.Error(err))
		return nil, fmt.Errorf("failed to call survey schema service: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("survey %d: %w", surveyID, repository.ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("survey schema service returned HTTP %d", resp.StatusCode())
	}
	if envelope.Code != 2000 {
		return nil, fmt.Errorf("survey schema service error: %s (code: %d)", envelope.Message, envelope.Code)
	}

	var schema domain.SurveySchema
	if err := json.Unmarshal(envelope.Result, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode survey schema: %w", err)
	}
	if schema.SurveyID == 0 {
		schema.SurveyID = surveyID
	}
	return &schema, nil
}
