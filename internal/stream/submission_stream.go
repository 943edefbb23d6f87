package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/service"
)

// EventSurveySubmitted 消息中的 event_type
const EventSurveySubmitted = "survey_submitted"

// Adder *redis.Client 满足该接口
type Adder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// SubmissionStreamPublisher 提交事件写入 Redis Stream，供下游消费者组读取
// 消息字段：event_type / response_id / data(JSON) / timestamp
type SubmissionStreamPublisher struct {
	client Adder
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewSubmissionStreamPublisher maxLen <= 0 表示不裁剪
func NewSubmissionStreamPublisher(client Adder, stream string, maxLen int64, logger *zap.Logger) *SubmissionStreamPublisher {
	return &SubmissionStreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

var _ service.SubmissionNotifier = (*SubmissionStreamPublisher)(nil)

func (p *SubmissionStreamPublisher) PublishSubmission(ctx context.Context, event service.SubmissionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type":  EventSurveySubmitted,
			"response_id": event.ResponseID,
			"data":        string(data),
			"timestamp":   event.SubmittedAt.Unix(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("Published submission event to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("response_id", event.ResponseID))
	return nil
}
