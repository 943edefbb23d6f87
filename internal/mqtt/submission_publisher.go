package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/service"
)

// Publisher 发布接口（*Client 实现，测试可替换）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// SubmissionPublisher 最终提交事件 -> MQTT
// topic: <base>/<center_id>/<survey_id>
type SubmissionPublisher struct {
	pub    Publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

func NewSubmissionPublisher(pub Publisher, topic string, qos byte, logger *zap.Logger) *SubmissionPublisher {
	return &SubmissionPublisher{pub: pub, topic: topic, qos: qos, logger: logger}
}

var _ service.SubmissionNotifier = (*SubmissionPublisher)(nil)

func (p *SubmissionPublisher) PublishSubmission(ctx context.Context, event service.SubmissionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	topic := fmt.Sprintf("%s/%d/%d", p.topic, event.CenterID, event.SurveyID)
	if err := p.pub.Publish(topic, p.qos, false, payload); err != nil {
		return err
	}

	p.logger.Debug("Published submission event",
		zap.String("topic", topic),
		zap.String("response_id", event.ResponseID))
	return nil
}
