package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/service"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.messages = append(f.messages, published{topic, qos, retained, payload})
	return f.err
}

func TestSubmissionPublisher_PublishSubmission(t *testing.T) {
	pub := &fakePublisher{}
	p := NewSubmissionPublisher(pub, "evaluation/survey-responses/submitted", 1, zap.NewNop())

	at := time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)
	err := p.PublishSubmission(context.Background(), service.SubmissionEvent{
		ResponseID:        "resp-1",
		CenterID:          5,
		SurveyID:          2,
		Year:              2024,
		Month:             5,
		EvaluationVersion: 1,
		EvaluatorID:       "evaluator-e",
		OverallScore:      10,
		AnswerCount:       2,
		SubmittedAt:       at,
	})
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "evaluation/survey-responses/submitted/5/2", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "resp-1", body["response_id"])
	assert.Equal(t, 10.0, body["overall_score"])
	assert.Equal(t, "2024-05-10T09:00:00Z", body["submitted_at"])
}

func TestSubmissionPublisher_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	p := NewSubmissionPublisher(pub, "t", 0, zap.NewNop())

	err := p.PublishSubmission(context.Background(), service.SubmissionEvent{ResponseID: "r"})
	assert.EqualError(t, err, "not connected")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.PublishSubmission(ctx, service.SubmissionEvent{ResponseID: "r"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, pub.messages, 1)
}
