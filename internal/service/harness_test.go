package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/config"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/security"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/store"
)

const (
	evaluator = "evaluator-e"
	intruder  = "evaluator-x"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []SubmissionEvent
	err    error
}

func (n *fakeNotifier) PublishSubmission(_ context.Context, e SubmissionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

type harness struct {
	store    repository.SurveyStore
	mem      *repository.MemorySurveyStore
	schemas  *repository.MemorySurveySchemaRepository
	guard    *security.Guard
	machine  *ResponseStateMachine
	answers  *AnswerStore
	progress *ProgressCalculator
	submit   *BulkSubmissionCoordinator
	notifier *fakeNotifier
	metrics  *metrics.Metrics
	clock    *testClock
}

func defaultGuardConfig() config.GuardConfig {
	return config.GuardConfig{
		DailySubmissionLimit:  10,
		DraftRateLimit:        100,
		DraftRateWindow:       time.Minute,
		SubmitDuplicateWindow: 0,
		AnswerMaxLength:       5000,
	}
}

func newHarness(t *testing.T, cfg config.GuardConfig) *harness {
	t.Helper()
	mem := repository.NewMemorySurveyStore()
	return newHarnessWithStore(t, cfg, mem, mem)
}

func newHarnessWithStore(t *testing.T, cfg config.GuardConfig, st repository.SurveyStore, mem *repository.MemorySurveyStore) *harness {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.New()
	clock := &testClock{now: time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)}

	schemas := repository.NewMemorySurveySchemaRepository()
	guard := security.NewGuard(store.NewMemoryCounter(), cfg, logger, false, m)
	machine := NewResponseStateMachine(st, guard, m, logger)
	answers := NewAnswerStore(st, machine, guard, m, logger)
	progress := NewProgressCalculator(st, schemas, logger)
	notifier := &fakeNotifier{}
	submit := NewBulkSubmissionCoordinator(st, answers, progress, guard, m, notifier, logger)

	machine.now = clock.Now
	answers.now = clock.Now
	submit.now = clock.Now

	return &harness{
		store:    st,
		mem:      mem,
		schemas:  schemas,
		guard:    guard,
		machine:  machine,
		answers:  answers,
		progress: progress,
		submit:   submit,
		notifier: notifier,
		metrics:  m,
		clock:    clock,
	}
}

func answer(t *testing.T, questionID, text string, score float64) domain.AnswerInput {
	t.Helper()
	kind, err := domain.ParseQuestionID(questionID)
	require.NoError(t, err)
	return domain.AnswerInput{Kind: kind, Answer: text, Score: score}
}

func (h *harness) create(t *testing.T, center, survey int64, actor string) *domain.SurveyResponse {
	t.Helper()
	out, err := h.machine.CreateOrResume(context.Background(), CreateOrResumeRequest{CenterID: center, SurveyID: survey, ActorID: actor})
	require.NoError(t, err)
	return out.Response
}

func (h *harness) auditActions(t *testing.T, responseID string) []string {
	t.Helper()
	entries, err := h.store.ListAudit(context.Background(), responseID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), err.Error())
}

// failingCompleteStore 事务内 CompleteResponse 失败，用于验证整体回滚
type failingCompleteStore struct {
	*repository.MemorySurveyStore
}

type failingCompleteTx struct {
	repository.SurveyTx
}

var errDiskFull = errors.New("disk full")

func (failingCompleteTx) CompleteResponse(context.Context, string, repository.Completion) error {
	return errDiskFull
}

func (s failingCompleteStore) WithinTx(ctx context.Context, fn func(tx repository.SurveyTx) error) error {
	return s.MemorySurveyStore.WithinTx(ctx, func(tx repository.SurveyTx) error {
		return fn(failingCompleteTx{tx})
	})
}
