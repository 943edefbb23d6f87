package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// MemorySurveyStore: DB 未就绪时联测 / 单元测试用
// - 事务 = 全局锁 + 状态快照，fn 出错丢弃快照（回滚）
// - 唯一约束与 PostgreSQL 保持一致（同周期未终结答卷唯一、版本唯一）
type MemorySurveyStore struct {
	mu    sync.Mutex
	state *memorySurveyState
	now   func() time.Time
}

func NewMemorySurveyStore() *MemorySurveyStore {
	return &MemorySurveyStore{
		state: newMemorySurveyState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ SurveyStore = (*MemorySurveyStore)(nil)
	_ SurveyTx    = (*memorySurveyState)(nil)
)

// WithinTx 串行执行，成功才提交快照
func (s *MemorySurveyStore) WithinTx(ctx context.Context, fn func(tx SurveyTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	snapshot.now = s.now
	if err := fn(snapshot); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

func (s *MemorySurveyStore) read(fn func(st *memorySurveyState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.now = s.now
	return fn(s.state)
}

// write 单语句也按事务处理，失败不留半成品
func (s *MemorySurveyStore) write(ctx context.Context, fn func(tx SurveyTx) error) error {
	return s.WithinTx(ctx, fn)
}

// ---- SurveyTx (non-transactional entry points) ----

func (s *MemorySurveyStore) GetResponse(ctx context.Context, responseID string) (resp *domain.SurveyResponse, err error) {
	err = s.read(func(st *memorySurveyState) error {
		resp, err = st.GetResponse(ctx, responseID)
		return err
	})
	return resp, err
}

func (s *MemorySurveyStore) LockResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error) {
	return s.GetResponse(ctx, responseID)
}

func (s *MemorySurveyStore) LockPeriod(context.Context, domain.PeriodKey) error { return nil }

func (s *MemorySurveyStore) FindLatestResponse(ctx context.Context, key domain.PeriodKey) (resp *domain.SurveyResponse, err error) {
	err = s.read(func(st *memorySurveyState) error {
		resp, err = st.FindLatestResponse(ctx, key)
		return err
	})
	return resp, err
}

func (s *MemorySurveyStore) CreateResponse(ctx context.Context, resp *domain.SurveyResponse) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.CreateResponse(ctx, resp) })
}

func (s *MemorySurveyStore) ListResponses(ctx context.Context, filters *ResponseFilters, page, size int) (list []*domain.SurveyResponse, total int, err error) {
	err = s.read(func(st *memorySurveyState) error {
		list, total, err = st.ListResponses(ctx, filters, page, size)
		return err
	})
	return list, total, err
}

func (s *MemorySurveyStore) UpdateResponseStatus(ctx context.Context, responseID string, status domain.ResponseStatus, at time.Time) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.UpdateResponseStatus(ctx, responseID, status, at) })
}

func (s *MemorySurveyStore) TouchResponse(ctx context.Context, responseID string, at time.Time) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.TouchResponse(ctx, responseID, at) })
}

func (s *MemorySurveyStore) CompleteResponse(ctx context.Context, responseID string, c Completion) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.CompleteResponse(ctx, responseID, c) })
}

func (s *MemorySurveyStore) ExpireOverdue(ctx context.Context, current domain.Period, at time.Time) (ids []string, err error) {
	err = s.write(ctx, func(tx SurveyTx) error {
		ids, err = tx.ExpireOverdue(ctx, current, at)
		return err
	})
	return ids, err
}

func (s *MemorySurveyStore) UpsertAnswer(ctx context.Context, a domain.Answer) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.UpsertAnswer(ctx, a) })
}

func (s *MemorySurveyStore) UpsertTabularAnswers(ctx context.Context, responseID string, cells []domain.TabularAnswer) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.UpsertTabularAnswers(ctx, responseID, cells) })
}

func (s *MemorySurveyStore) DeleteAnswers(ctx context.Context, responseID string) (n int64, err error) {
	err = s.write(ctx, func(tx SurveyTx) error {
		n, err = tx.DeleteAnswers(ctx, responseID)
		return err
	})
	return n, err
}

func (s *MemorySurveyStore) InsertAnswers(ctx context.Context, responseID string, set domain.AnswerSet) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.InsertAnswers(ctx, responseID, set) })
}

func (s *MemorySurveyStore) ListAnswers(ctx context.Context, responseID string, draftOnly bool) (list []domain.Answer, err error) {
	err = s.read(func(st *memorySurveyState) error {
		list, err = st.ListAnswers(ctx, responseID, draftOnly)
		return err
	})
	return list, err
}

func (s *MemorySurveyStore) ListTabularAnswers(ctx context.Context, responseID string, draftOnly bool) (list []domain.TabularAnswer, err error) {
	err = s.read(func(st *memorySurveyState) error {
		list, err = st.ListTabularAnswers(ctx, responseID, draftOnly)
		return err
	})
	return list, err
}

func (s *MemorySurveyStore) CountAnswers(ctx context.Context, responseID string) (c AnswerCounts, err error) {
	err = s.read(func(st *memorySurveyState) error {
		c, err = st.CountAnswers(ctx, responseID)
		return err
	})
	return c, err
}

func (s *MemorySurveyStore) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	return s.write(ctx, func(tx SurveyTx) error { return tx.AppendAudit(ctx, e) })
}

func (s *MemorySurveyStore) ListAudit(ctx context.Context, responseID string) (list []*domain.AuditEntry, err error) {
	err = s.read(func(st *memorySurveyState) error {
		list, err = st.ListAudit(ctx, responseID)
		return err
	})
	return list, err
}

// ---- state ----

type memorySurveyState struct {
	responses map[string]*domain.SurveyResponse
	order     []string // response ids in creation order
	answers   map[string][]domain.Answer
	tabular   map[string][]domain.TabularAnswer
	audit     []*domain.AuditEntry
	now       func() time.Time
}

func newMemorySurveyState() *memorySurveyState {
	return &memorySurveyState{
		responses: map[string]*domain.SurveyResponse{},
		answers:   map[string][]domain.Answer{},
		tabular:   map[string][]domain.TabularAnswer{},
	}
}

func (st *memorySurveyState) clone() *memorySurveyState {
	c := newMemorySurveyState()
	for id, r := range st.responses {
		cp := *r
		c.responses[id] = &cp
	}
	c.order = append([]string(nil), st.order...)
	for id, list := range st.answers {
		c.answers[id] = append([]domain.Answer(nil), list...)
	}
	for id, list := range st.tabular {
		c.tabular[id] = append([]domain.TabularAnswer(nil), list...)
	}
	c.audit = append([]*domain.AuditEntry(nil), st.audit...)
	return c
}

func (st *memorySurveyState) timestamp() time.Time {
	if st.now != nil {
		return st.now()
	}
	return time.Now().UTC()
}

func copyResponse(r *domain.SurveyResponse) *domain.SurveyResponse {
	cp := *r
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		cp.SubmittedAt = &t
	}
	return &cp
}

func (st *memorySurveyState) GetResponse(_ context.Context, responseID string) (*domain.SurveyResponse, error) {
	r, ok := st.responses[responseID]
	if !ok {
		return nil, fmt.Errorf("survey response: %w", ErrNotFound)
	}
	return copyResponse(r), nil
}

func (st *memorySurveyState) LockResponse(ctx context.Context, responseID string) (*domain.SurveyResponse, error) {
	return st.GetResponse(ctx, responseID)
}

func (st *memorySurveyState) LockPeriod(context.Context, domain.PeriodKey) error { return nil }

func (st *memorySurveyState) FindLatestResponse(_ context.Context, key domain.PeriodKey) (*domain.SurveyResponse, error) {
	var latest *domain.SurveyResponse
	for _, r := range st.responses {
		if r.Key() != key {
			continue
		}
		if latest == nil || r.EvaluationVersion > latest.EvaluationVersion {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("latest survey response: %w", ErrNotFound)
	}
	return copyResponse(latest), nil
}

func (st *memorySurveyState) CreateResponse(_ context.Context, resp *domain.SurveyResponse) error {
	if resp == nil || resp.ResponseID == "" {
		return fmt.Errorf("response_id is required")
	}
	if _, exists := st.responses[resp.ResponseID]; exists {
		return fmt.Errorf("survey response %s: %w", resp.ResponseID, ErrConflict)
	}
	key := resp.Key()
	for _, r := range st.responses {
		if r.Key() != key {
			continue
		}
		if r.EvaluationVersion == resp.EvaluationVersion {
			return fmt.Errorf("survey response for %s v%d: %w", key, resp.EvaluationVersion, ErrConflict)
		}
		if !r.Status.IsTerminal() && !resp.Status.IsTerminal() {
			return fmt.Errorf("open survey response for %s: %w", key, ErrConflict)
		}
	}
	st.responses[resp.ResponseID] = copyResponse(resp)
	st.order = append(st.order, resp.ResponseID)
	return nil
}

func (st *memorySurveyState) ListResponses(_ context.Context, filters *ResponseFilters, page, size int) ([]*domain.SurveyResponse, int, error) {
	var matched []*domain.SurveyResponse
	for _, id := range st.order {
		r := st.responses[id]
		if filters != nil && !filters.matches(r) {
			continue
		}
		matched = append(matched, copyResponse(r))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Period() != b.Period() {
			return b.Period().Before(a.Period())
		}
		return a.EvaluationVersion > b.EvaluationVersion
	})

	total := len(matched)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*domain.SurveyResponse{}, total, nil
	}
	end := min(start+size, total)
	return matched[start:end], total, nil
}

func (f *ResponseFilters) matches(r *domain.SurveyResponse) bool {
	if f.EvaluatorID != "" && r.EvaluatorID != f.EvaluatorID {
		return false
	}
	if f.CenterID > 0 && r.CenterID != f.CenterID {
		return false
	}
	if f.SurveyID > 0 && r.SurveyID != f.SurveyID {
		return false
	}
	if f.Year > 0 && r.Year != f.Year {
		return false
	}
	if f.Month > 0 && r.Month != f.Month {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (st *memorySurveyState) mustResponse(responseID string) (*domain.SurveyResponse, error) {
	r, ok := st.responses[responseID]
	if !ok {
		return nil, fmt.Errorf("survey response: %w", ErrNotFound)
	}
	return r, nil
}

func (st *memorySurveyState) UpdateResponseStatus(_ context.Context, responseID string, status domain.ResponseStatus, at time.Time) error {
	r, err := st.mustResponse(responseID)
	if err != nil {
		return err
	}
	r.Status = status
	r.LastActivityAt = at
	r.Revision++
	return nil
}

func (st *memorySurveyState) TouchResponse(_ context.Context, responseID string, at time.Time) error {
	r, err := st.mustResponse(responseID)
	if err != nil {
		return err
	}
	r.LastActivityAt = at
	r.Revision++
	return nil
}

func (st *memorySurveyState) CompleteResponse(_ context.Context, responseID string, c Completion) error {
	r, err := st.mustResponse(responseID)
	if err != nil {
		return err
	}
	submitted := c.SubmittedAt
	r.Status = domain.StatusCompleted
	r.OverallScore = c.OverallScore
	r.CompletionPercentage = c.CompletionPercentage
	r.SubmittedAt = &submitted
	r.LastActivityAt = submitted
	r.Revision++
	return nil
}

func (st *memorySurveyState) ExpireOverdue(_ context.Context, current domain.Period, at time.Time) ([]string, error) {
	var ids []string
	for _, id := range st.order {
		r := st.responses[id]
		if r.Status.IsTerminal() || !r.Period().Before(current) {
			continue
		}
		r.Status = domain.StatusEnded
		r.LastActivityAt = at
		r.Revision++
		ids = append(ids, id)
	}
	return ids, nil
}

func (st *memorySurveyState) UpsertAnswer(_ context.Context, a domain.Answer) error {
	if _, err := st.mustResponse(a.ResponseID); err != nil {
		return err
	}
	a.UpdatedAt = st.timestamp()
	list := st.answers[a.ResponseID]
	for i := range list {
		if list[i].QuestionID == a.QuestionID {
			list[i] = a
			return nil
		}
	}
	st.answers[a.ResponseID] = append(list, a)
	return nil
}

func (st *memorySurveyState) UpsertTabularAnswers(_ context.Context, responseID string, cells []domain.TabularAnswer) error {
	if _, err := st.mustResponse(responseID); err != nil {
		return err
	}
	now := st.timestamp()
	list := st.tabular[responseID]
	for _, c := range cells {
		c.ResponseID = responseID
		c.UpdatedAt = now
		replaced := false
		for i := range list {
			if list[i].QuestionKey == c.QuestionKey {
				list[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, c)
		}
	}
	st.tabular[responseID] = list
	return nil
}

func (st *memorySurveyState) DeleteAnswers(_ context.Context, responseID string) (int64, error) {
	n := int64(len(st.answers[responseID]) + len(st.tabular[responseID]))
	delete(st.answers, responseID)
	delete(st.tabular, responseID)
	return n, nil
}

func (st *memorySurveyState) InsertAnswers(_ context.Context, responseID string, set domain.AnswerSet) error {
	if _, err := st.mustResponse(responseID); err != nil {
		return err
	}
	now := st.timestamp()
	for _, a := range set.Scalars {
		for _, existing := range st.answers[responseID] {
			if existing.QuestionID == a.QuestionID {
				return fmt.Errorf("answer %d: %w", a.QuestionID, ErrConflict)
			}
		}
		a.ResponseID = responseID
		a.UpdatedAt = now
		st.answers[responseID] = append(st.answers[responseID], a)
	}
	for _, c := range set.Tabulars {
		for _, existing := range st.tabular[responseID] {
			if existing.QuestionKey == c.QuestionKey {
				return fmt.Errorf("tabular answer %s: %w", c.QuestionKey, ErrConflict)
			}
		}
		c.ResponseID = responseID
		c.UpdatedAt = now
		st.tabular[responseID] = append(st.tabular[responseID], c)
	}
	return nil
}

func (st *memorySurveyState) ListAnswers(_ context.Context, responseID string, draftOnly bool) ([]domain.Answer, error) {
	list := []domain.Answer{}
	for _, a := range st.answers[responseID] {
		if draftOnly && !a.IsDraft {
			continue
		}
		list = append(list, a)
	}
	return list, nil
}

func (st *memorySurveyState) ListTabularAnswers(_ context.Context, responseID string, draftOnly bool) ([]domain.TabularAnswer, error) {
	list := []domain.TabularAnswer{}
	for _, a := range st.tabular[responseID] {
		if draftOnly && !a.IsDraft {
			continue
		}
		list = append(list, a)
	}
	return list, nil
}

func (st *memorySurveyState) CountAnswers(_ context.Context, responseID string) (AnswerCounts, error) {
	var c AnswerCounts
	for _, a := range st.answers[responseID] {
		if !a.IsDraft {
			c.Scalar++
		}
	}
	for _, a := range st.tabular[responseID] {
		if !a.IsDraft {
			c.Tabular++
		}
	}
	return c, nil
}

func (st *memorySurveyState) AppendAudit(_ context.Context, e *domain.AuditEntry) error {
	if e == nil || e.AuditID == "" {
		return fmt.Errorf("audit_id is required")
	}
	cp := *e
	st.audit = append(st.audit, &cp)
	return nil
}

func (st *memorySurveyState) ListAudit(_ context.Context, responseID string) ([]*domain.AuditEntry, error) {
	list := []*domain.AuditEntry{}
	for _, e := range st.audit {
		if e.ResponseID == responseID {
			cp := *e
			list = append(list, &cp)
		}
	}
	return list, nil
}
