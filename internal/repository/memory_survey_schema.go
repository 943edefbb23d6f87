package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
)

// MemorySurveySchemaRepository 问卷结构（内存版，联测 / 测试用）
type MemorySurveySchemaRepository struct {
	mu      sync.RWMutex
	schemas map[int64]*domain.SurveySchema
}

func NewMemorySurveySchemaRepository(schemas ...*domain.SurveySchema) *MemorySurveySchemaRepository {
	r := &MemorySurveySchemaRepository{schemas: map[int64]*domain.SurveySchema{}}
	for _, s := range schemas {
		r.Put(s)
	}
	return r
}

var _ SurveySchemaRepository = (*MemorySurveySchemaRepository)(nil)

// Put 覆盖同 survey_id 的结构
func (r *MemorySurveySchemaRepository) Put(s *domain.SurveySchema) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.SurveyID] = s
}

func (r *MemorySurveySchemaRepository) GetSurveySchema(_ context.Context, surveyID int64) (*domain.SurveySchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[surveyID]
	if !ok {
		return nil, fmt.Errorf("survey %d: %w", surveyID, ErrNotFound)
	}
	return s, nil
}
