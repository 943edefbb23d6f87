package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// dbtx *sql.DB 与 *sql.Tx 的公共子集
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// postgresSurveyQueries 所有 SQL 都挂在这里，绑定 db 或 tx
type postgresSurveyQueries struct {
	q dbtx
}

// PostgresSurveyStore 答卷存储（PostgreSQL 实现）
type PostgresSurveyStore struct {
	db *sql.DB
	*postgresSurveyQueries
}

// NewPostgresSurveyStore 创建答卷存储
func NewPostgresSurveyStore(db *sql.DB) *PostgresSurveyStore {
	return &PostgresSurveyStore{
		db:                    db,
		postgresSurveyQueries: &postgresSurveyQueries{q: db},
	}
}

// 确保实现了接口
var (
	_ SurveyStore = (*PostgresSurveyStore)(nil)
	_ SurveyTx    = (*postgresSurveyQueries)(nil)
)

// WithinTx fn 返回错误即回滚
func (s *PostgresSurveyStore) WithinTx(ctx context.Context, fn func(tx SurveyTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresSurveyQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const (
	pqUniqueViolation = "23505"
	pqInvalidText     = "22P02" // e.g. malformed uuid
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// mapReadErr sql.ErrNoRows / 非法 uuid => ErrNotFound
func mapReadErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pqInvalidText {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
