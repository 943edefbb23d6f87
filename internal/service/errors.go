package service

import (
	"errors"
	"fmt"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/repository"
)

// ErrorKind 业务错误分类（HTTP 层据此映射状态码）
type ErrorKind string

const (
	KindOwnershipViolation ErrorKind = "ownership_violation" // 403
	KindInvalidTransition  ErrorKind = "invalid_transition"  // 422
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded" // 429
	KindValidation         ErrorKind = "validation_error"    // 422
	KindNotFound           ErrorKind = "not_found"           // 404
	KindPersistence        ErrorKind = "persistence_failure" // 500
)

// Error 服务层错误；Message 可直接返回给调用方，Err 只进日志
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func ownershipViolation(msg string) *Error {
	return &Error{Kind: KindOwnershipViolation, Message: msg}
}

func invalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func rateLimitExceeded(msg string) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: msg}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func persistenceFailure(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// AsError 取出 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 未分类的错误按持久化失败处理
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindPersistence
}

// IsKind err 是否为指定分类
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// storeError 存储层错误 => 服务层错误；已是 *Error 的原样返回
func storeError(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(what+" not found", err)
	}
	return persistenceFailure("failed to access "+what, err)
}
