package security

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/config"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/domain"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/metrics"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/store"
)

// 受限动作名（计数器 key 与 metrics label 共用）
const (
	ActionCreate = "create"
	ActionDraft  = "draft_save"
	ActionSubmit = "submit"
)

// 检查项名称
const (
	CheckDailySubmission = "daily_submission"
	CheckActionRate      = "action_rate"
	CheckDuplicate       = "duplicate"
)

// AuditWriter 审计写入方（事务内传 tx，否则传 store）
type AuditWriter interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
}

// Guard 限流 / 防重复提交 / 文本清洗 / 审计与安全日志
type Guard struct {
	counter store.Counter
	cfg     config.GuardConfig
	log     *zap.Logger
	debug   bool
	metrics *metrics.Metrics
	policy  *bluemonday.Policy
	newID   func() string
}

// NewGuard log 为 nil 时不输出安全日志
func NewGuard(counter store.Counter, cfg config.GuardConfig, log *zap.Logger, debug bool, m *metrics.Metrics) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{
		counter: counter,
		cfg:     cfg,
		log:     log.Named("security"),
		debug:   debug,
		metrics: m,
		policy:  bluemonday.StrictPolicy(),
		newID:   func() string { return uuid.New().String() },
	}
}

// Config 当前限流参数
func (g *Guard) Config() config.GuardConfig {
	return g.cfg
}

func dailyKey(actor string, now time.Time) string {
	return fmt.Sprintf("submit:daily:%s:%s", actor, now.UTC().Format("20060102"))
}

// windowKey 固定窗口：key 带窗口序号，窗口切换即换 key
func windowKey(kind, action, actor string, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Second
	}
	return fmt.Sprintf("%s:%s:%s:%d", kind, action, actor, now.UnixNano()/int64(window))
}

// CheckDailySubmissionLimit 只读：今日已提交次数是否已达上限
func (g *Guard) CheckDailySubmissionLimit(ctx context.Context, actor string, now time.Time) (bool, error) {
	if g.cfg.DailySubmissionLimit <= 0 {
		return true, nil
	}
	n, err := g.counter.Peek(ctx, dailyKey(actor, now))
	if err != nil {
		return false, fmt.Errorf("failed to read daily submission counter: %w", err)
	}
	if n >= g.cfg.DailySubmissionLimit {
		g.deny(CheckDailySubmission, actor, zap.Int64("count", n), zap.Int64("limit", g.cfg.DailySubmissionLimit))
		return false, nil
	}
	return true, nil
}

// ReserveDailySubmission 原子地占用一次今日提交额度；超限立即归还
// 提交失败时调用方必须用同一个 now 调 ReleaseDailySubmission
func (g *Guard) ReserveDailySubmission(ctx context.Context, actor string, now time.Time) (bool, error) {
	if g.cfg.DailySubmissionLimit <= 0 {
		return true, nil
	}
	key := dailyKey(actor, now)
	n, allowed, err := g.counter.IncrementAndCheck(ctx, key, g.cfg.DailySubmissionLimit, 25*time.Hour)
	if err != nil {
		return false, fmt.Errorf("failed to reserve daily submission: %w", err)
	}
	if !allowed {
		if err := g.counter.Decrement(ctx, key); err != nil {
			g.log.Warn("failed to release rejected daily reservation", zap.String("actor_id", actor), zap.Error(err))
		}
		g.deny(CheckDailySubmission, actor, zap.Int64("count", n-1), zap.Int64("limit", g.cfg.DailySubmissionLimit))
		return false, nil
	}
	return true, nil
}

// ReleaseDailySubmission 归还 ReserveDailySubmission 占用的额度
func (g *Guard) ReleaseDailySubmission(ctx context.Context, actor string, now time.Time) {
	if g.cfg.DailySubmissionLimit <= 0 {
		return
	}
	if err := g.counter.Decrement(ctx, dailyKey(actor, now)); err != nil {
		g.log.Warn("failed to release daily submission", zap.String("actor_id", actor), zap.Error(err))
	}
}

// CheckActionRateLimit 固定窗口计数，窗口内超过 maxAttempts 即拒绝
func (g *Guard) CheckActionRateLimit(ctx context.Context, action, actor string, window time.Duration, maxAttempts int64, now time.Time) (bool, error) {
	return g.checkWindow(ctx, CheckActionRate, "rate", action, actor, window, maxAttempts, now)
}

// CheckDuplicateLimit 防重复提交（双击 / 客户端重试），如每人每 10s 最多 1 次 submit
func (g *Guard) CheckDuplicateLimit(ctx context.Context, action, actor string, maxCount int64, window time.Duration, now time.Time) (bool, error) {
	return g.checkWindow(ctx, CheckDuplicate, "dup", action, actor, window, maxCount, now)
}

func (g *Guard) checkWindow(ctx context.Context, check, kind, action, actor string, window time.Duration, limit int64, now time.Time) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	n, allowed, err := g.counter.IncrementAndCheck(ctx, windowKey(kind, action, actor, now, window), limit, window)
	if err != nil {
		return false, fmt.Errorf("failed to check %s limit: %w", check, err)
	}
	if !allowed {
		g.deny(check, actor,
			zap.String("action", action),
			zap.Int64("count", n),
			zap.Int64("limit", limit),
			zap.Duration("window", window))
	}
	return allowed, nil
}

func (g *Guard) deny(check, actor string, fields ...zap.Field) {
	g.metrics.GuardDenied(check)
	g.LogSecurityEvent("rate_limit_exceeded", append([]zap.Field{
		zap.String("check", check),
		zap.String("actor_id", actor),
	}, fields...)...)
}

// CreateAuditEntry 写一条业务审计；w 传事务则随事务提交 / 回滚
func (g *Guard) CreateAuditEntry(ctx context.Context, w AuditWriter, action, responseID, actor string, metadata map[string]any, now time.Time) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{
		AuditID:    g.newID(),
		Action:     action,
		ResponseID: responseID,
		ActorID:    actor,
		Metadata:   metadata,
		CreatedAt:  now,
	}
	if err := w.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to write audit %s: %w", action, err)
	}
	return entry, nil
}

// LogSecurityEvent 安全事件（非审计）：拒绝、异常
// 堆栈只在 debug 模式下附带
func (g *Guard) LogSecurityEvent(event string, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("event", event)}, fields...)
	if g.debug {
		fields = append(fields, zap.Stack("stack"))
	}
	g.log.Warn("security event", fields...)
}

// SanitizeAnswerText 去控制字符、去 HTML 标签、首尾空白、截断；< & ' 等普通字符原样保留
func (g *Guard) SanitizeAnswerText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)

	// 策略输出是 HTML 转义文本，存库的是纯文本，先还原再截断
	text = strings.TrimSpace(html.UnescapeString(g.policy.Sanitize(text)))

	if limit := g.cfg.AnswerMaxLength; limit > 0 && utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:limit]))
	}
	return text
}
