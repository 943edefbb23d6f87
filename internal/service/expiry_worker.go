package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiryWorker 定时过期对账（EXPIRY_INTERVAL > 0 时由 evaluation-api 启动）
type ExpiryWorker struct {
	machine  *ResponseStateMachine
	interval time.Duration
	logger   *zap.Logger
}

func NewExpiryWorker(machine *ResponseStateMachine, interval time.Duration, logger *zap.Logger) *ExpiryWorker {
	return &ExpiryWorker{machine: machine, interval: interval, logger: logger}
}

// Run 启动即执行一次，之后按周期执行；ctx 取消后返回
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting expiry reconciliation", zap.Duration("interval", w.interval))

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	if _, err := w.machine.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Failed to expire overdue survey responses", zap.Error(err))
	}
}
