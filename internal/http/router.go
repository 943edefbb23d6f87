package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while serving request",
				zap.Any("panic", rec),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Stack("stack"))
			writeJSON(w, http.StatusInternalServerError, Fail("internal server error"))
		}
	}()

	start := time.Now()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("HTTP request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)))
}

// RegisterSurveyResponseRoutes 注册答卷路由
func (r *Router) RegisterSurveyResponseRoutes(h *SurveyResponseHandler) {
	r.HandleHandler(surveyResponsesPath, h)
	r.HandleHandler(surveyResponsesPath+"/", h)
}

// RegisterOpsRoutes 健康检查与指标
func (r *Router) RegisterOpsRoutes(metrics http.Handler) {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	if metrics != nil {
		r.HandleHandler("/metrics", metrics)
	}
}
