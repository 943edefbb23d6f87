package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 评估服务指标；每个实例一个 Registry，测试可以各自创建
// nil *Metrics 上的方法均为空操作
type Metrics struct {
	reg *prometheus.Registry

	responsesCreated *prometheus.CounterVec
	draftSaves       *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	submitDuration   prometheus.Histogram
	submittedAnswers prometheus.Histogram
	guardDenials     *prometheus.CounterVec
	responsesExpired prometheus.Counter
	notifyFailures   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		responsesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_responses_total",
			Help: "Create-or-resume calls by outcome (created / resumed)",
		}, []string{"outcome"}),
		draftSaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_draft_saves_total",
			Help: "Draft saves by result",
		}, []string{"result"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_submissions_total",
			Help: "Final submissions by result",
		}, []string{"result"}),
		submitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluation_submit_duration_seconds",
			Help:    "Final submission duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		submittedAnswers: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluation_submitted_answers",
			Help:    "Number of answers per final submission",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		guardDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluation_guard_denials_total",
			Help: "Requests denied by the security guard, by check",
		}, []string{"check"}),
		responsesExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_responses_expired_total",
			Help: "Responses moved to ended by expiry reconciliation",
		}),
		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "evaluation_notify_failures_total",
			Help: "Submission notifications that could not be published",
		}),
	}
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry 测试里用 testutil 读取
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ResponseOpened(resumed bool) {
	if m == nil {
		return
	}
	outcome := "created"
	if resumed {
		outcome = "resumed"
	}
	m.responsesCreated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DraftSaved(err error) {
	if m == nil {
		return
	}
	m.draftSaves.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Submitted(err error, answers int, started time.Time) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result(err)).Inc()
	m.submitDuration.Observe(time.Since(started).Seconds())
	if err == nil {
		m.submittedAnswers.Observe(float64(answers))
	}
}

func (m *Metrics) GuardDenied(check string) {
	if m == nil {
		return
	}
	m.guardDenials.WithLabelValues(check).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.responsesExpired.Add(float64(n))
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
