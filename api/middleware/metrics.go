package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics HTTP和问答指标
type Metrics struct {
	requestsCounter  *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	documentsCounter *prometheus.CounterVec
	answersCounter   *prometheus.CounterVec
}

// NewMetrics 在给定的注册器上注册指标
// activeSessions在每次采集时调用，会话过期清理后无需手动更新
func NewMetrics(reg prometheus.Registerer, activeSessions func() int) *Metrics {
	factory := promauto.With(reg)

	if activeSessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "docqa_active_sessions",
			Help: "Number of prepared sessions that have not been released or expired",
		}, func() float64 {
			return float64(activeSessions())
		})
	}

	return &Metrics{
		requestsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docqa_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		documentsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_documents_prepared_total",
				Help: "Total number of documents submitted for preparation",
			},
			[]string{"status"}, // success, failed
		),
		answersCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_answers_total",
				Help: "Total number of answered questions",
			},
			[]string{"found"},
		),
	}
}

// Handler 记录请求数和耗时的中间件
func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 使用路由模板，避免会话ID造成标签爆炸
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveDocument 记录一次文档准备结果
func (m *Metrics) ObserveDocument(err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.documentsCounter.WithLabelValues(status).Inc()
}

// ObserveAnswer 记录一次回答
func (m *Metrics) ObserveAnswer(found bool) {
	m.answersCounter.WithLabelValues(strconv.FormatBool(found)).Inc()
}
