package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// 上传与处理在同一请求内完成，桶上限放宽到一分钟
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attachr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	httpUploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attachr_http_upload_bytes",
			Help:    "Request body size of attachment uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"route"},
	)

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attachr_http_inflight_requests",
		Help: "Number of HTTP requests being served",
	})
)

// statusRecorder 捕获状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Metrics 创建 Prometheus 指标收集中间件，按路由模式而非实际路径打标签。
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpInflight.Inc()
			defer httpInflight.Dec()

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			if r.Method == http.MethodPost && r.ContentLength > 0 {
				httpUploadBytes.WithLabelValues(route).Observe(float64(r.ContentLength))
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
