package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stylesProcessed 按样式与结果统计衍生版本的生成次数
	stylesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachr_styles_processed_total",
			Help: "Total number of style derivations",
		},
		[]string{"style", "outcome"},
	)

	// commandDuration 记录外部命令调用耗时
	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attachr_command_duration_seconds",
			Help:    "External command duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"command", "outcome"},
	)

	storageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachr_storage_operations_total",
			Help: "Total number of storage backend operations",
		},
		[]string{"backend", "op", "outcome"},
	)

	spoofedUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attachr_spoofed_uploads_total",
		Help: "Number of uploads flagged as content type spoofing",
	})
)

// Outcome 将错误折算为指标标签。
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveStyle(style string, err error) {
	stylesProcessed.WithLabelValues(style, Outcome(err)).Inc()
}

func ObserveCommand(command string, started time.Time, err error) {
	commandDuration.WithLabelValues(command, Outcome(err)).Observe(time.Since(started).Seconds())
}

func ObserveStorage(backend, op string, err error) {
	storageOperations.WithLabelValues(backend, op, Outcome(err)).Inc()
}

func IncSpoofed() {
	spoofedUploads.Inc()
}
