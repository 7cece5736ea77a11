package api

import (
	"log/slog"
	"net/http"

	"attachr/internal/config"
	amiddleware "attachr/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建 HTTP 路由。auth 为 nil 时附件端点不做鉴权（AUTH_MODE=none）。
func NewRouter(cfg *config.Config, auth func(http.Handler) http.Handler, handler *AttachmentHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(amiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(amiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(amiddleware.Metrics())

	// 健康检查与指标不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if handler != nil {
		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth)
			}
			// 限流放在鉴权之后，以便按调用方计数
			r.Use(amiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			handler.RegisterRoutes(r)
		})
	}

	return r
}
