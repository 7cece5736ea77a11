package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET,POST,DELETE,OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-API-Key, X-Requested-With"
	corsExposeHeaders = "X-Request-Id, Retry-After"
)

// CORS 生成允许指定来源访问的跨域中间件，"*" 表示任意来源（不携带凭据）。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		value := strings.TrimRight(strings.TrimSpace(origin), "/")
		switch value {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[value] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			allowedOrigin := ""
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					allowedOrigin = origin
				} else if allowAll {
					allowedOrigin = "*"
				}
			}
			if allowedOrigin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			if allowedOrigin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			// 预检请求
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
