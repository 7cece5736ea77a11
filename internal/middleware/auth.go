package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

type principalKey struct{}

// WithPrincipal 将鉴权后的调用方标识存入 context。
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal 返回鉴权后的调用方标识，未鉴权时为空串。
func Principal(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey{}).(string); ok {
		return v
	}
	return ""
}

// APIKeyAuth 创建 API Key 鉴权中间件。
// 接受 Authorization: ApiKey <token> 或 X-API-Key: <token>。
// 调用方标识为 key 的 SHA-256 前缀，避免明文 key 进入日志与限流表。
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	var keys [][]byte
	for _, key := range validKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, msg := extractAPIKey(r)
			if msg != "" {
				writeAuthError(w, "ApiKey", msg)
				return
			}

			matched := false
			for _, k := range keys {
				if subtle.ConstantTimeCompare(k, []byte(apiKey)) == 1 {
					matched = true
				}
			}
			if !matched {
				writeAuthError(w, "ApiKey", "invalid API key")
				return
			}

			sum := sha256.Sum256([]byte(apiKey))
			ctx := WithPrincipal(r.Context(), "key:"+hex.EncodeToString(sum[:6]))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing Authorization header"
	}
	const prefix = "ApiKey "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid Authorization format, expected: ApiKey <token>"
	}
	key := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if key == "" {
		return "", "empty API key"
	}
	return key, ""
}

func writeAuthError(w http.ResponseWriter, scheme, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", scheme+` realm="attachr"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
