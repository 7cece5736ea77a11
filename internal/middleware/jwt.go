package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTOptions 配置 Bearer Token 校验。Secret 用于 HS* 签名，JWKSURL 用于非对称签名。
type JWTOptions struct {
	Secret          string
	JWKSURL         string
	RefreshInterval time.Duration
	Client          *http.Client
	Logger          *slog.Logger
}

// JWTAuthenticator 校验 Bearer Token 并以 sub 作为调用方标识。
type JWTAuthenticator struct {
	secret []byte
	jwks   *keyfunc.JWKS
	logger *slog.Logger
}

// NewJWTAuthenticator 在配置了 JWKSURL 时拉取公钥并在后台定期刷新。
func NewJWTAuthenticator(opts JWTOptions) (*JWTAuthenticator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &JWTAuthenticator{secret: []byte(opts.Secret), logger: logger}
	if opts.Secret == "" && opts.JWKSURL == "" {
		return nil, errors.New("jwt auth requires a secret or a jwks url")
	}

	if opts.JWKSURL != "" {
		interval := opts.RefreshInterval
		if interval <= 0 {
			interval = time.Hour
		}
		jwks, err := keyfunc.Get(opts.JWKSURL, keyfunc.Options{
			Client:            opts.Client,
			RefreshInterval:   interval,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("jwks refresh failed", "url", opts.JWKSURL, "error", err)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks %s: %w", opts.JWKSURL, err)
		}
		a.jwks = jwks
		logger.Info("jwks loaded", "url", opts.JWKSURL)
	}
	return a, nil
}

// Close 停止 JWKS 后台刷新。
func (a *JWTAuthenticator) Close() {
	if a != nil && a.jwks != nil {
		a.jwks.EndBackground()
	}
}

func (a *JWTAuthenticator) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(a.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return a.secret, nil
	}
	if a.jwks == nil {
		return nil, fmt.Errorf("no key for signing method %s", token.Method.Alg())
	}
	return a.jwks.Keyfunc(token)
}

// Subject 校验 token 并返回 sub。
func (a *JWTAuthenticator) Subject(ctx context.Context, raw string) (string, error) {
	token, err := jwt.Parse(raw, a.keyFor,
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// Middleware 返回 chi 兼容的鉴权中间件。
func (a *JWTAuthenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "Bearer", "missing Authorization header")
				return
			}
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, "Bearer", "invalid Authorization format, expected: Bearer <token>")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			if raw == "" {
				writeAuthError(w, "Bearer", "empty token")
				return
			}

			sub, err := a.Subject(r.Context(), raw)
			if err != nil {
				a.logger.Debug("token rejected", "error", err)
				writeAuthError(w, "Bearer", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), sub)))
		})
	}
}
