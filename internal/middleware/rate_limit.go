package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit 限制同一调用方的请求速率：每个 window 补充 maxRequests 个令牌，突发上限为 maxRequests。
// 已鉴权的请求按调用方标识计数，否则按来源 IP。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newKeyedLimiter(maxRequests, window, time.Now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := limiter.allow(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter 为每个 key 维护一个令牌桶，长时间未出现的 key 定期清理。
type keyedLimiter struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	entries         map[string]*limiterEntry
	entryTTL        time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

func newKeyedLimiter(maxRequests int, window time.Duration, now func() time.Time) *keyedLimiter {
	ttl := 2 * window
	if ttl < 15*time.Minute {
		ttl = 15 * time.Minute
	}
	return &keyedLimiter{
		limit:           rate.Every(window / time.Duration(maxRequests)),
		burst:           maxRequests,
		entries:         make(map[string]*limiterEntry),
		entryTTL:        ttl,
		cleanupInterval: 5 * time.Minute,
		lastCleanup:     now(),
		now:             now,
	}
}

// allow 返回是否放行；拒绝时同时返回需要等待的时长。
func (l *keyedLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupInterval {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.entryTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// clientKey 只使用 RemoteAddr；代理头已由 RealIP 中间件处理。
func clientKey(r *http.Request) string {
	if p := Principal(r.Context()); p != "" {
		return "principal:" + p
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
