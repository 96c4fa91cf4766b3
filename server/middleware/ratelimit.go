package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	nerrors "github.com/kbukum/nodegraph/errors"
)

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// RateLimit applies a token bucket per client address. Rejected requests get
// 429 with a RESOURCE_EXHAUSTED body.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond) + 1
	}
	l := &clientLimiter{cfg: cfg, clients: make(map[string]*client)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientKey(r)) {
				exhausted := nerrors.New(nerrors.CategoryResourceExhausted, "Too many requests.").
					WithHint("Slow down polling or raise server.rate_limit.")
				exhausted.Retryable = true
				writeJSON(w, http.StatusTooManyRequests, exhausted.ToResponse())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type client struct {
	limiter *rate.Limiter
	seen    time.Time
}

type clientLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*client
	swept   time.Time
}

const clientIdle = 5 * time.Minute

func (l *clientLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > clientIdle {
		for k, c := range l.clients {
			if now.Sub(c.seen) > clientIdle {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.limiter.AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
