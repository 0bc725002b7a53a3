package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nkiryanov/authcore/internal/handlers/render"
)

// Idle limiters are dropped not more often than this
const limiterCleanupInterval = 5 * time.Minute

type RateLimitConfig struct {
	// Requests allowed per window; zero disables limiting
	Requests int
	Window   time.Duration

	// Requests allowed at once, equals Requests if not set
	Burst int

	// Peers allowed to set X-Forwarded-For and X-Real-IP
	// Headers from other peers are ignored and the peer address is used
	TrustedProxies []netip.Prefix
}

// Enough for humans retyping password, too little for credential stuffing
var DefaultAuthRateLimit = RateLimitConfig{
	Requests: 10,
	Window:   time.Minute,
}

// RateLimit limits requests per client IP with token bucket
type RateLimit struct {
	config   RateLimitConfig
	limit    rate.Limit
	burst    int
	logger   logger
	limiters sync.Map // map[string]*rate.Limiter

	mu          sync.Mutex
	lastCleanup time.Time
}

func NewRateLimit(config RateLimitConfig, l logger) *RateLimit {
	burst := config.Burst
	if burst <= 0 {
		burst = config.Requests
	}

	var limit rate.Limit
	if config.Requests > 0 && config.Window > 0 {
		limit = rate.Limit(float64(config.Requests) / config.Window.Seconds())
	}

	return &RateLimit{
		config:      config,
		limit:       limit,
		burst:       burst,
		logger:      l,
		lastCleanup: time.Now(),
	}
}

func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	if rl.limit == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r, rl.config.TrustedProxies)
		limiter := rl.limiter(key)

		if !limiter.Allow() {
			// Peek when next token is available without consuming it
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			retryAfter := max(int(delay.Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			rl.logger.Info("rate limit exceeded", "ip", key, "uri", r.RequestURI, "retry_after", retryAfter)
			render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimit) limiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.limit, rl.burst))
	rl.cleanup()

	return actual.(*rate.Limiter)
}

// Drop limiters with full bucket: they were not used for a while
func (rl *RateLimit) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < limiterCleanupInterval {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// ClientIP returns remote address of the request
// Forwarding headers are honoured only when the peer is a trusted proxy.
// Then the rightmost X-Forwarded-For hop that is not a trusted proxy is the client:
// hops on the left are sent by the client itself and may be forged
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteIP(r)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		var hops []string
		for _, hop := range strings.Split(strings.Join(values, ","), ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}

		for i := len(hops) - 1; i >= 0; i-- {
			if !isTrusted(hops[i], trusted) {
				return hops[i]
			}
		}
		if len(hops) > 0 {
			return hops[0]
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return peer
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses comma separated list of CIDRs or single addresses
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix

	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}

			if strings.Contains(item, "/") {
				prefix, err := netip.ParsePrefix(item)
				if err != nil {
					return nil, err
				}
				prefixes = append(prefixes, prefix.Masked())
				continue
			}

			addr, err := netip.ParseAddr(item)
			if err != nil {
				return nil, err
			}
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}

	return prefixes, nil
}
