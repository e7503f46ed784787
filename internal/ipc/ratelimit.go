package ipc

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/midstream/internal/domain"
)

// RateLimitConfig bounds request rates per client address.
type RateLimitConfig struct {
	// MaxPerWindow is the number of requests a client may make per window.
	MaxPerWindow int
	// Window is the length of the sliding window.
	Window time.Duration
	// BlockAfter is the number of denied filesystem operations before a
	// client is blocked outright.
	BlockAfter int
	// BlockTime is the base block duration. It doubles with each repeat
	// offense, capped at 24 hours.
	BlockTime time.Duration
}

// DefaultRateLimitConfig returns the stock limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 60,
		Window:       time.Minute,
		BlockAfter:   10,
		BlockTime:    5 * time.Minute,
	}
}

type checkResult struct {
	allowed    bool
	retryAfter time.Duration
	blocked    bool
}

// limiter tracks request timestamps per client in a sliding window. Clients
// that keep triggering sandbox denials are blocked outright for increasing
// durations.
type limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	attempts  map[string][]time.Time
	failures  map[string]int
	blocked   map[string]time.Time
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BlockAfter <= 0 {
		cfg.BlockAfter = 10
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 5 * time.Minute
	}
	return &limiter{
		cfg:      cfg,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// check records one request for ip and reports whether it may proceed.
func (l *limiter) check(ip string) checkResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	if until, ok := l.blocked[ip]; ok {
		if now.Before(until) {
			return checkResult{retryAfter: until.Sub(now), blocked: true}
		}
		delete(l.blocked, ip)
		delete(l.failures, ip)
	}

	cutoff := now.Add(-l.cfg.Window)
	var recent []time.Time
	for _, t := range l.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.cfg.MaxPerWindow {
		l.attempts[ip] = recent
		return checkResult{retryAfter: recent[0].Sub(cutoff)}
	}
	l.attempts[ip] = append(recent, now)
	return checkResult{allowed: true}
}

// recordDenial notes a denied filesystem operation for ip. Once enough
// accumulate the client is blocked, and the block length doubles with every
// further BlockAfter denials.
func (l *limiter) recordDenial(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[ip]++
	count := l.failures[ip]
	if count < l.cfg.BlockAfter {
		return
	}

	repeats := (count - l.cfg.BlockAfter) / l.cfg.BlockAfter
	if repeats > 8 {
		repeats = 8
	}
	d := l.cfg.BlockTime * time.Duration(1<<repeats)
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	l.blocked[ip] = l.now().Add(d)
}

// sweepLocked drops stale entries. Runs at most once per window.
func (l *limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.cfg.Window)
	for ip, ts := range l.attempts {
		var recent []time.Time
		for _, t := range ts {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(l.attempts, ip)
			continue
		}
		l.attempts[ip] = recent
	}
	for ip, until := range l.blocked {
		if now.After(until) {
			delete(l.blocked, ip)
			delete(l.failures, ip)
		}
	}
	for ip := range l.failures {
		_, active := l.attempts[ip]
		_, isBlocked := l.blocked[ip]
		if !active && !isBlocked {
			delete(l.failures, ip)
		}
	}
}

// extractIP pulls the client address from proxy headers, falling back to the
// connection's remote address.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects clients over their request budget and counts
// sandbox denials toward escalating blocks.
func rateLimitMiddleware(l *limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		res := l.check(ip)
		if !res.allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.retryAfter.Seconds())+1))
			msg := domain.ErrRateLimitExceeded.Message
			if res.blocked {
				msg = "client blocked after repeated denied operations"
			}
			writeJSON(w, http.StatusTooManyRequests, APIError{
				Code:    domain.ErrRateLimitExceeded.Code,
				Message: msg,
			})
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status == http.StatusForbidden {
			l.recordDenial(ip)
		}
	})
}

// statusRecorder captures the response status so the middleware can see
// sandbox denials after the handler runs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
