package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// authConfig holds admin credentials. Auth is off when none are set.
type authConfig struct {
	adminUsername string
	adminPassword string
	adminToken    string
	enabled       bool
}

func newAuthConfig(opts Options) *authConfig {
	enabled := (opts.AdminUsername != "" && opts.AdminPassword != "") || opts.AdminToken != ""
	if !enabled {
		slog.Warn("admin authentication not configured - admin endpoints are UNPROTECTED. Set ADMIN_TOKEN for production")
	}
	return &authConfig{
		adminUsername: opts.AdminUsername,
		adminPassword: opts.AdminPassword,
		adminToken:    opts.AdminToken,
		enabled:       enabled,
	}
}

func bearerToken(r *http.Request) string {
	if tok := r.Header.Get("X-Admin-Token"); tok != "" {
		return tok
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// adminAuth protects admin endpoints with a token (X-Admin-Token or a bearer
// Authorization header) or Basic Auth.
func adminAuth(next http.Handler, cfg *authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.adminToken != "" {
			token := bearerToken(r)
			if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.adminToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}

		if cfg.adminUsername != "" && cfg.adminPassword != "" {
			username, password, ok := r.BasicAuth()
			if ok {
				usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.adminUsername)) == 1
				passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.adminPassword)) == 1
				if usernameMatch && passwordMatch {
					next.ServeHTTP(w, r)
					return
				}
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="danmaku-reactor admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// rateLimiterConfig: a negative limit disables limiting, zero means the default of 10.
type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

func newRateLimiterConfig(opts Options) *rateLimiterConfig {
	cfg := &rateLimiterConfig{enabled: opts.RateLimit >= 0, requestsPerIP: opts.RateLimit, window: opts.RateWindow}
	if cfg.requestsPerIP == 0 {
		cfg.requestsPerIP = 10
	}
	if cfg.window <= 0 {
		cfg.window = time.Minute
	}
	return cfg
}

// ipRateLimiter admits at most requestsPerIP requests per client IP within
// a sliding window. Hits per IP are kept in arrival order.
type ipRateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	cfg  *rateLimiterConfig
	now  func() time.Time
}

func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{hits: make(map[string][]time.Time), cfg: cfg, now: time.Now}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
	return rl
}

// recent drops hits that left the window. Caller holds rl.mu.
func (rl *ipRateLimiter) recent(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.cfg.window)
	hits := rl.hits[ip]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for ip := range rl.hits {
		if len(rl.recent(ip, now)) == 0 {
			delete(rl.hits, ip)
		}
	}
}

// allow records a request from ip. A denied request reports how long until
// the oldest hit leaves the window.
func (rl *ipRateLimiter) allow(ip string) (bool, time.Duration) {
	if !rl.cfg.enabled {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	hits := rl.recent(ip, now)
	if len(hits) >= rl.cfg.requestsPerIP {
		rl.hits[ip] = hits
		return false, hits[0].Add(rl.cfg.window).Sub(now)
	}
	rl.hits[ip] = append(hits, now)
	return true, 0
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := limiter.allow(ip)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("admin rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS allows every origin when allowed is empty, otherwise only the
// listed ones ("*.example.com" matches subdomains).
func withCORS(next http.Handler, allowed []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID")
		case origin != "" && isOriginAllowed(origin, allowed):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		if domain, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}
