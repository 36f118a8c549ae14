package api

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/innernet-go/meshnet/internal/store"
)

// loggingMiddleware logs every request with method, path, status, and
// duration, and counts it by route and status in
// meshnet_http_requests_total, matching how the rest of the pack labels
// per-route counters with GetOrCreateCounter rather than a fixed var set.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}

		next.ServeHTTP(sw, r)

		metrics.GetOrCreateCounter(fmt.Sprintf(
			`meshnet_http_requests_total{route=%q,status="%d"}`, r.URL.Path, sw.status,
		)).Inc()

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// auditMiddleware logs mutations (POST, PUT, PATCH, DELETE) to the
// audit_log table, identifying the caller by peer name instead of a
// client certificate CN (this system authenticates by header, not
// mTLS). The caller identity is looked up the same way the handlers
// resolve it — by source transport address — so a request from an address
// with no matching peer is still audited, with an empty peer name.
// Requests rejected by the network-key check or the rate limiter never
// reach this middleware and are not audited.
func auditMiddleware(db *store.DB, peers *store.PeerStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut &&
				r.Method != http.MethodPatch && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			var bodyHash string
			if r.Body != nil {
				bodyBytes, err := io.ReadAll(r.Body)
				if err == nil && len(bodyBytes) > 0 {
					hash := sha256.Sum256(bodyBytes)
					bodyHash = fmt.Sprintf("%x", hash[:8])
					r.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))
				}
			}

			peerName := ""
			if caller, err := resolveCaller(peers, r); err == nil {
				peerName = caller.Name
			}
			sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)

			sw := &statusWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(sw, r)

			result := "ok"
			errMsg := ""
			if sw.status >= 400 {
				result = "error"
				errMsg = fmt.Sprintf("HTTP %d", sw.status)
			}

			if err := db.WriteAuditLog(peerName, sourceIP, r.Method, r.URL.Path, bodyHash, result, errMsg); err != nil {
				slog.Error("failed to write audit log", "error", err)
			}
		})
	}
}

// rateLimiter is a simple per-IP fixed-window rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup()
		}
	}()
	return rl
}

func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, v := range rl.visitors {
		if now.After(v.resetAt) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)
		if ip == "" {
			ip = r.RemoteAddr
		}

		rl.mu.Lock()
		v, exists := rl.visitors[ip]
		now := time.Now()
		if !exists || now.After(v.resetAt) {
			rl.visitors[ip] = &visitor{count: 1, resetAt: now.Add(rl.window)}
			rl.mu.Unlock()
			next.ServeHTTP(w, r)
			return
		}

		v.count++
		if v.count > rl.rate {
			rl.mu.Unlock()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(v.resetAt.Sub(now).Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		rl.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// networkKeyMiddleware rejects any request that does not present the
// server's own public key in the network header.
func networkKeyMiddleware(serverPublicKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checkNetworkKey(r, serverPublicKey) {
				writeError(w, http.StatusUnauthorized, "missing or invalid network key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter wraps ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
