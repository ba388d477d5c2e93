// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AnonymousUser owns sessions created without a bearer token.
const AnonymousUser = "anonymous"

type ctxKey int

const userKey ctxKey = iota

// UserFrom returns the authenticated user for the request.
func UserFrom(ctx context.Context) string {
	if u, ok := ctx.Value(userKey).(string); ok {
		return u
	}
	return AnonymousUser
}

// ============================================================================
// Auth
// ============================================================================

// AuthConfig maps bearer tokens to user ids.
type AuthConfig struct {
	// Tokens maps token -> user id
	Tokens map[string]string

	// AllowAnonymous admits requests without an Authorization header as AnonymousUser.
	AllowAnonymous bool
}

// DefaultAuthConfig admits anonymous requests and knows no tokens.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{Tokens: map[string]string{}, AllowAnonymous: true}
}

// lookup finds the user for token using constant-time comparison.
func (c *AuthConfig) lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for known, user := range c.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
			return user, true
		}
	}
	return "", false
}

// AuthMiddleware resolves the caller's user id. Unknown tokens get 401.
func AuthMiddleware(config *AuthConfig, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if !config.AllowAnonymous {
					log.Info().Str("ip", GetClientIP(r)).Str("reason", "missing_auth_header").Msg("auth denied")
					writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, AnonymousUser)))
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				log.Info().Str("ip", GetClientIP(r)).Str("reason", "invalid_auth_format").Msg("auth denied")
				writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}
			user, ok := config.lookup(token)
			if !ok {
				log.Info().Str("ip", GetClientIP(r)).Str("reason", "invalid_token").Msg("auth denied")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// ============================================================================
// Rate Limiting
// ============================================================================

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond requests per client with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// DefaultRateLimiter allows 50 requests per second with a burst of 100.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(50, 100)
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[ip] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// RateLimitMiddleware answers 429 when a client exceeds its bucket.
func RateLimitMiddleware(limiter *RateLimiter, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			if !limiter.Allow(ip) {
				log.Warn().Str("ip", ip).Msg("rate limit exceeded")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Failure Injection
// ============================================================================

// Faults makes the next N API requests fail with a fixed status.
type Faults struct {
	mu        sync.Mutex
	status    int
	remaining int
}

// Inject fails the next n /api requests with status.
func (f *Faults) Inject(status, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.remaining = n
}

func (f *Faults) take() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}

// FaultMiddleware applies injected failures to /api routes.
func FaultMiddleware(faults *Faults) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				if status, ok := faults.take(); ok {
					writeError(w, status, "injected", "injected failure")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Logging and Recovery
// ============================================================================

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Interface("panic", err).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, "internal", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chain composes middlewares; the first one runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// GetClientIP returns the remote IP without the port. Forwarding headers are
// ignored; the dev server is not meant to sit behind a proxy.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
