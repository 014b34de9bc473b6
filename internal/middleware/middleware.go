package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// RateLimiterStore keeps one token bucket per client IP. Entries idle past
// the TTL are swept opportunistically on lookup.
type RateLimiterStore struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiterStore(limit rate.Limit, burst int, ttl time.Duration) *RateLimiterStore {
	return &RateLimiterStore{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
	}
}

func (s *RateLimiterStore) getLimiter(key string) *rate.Limiter {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}

	for k, v := range s.clients {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.clients, k)
		}
	}
	return limiter
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware emits one structured line per completed request.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lrw, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lrw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// CORSMiddleware allows any origin so buyer tooling can call the API from a
// browser context.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Dry-Run")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware applies per-IP rate limiting.
func RateLimitMiddleware(store *RateLimiterStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := clientIPFromRequest(r)
			limiter := store.getLimiter(clientIP)
			if !limiter.Allow() {
				slog.Default().Warn("rate limit exceeded", "client_ip", clientIP, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Rate limit exceeded","code":"RATE_LIMIT_EXCEEDED"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBodySize caps request body reads.
func LimitBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// JWTClaims is the bearer-token claim set: registered claims plus the
// buyer's permission grants per resource.
type JWTClaims struct {
	jwt.RegisteredClaims
	Permissions struct {
		Products  []string `json:"products,omitempty"`
		MediaBuys []string `json:"media_buys,omitempty"`
		Creatives []string `json:"creatives,omitempty"`
		Reports   []string `json:"reports,omitempty"`
	} `json:"permissions,omitempty"`
}

// Authenticator resolves request credentials into a principal. Two schemes
// are accepted: an X-API-Key header checked against the key store, and a
// bearer JWT whose subject is resolved against the stored principal records.
type Authenticator struct {
	jwtSecret string
	keys      *auth.APIKeyStore
	logger    *slog.Logger
}

func NewAuthenticator(jwtSecret string, keys *auth.APIKeyStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{jwtSecret: jwtSecret, keys: keys, logger: logger}
}

// Require rejects requests that do not carry valid credentials.
func (a *Authenticator) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withDryRun(r)
			principal, code, msg := a.resolve(r)
			if code != "" {
				sendAuthError(w, code, msg, a.logger)
				return
			}
			ctx := context.WithValue(r.Context(), auth.ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional attaches a principal when credentials are present and passes
// anonymous requests through untouched. Discovery endpoints use this: the
// catalog is browsable without credentials, but presented credentials must
// still be valid.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = withDryRun(r)
			if r.Header.Get("X-API-Key") == "" && r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal, code, msg := a.resolve(r)
			if code != "" {
				sendAuthError(w, code, msg, a.logger)
				return
			}
			ctx := context.WithValue(r.Context(), auth.ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolve returns the authenticated principal, or an error code and message
// when the request's credentials are missing or invalid.
func (a *Authenticator) resolve(r *http.Request) (*auth.Principal, string, string) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		principal, ok := a.keys.GetPrincipal(apiKey)
		if !ok {
			return nil, "AUTH_INVALID", "Invalid or expired credentials"
		}
		return principal, "", ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "AUTH_REQUIRED", "Authentication required for this operation"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, "AUTH_INVALID", "Invalid authorization header format"
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		a.logger.Debug("JWT validation failed", "error", err, "path", r.URL.Path)
		return nil, "AUTH_INVALID", "Invalid or expired credentials"
	}

	return a.principalForClaims(claims), "", ""
}

// principalForClaims maps a verified token onto a principal. The subject is
// resolved against the stored principal records so bearer-token callers keep
// their platform mappings; permission grants carried in the token take
// precedence over the stored ones. An unknown subject yields a claims-only
// principal with no mappings.
func (a *Authenticator) principalForClaims(claims *JWTClaims) *auth.Principal {
	perms := make(map[string][]auth.Permission)
	if len(claims.Permissions.Products) > 0 {
		perms["products"] = toPermissions(claims.Permissions.Products)
	}
	if len(claims.Permissions.MediaBuys) > 0 {
		perms["media_buys"] = toPermissions(claims.Permissions.MediaBuys)
	}
	if len(claims.Permissions.Creatives) > 0 {
		perms["creatives"] = toPermissions(claims.Permissions.Creatives)
	}
	if len(claims.Permissions.Reports) > 0 {
		perms["reports"] = toPermissions(claims.Permissions.Reports)
	}

	if stored, ok := a.keys.PrincipalByID(claims.Subject); ok {
		p := *stored
		if len(perms) > 0 {
			p.Permissions = perms
		}
		return &p
	}
	return &auth.Principal{
		PrincipalID: claims.Subject,
		Permissions: perms,
	}
}

func toPermissions(perms []string) []auth.Permission {
	result := make([]auth.Permission, 0, len(perms))
	for _, p := range perms {
		result = append(result, auth.Permission(p))
	}
	return result
}

func withDryRun(r *http.Request) *http.Request {
	if strings.EqualFold(r.Header.Get("X-Dry-Run"), "true") {
		return r.WithContext(context.WithValue(r.Context(), auth.ContextKeyDryRun, true))
	}
	return r
}

func sendAuthError(w http.ResponseWriter, code, message string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	response := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode auth error response", "error", err)
	}
}
