package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/metrics"
	model "jewel-auction/internal/models"
	"jewel-auction/services/bidding/helpers"
	"jewel-auction/utils"
)

// RequestLoggerMiddleware logs incoming requests with timing and records
// them in the HTTP metrics.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	status := strconv.Itoa(c.Writer.Status())
	elapsed := time.Since(start)
	metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
	metrics.HTTPDuration.WithLabelValues(c.Request.Method, path, status).Observe(elapsed.Seconds())

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": elapsed.String(),
	})
}

// TokenParser turns a bearer token into the caller's identity.
type TokenParser interface {
	Parse(token string) (model.User, error)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, fmt.Errorf("%w - missing bearer token", biddingerrors.ErrUnauthorized))
			return
		}
		user, err := parser.Parse(token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		helpers.SetUser(c, user)
		c.Next()
	}
}

// OptionalAuth attaches the caller when a valid token is present and lets
// anonymous requests through. An invalid token is still rejected.
func OptionalAuth(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		user, err := parser.Parse(token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		helpers.SetUser(c, user)
		c.Next()
	}
}

// RequireRole admits callers holding one of roles. It must run after RequireAuth.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := helpers.CurrentUser(c)
		if !ok {
			abortUnauthorized(c, fmt.Errorf("%w - no caller identity", biddingerrors.ErrUnauthorized))
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		err := fmt.Errorf("%w - role %s may not call %s", biddingerrors.ErrForbidden, user.Role, c.FullPath())
		utils.JSONError(c, http.StatusForbidden, err, "operation not allowed")
		utils.Warn("RequireRole: access denied", map[string]any{"user_id": user.UserID, "role": user.Role, "path": c.FullPath()})
		c.Abort()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	utils.JSONError(c, http.StatusUnauthorized, err, "authentication required")
	utils.Warn("auth: request rejected", map[string]any{"path": c.Request.URL.Path, "error": err.Error()})
	c.Abort()
}

// RateLimiter hands out one token bucket per caller.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per caller with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := time.Now()
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	if now.Sub(l.lastGC) > l.idleTTL {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	l.mu.Unlock()

	return e.limiter.Allow()
}

// Middleware limits authenticated callers by user id and anonymous ones by
// client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user, ok := helpers.CurrentUser(c); ok {
			key = "user:" + user.UserID
		}
		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			utils.JSONError(c, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded for %s", key), "too many requests")
			utils.Warn("RateLimiter: request throttled", map[string]any{"key": key, "path": c.FullPath()})
			c.Abort()
			return
		}
		c.Next()
	}
}
