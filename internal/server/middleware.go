package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Scopes gate the operator API's routes.
const (
	ScopeRead  = "migration:read"
	ScopeWrite = "migration:write"
	ScopeAdmin = "migration:admin"
)

const scopesKey = "scopes"

// slowRequestThreshold is the duration above which requests are logged at
// WARN level.
const slowRequestThreshold = time.Second

// Claims is the bearer token payload. Scopes follow the space-delimited
// OAuth convention.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Auth validates the bearer token and stores its scopes on the context.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var claims Claims
		token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(scopesKey, strings.Fields(claims.Scope))
		c.Next()
	}
}

// RequireScope rejects requests whose token does not carry the scope. The
// admin scope implies the others.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted, _ := c.Get(scopesKey)
		scopes, _ := granted.([]string)
		for _, s := range scopes {
			if s == scope || s == ScopeAdmin {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope", "required": scope})
	}
}

// RequestLogger logs every request with timing; slow requests are promoted
// to WARN.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case duration > slowRequestThreshold:
			logger.Warn("slow request", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
	}
}
