package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxClaimsKey = "auth_claims"

// VersionSource reports a user's current token version.
type VersionSource interface {
	GetTokenVersion(ctx context.Context, id string) (int, error)
}

// AuthMiddleware accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on a websocket upgrade, so GET requests may pass ?token= instead.
// When repo is non-nil the token version is checked against the user row.
func AuthMiddleware(tokens TokenService, repo VersionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := tokens.Parse(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		if repo != nil {
			currentVersion, err := repo.GetTokenVersion(c.Request.Context(), claims.UserID)
			if err != nil || currentVersion != claims.TokenVersion {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				c.Abort()
				return
			}
		}

		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h != "" {
		if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return "", false
		}
		raw := strings.TrimSpace(h[len("Bearer "):])
		return raw, raw != ""
	}
	if c.Request.Method == http.MethodGet {
		if raw := strings.TrimSpace(c.Query("token")); raw != "" {
			return raw, true
		}
	}
	return "", false
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// UserID returns the authenticated user's id, or "" outside AuthMiddleware.
func UserID(c *gin.Context) string {
	if claims := MustGetClaims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
