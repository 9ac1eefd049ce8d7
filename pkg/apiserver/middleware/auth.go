package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crewboard/crewboard/pkg/auth"
)

const (
	callerIDKey   = "caller_id"
	callerRoleKey = "caller_role"
)

func Auth(tokens *auth.AccessTokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		callerID, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(callerIDKey, callerID)
		c.Set(callerRoleKey, claims.Role)
		c.Next()
	}
}

// CallerID returns the authenticated user's ID. Only valid behind Auth.
func CallerID(c *gin.Context) uuid.UUID {
	value, ok := c.Get(callerIDKey)
	if !ok {
		return uuid.Nil
	}
	id, _ := value.(uuid.UUID)
	return id
}

func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}

// RequireEmployer rejects callers whose role may not manage orders.
func RequireEmployer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.IsEmployer(CallerRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "employer role required"})
			return
		}
		c.Next()
	}
}
