package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"activity/services"
)

// bearerToken pulls the access token from the Authorization header.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// RequireSession resolves the session behind the bearer token on every
// request and aborts with 401 when there is none. A failed lookup on the
// auth service counts as no session.
func RequireSession(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		user := sessions.Current(c.Request.Context(), token)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired or invalid. Please sign in again."})
			c.Abort()
			return
		}

		c.Set("user_id", user.ID)
		c.Set("user_email", user.Email)
		c.Set("access_token", token)
		c.Next()
	}
}

// OptionalSession resolves the session when a token is present but never
// aborts. Handlers behind it must treat a missing user_id as anonymous.
func OptionalSession(sessions *services.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token != "" {
			if user := sessions.Current(c.Request.Context(), token); user != nil {
				c.Set("user_id", user.ID)
				c.Set("user_email", user.Email)
				c.Set("access_token", token)
			}
		}
		c.Next()
	}
}
