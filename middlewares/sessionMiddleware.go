package middlewares

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/gin-gonic/gin"
)

const sessionTTL = 24 * time.Hour

// Session is written to redis by the auth service at login; this backend
// only consumes it.
type Session struct {
	BusinessId string `json:"business_id"`
	UserId     int    `json:"user_id"`
	UserName   string `json:"user_name"`
	Username   string `json:"username"`
}

// SessionMiddleware resolves the request token to a tenant-scoped context:
// business id, actor and caller IP travel with the request from here on.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session Session
		exists, err := config.GetRedisObject("Session:"+token, &session)
		if err != nil || !exists || session.BusinessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		// Sliding expiration: any authenticated request extends the session.
		if err := config.SetRedisObject("Session:"+token, session, sessionTTL); err != nil {
			config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "refresh session ttl", nil, err)
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetBusinessIdInContext(ctx, session.BusinessId)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		ctx = utils.SetUsernameInContext(ctx, session.Username)
		ctx = utils.SetCallerIpInContext(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession rejects requests that did not go through a valid session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
