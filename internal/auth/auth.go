// Package auth provides request authentication for the Fleetpay API.
//
// Partner routes are authenticated upstream by the platform gateway, which
// forwards a validated partner ID in the URL. Back-office routes carry a
// shared admin secret that is verified here.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAdminSecret carries the back-office shared secret.
	HeaderAdminSecret = "X-Admin-Secret"
	// HeaderActorID identifies the admin user for audit trails.
	HeaderActorID = "X-Actor-ID"

	// ContextKeyAdmin marks a request as admin-authenticated.
	ContextKeyAdmin = "authAdmin"
	// ContextKeyActor is the key for the acting admin's identifier.
	ContextKeyActor = "authActor"
)

// RequireAdmin rejects requests that do not carry the configured admin
// secret. An empty configured secret disables the admin surface entirely
// rather than leaving it open.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured on this deployment.",
			})
			return
		}

		provided := c.GetHeader(HeaderAdminSecret)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid " + HeaderAdminSecret + " header required.",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		if actor := c.GetHeader(HeaderActorID); actor != "" {
			c.Set(ContextKeyActor, actor)
		}
		c.Next()
	}
}

// Actor returns the acting admin's identifier, or "admin" when the
// caller did not identify themselves.
func Actor(c *gin.Context) string {
	if v, exists := c.Get(ContextKeyActor); exists {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "admin"
}

// IsAdmin checks if the request passed admin authentication.
func IsAdmin(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAdmin)
	return exists
}
