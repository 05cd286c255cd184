// Package validation provides input validation helpers for the Fleetpay API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 2000

var (
	// partnerIDRegex validates partner identifiers: the upstream platform
	// issues 24-char hex object IDs, but we also accept prefixed IDs like
	// "dp_6f1a..." from newer registrations.
	partnerIDRegex = regexp.MustCompile(`^[a-zA-Z]{0,4}_?[a-fA-F0-9]{12,32}$`)

	// amountRegex validates positive decimal amounts ("150" or "150.50")
	amountRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPartnerID checks if a string is a well-formed partner identifier
func IsValidPartnerID(id string) bool {
	return partnerIDRegex.MatchString(id)
}

// IsValidAmount checks that a string is a well-formed non-negative decimal
func IsValidAmount(amount string) bool {
	return amountRegex.MatchString(strings.TrimSpace(amount))
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// PartnerIDParamMiddleware validates the :id URL parameter on routes that
// use it. Apply to route groups that include partner :id params to reject
// malformed identifiers early.
func PartnerIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidPartnerID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_partner_id",
				"message": "partner id is malformed",
			})
			return
		}
		c.Next()
	}
}
