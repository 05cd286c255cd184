package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidPartnerID(t *testing.T) {
	valid := []string{
		"64b8f0a2c91d4e5f6a7b8c9d",
		"dp_6f1a2b3c4d5e6f7a8b9c0d1e",
		"a1b2c3d4e5f6",
	}
	for _, id := range valid {
		if !IsValidPartnerID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{
		"",
		"short",
		"has spaces in it",
		"partner-123",
		"'; DROP TABLE wallets;--",
	}
	for _, id := range invalid {
		if IsValidPartnerID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestIsValidAmount(t *testing.T) {
	for _, s := range []string{"100", "0.50", "150.50", " 25 "} {
		if !IsValidAmount(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "-5", "1.2.3", "abc", "1,50"} {
		if IsValidAmount(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("SanitizeString = %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("SanitizeString truncation = %q", got)
	}
}

func TestPartnerIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/partners/:id/wallet", PartnerIDParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/partners/64b8f0a2c91d4e5f6a7b8c9d/wallet", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid id: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/partners/not%20a%20valid%20id/wallet", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid id: expected 400, got %d", w.Code)
	}
}
