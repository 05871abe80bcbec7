package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newAuthTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", h.authMiddleware(), func(c *gin.Context) {
		userID := c.GetInt64(userIDKey)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	return router
}

func TestAuthMiddleware_AcceptsIssuedToken(t *testing.T) {
	h := &Handler{jwtSecret: "test-secret", tokenTTL: time.Hour}
	router := newAuthTestRouter(h)

	token, err := h.issueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	h := &Handler{jwtSecret: "test-secret", tokenTTL: time.Hour}
	router := newAuthTestRouter(h)

	other := &Handler{jwtSecret: "different-secret", tokenTTL: time.Hour}
	wrongKey, err := other.issueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	expired := &Handler{jwtSecret: "test-secret", tokenTTL: -time.Hour}
	expiredToken, err := expired.issueToken(42)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
		{"wrong key", "Bearer " + wrongKey},
		{"expired", "Bearer " + expiredToken},
	}

	for _, test := range tests {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if test.header != "" {
			req.Header.Set("Authorization", test.header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, expected 401", test.name, rec.Code)
		}
	}
}
