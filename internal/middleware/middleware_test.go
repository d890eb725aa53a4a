package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neftit/taskgate/internal/discord"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func TestDiscordRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := discord.NewLimiter(45, time.Minute).WithClock(func() time.Time { return now })
	health := discord.NewHealth(now)

	r := gin.New()
	r.POST("/verify", DiscordRateLimit(limiter, health), okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 45; i++ {
		require.Equal(t, http.StatusOK, send("10.0.0.1").Code, "request %d", i+1)
	}

	w := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"retryAfter":60`)
	assert.Contains(t, w.Body.String(), "Too many Discord verification requests")
	assert.Equal(t, int64(1), health.Snapshot(now).RateLimitHits)

	// other origins have their own window
	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestAPIKeyAuth(t *testing.T) {
	r := gin.New()
	r.POST("/partner", APIKeyAuth("secret-key"), okHandler)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "secret-kex", http.StatusUnauthorized},
		{"prefix", "secret", http.StatusUnauthorized},
		{"valid", "secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/partner", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthWithoutKeyRejectsAll(t *testing.T) {
	r := gin.New()
	r.POST("/partner", APIKeyAuth(""), okHandler)

	req := httptest.NewRequest(http.MethodPost, "/partner", nil)
	req.Header.Set(APIKeyHeader, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecureHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecureHeadersMiddleware(DefaultSecureHeadersConfig()))
	r.GET("/health", okHandler)
	r.GET("/auth/x", okHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.Empty(t, w.Header().Get("Cache-Control"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/x", nil))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
}

func TestAccessLogPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(AccessLog())
	r.GET("/health", okHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health?code=abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
