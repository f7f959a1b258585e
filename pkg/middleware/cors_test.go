package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(cfg CORSConfig, method, origin string, preflight bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/auth/session", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	CORS(cfg)(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestCORS_AllowedOriginEchoedWithCredentials(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig([]string{"https://shop.example.com"}), http.MethodGet, "https://shop.example.com", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	assert.Equal(t, "X-Correlation-ID", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig([]string{"https://shop.example.com"}), http.MethodGet, "https://evil.example.net", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_NoOriginPassesThrough(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig([]string{"https://shop.example.com"}), http.MethodGet, "", false)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	rec := corsRequest(CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodGet, "https://any.example.org", false)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_WildcardWithCredentialsEchoesOrigin(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true}
	rec := corsRequest(cfg, http.MethodGet, "https://any.example.org", false)
	assert.Equal(t, "https://any.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig([]string{"https://shop.example.com/"}), http.MethodOptions, "https://shop.example.com", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_PlainOptionsReachesHandler(t *testing.T) {
	rec := corsRequest(DefaultCORSConfig([]string{"https://shop.example.com"}), http.MethodOptions, "https://shop.example.com", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
