package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"proctor-stream/internal/auth"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, StreamExpiry: time.Minute, Issuer: "test"}

func TestRequireAuth_SetsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tok, err := auth.CreateToken("user-1", testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		if !ok || uid != "user-1" {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAuth_Rejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	streamTok, err := auth.CreateStreamToken("user-1", "sess", testTokenConfig)
	if err != nil {
		t.Fatalf("CreateStreamToken: %v", err)
	}

	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer garbage", "Bearer " + streamTok} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestRequireSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tok, err := auth.CreateToken("42", testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	r := gin.New()
	r.POST("/stop/:userId", RequireAuth(testTokenConfig), RequireSelf("userId"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for path, want := range map[string]int{"/stop/42": http.StatusOK, "/stop/7": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}
