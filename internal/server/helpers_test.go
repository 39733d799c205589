package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"proctor-stream/internal/auth"
	"proctor-stream/internal/detect"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/logwriter"
	"proctor-stream/internal/model"
	"proctor-stream/internal/store"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, StreamExpiry: time.Minute, Issuer: "test"}

func detectorReporting(details ...string) detect.Detector {
	return detect.Func{DetectorName: "fixed", Fn: func(context.Context, *frame.Frame) ([]model.Event, error) {
		out := make([]model.Event, 0, len(details))
		for _, d := range details {
			out = append(out, model.Event{Detail: d})
		}
		return out, nil
	}}
}

type testEnv struct {
	app   *App
	store *store.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, detectors ...detect.Detector) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.New()
	app := NewApp(Deps{
		Store:       st,
		TokenConfig: testTokenConfig,
		Detectors:   detectors,
		Stream: StreamOptions{
			Retry:         logwriter.Config{Backoff: time.Millisecond},
			MaxFrameBytes: 1 << 20,
		},
	})
	srv := httptest.NewServer(app.Router)
	t.Cleanup(func() {
		app.Hub.Shutdown()
		srv.Close()
		app.Close()
	})
	return &testEnv{app: app, store: st, srv: srv}
}

func accessToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.CreateToken(userID, testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.app.Router.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: invalid json %q", method, path, w.Body.String())
		}
	}
	return w.Code, body
}

func (e *testEnv) wsURL(userID, token string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/stream/" + userID
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

