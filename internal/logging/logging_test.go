package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestMiddlewareRequestID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"forwarded", "abc-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusTeapot {
				t.Errorf("status = %d", rec.Code)
			}
			got := rec.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Errorf("header %q, context %q", got, seen)
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("request ID = %q, want %q", got, tt.header)
			}
		})
	}
}

func TestInitLevel(t *testing.T) {
	if err := Init(Config{Level: "debug", Format: "console"}); err != nil {
		t.Fatal(err)
	}
	if !L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug not enabled")
	}
	SetLevel("error")
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info still enabled after SetLevel(error)")
	}
}
