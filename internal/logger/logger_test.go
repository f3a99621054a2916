package logger

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupWithJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	l := SetupWith("info", "json", buf)
	l.Debug("hidden")
	l.Info("filler_prepare_start", "filler", "countries")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"filler_prepare_start"`)
	assert.Contains(t, out, `"filler":"countries"`)
	assert.Same(t, l, L())
}

func TestAccessMiddleware(t *testing.T) {
	buf := &bytes.Buffer{}
	l := SetupWith("debug", "text", buf)
	h := AccessMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("abc"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "http_access")
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "bytes=3")
}
