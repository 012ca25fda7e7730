package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/townd/server/internal/config"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "Ada", normalizeName("  Ada  "))
	require.Equal(t, "Ada Lovelace", normalizeName("Ada Lovelace"))
	require.Equal(t, "AdaBot", normalizeName("Ada\x00\x1fBot\x7f"))
	require.Equal(t, "", normalizeName("   "))
	require.Equal(t, "", normalizeName("\t\n"))

	// Decomposed input collapses to the composed form.
	require.Equal(t, "Zoé", normalizeName("Zoe\u0301"))

	long := strings.Repeat("a", 100)
	require.Len(t, normalizeName(long), 64)
}

func TestAllowRateLimits(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.InputsPerMinute = 6 // burst of 1
	s := &Server{cfg: cfg, log: zap.NewNop(), limiters: map[string]*rate.Limiter{}}

	req := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/worlds/w1/inputs", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return r
	}

	require.True(t, s.allow(req("tok-a")))
	require.False(t, s.allow(req("tok-a")), "burst of one is spent")
	require.True(t, s.allow(req("tok-b")), "tokens are limited independently")

	cfg.RateLimit.Enabled = false
	require.True(t, s.allow(req("tok-a")))
}

func TestAllowFallsBackToRemoteAddr(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.InputsPerMinute = 6
	s := &Server{cfg: cfg, log: zap.NewNop(), limiters: map[string]*rate.Limiter{}}

	r := httptest.NewRequest(http.MethodPost, "/worlds/w1/inputs", nil)
	require.True(t, s.allow(r))
	require.False(t, s.allow(r))
}

func newValidationServer() *Server {
	return &Server{cfg: config.Default(), log: zap.NewNop(), limiters: map[string]*rate.Limiter{}}
}

func TestAppendInputRejectsBadJSON(t *testing.T) {
	s := newValidationServer()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/worlds/w1/inputs", strings.NewReader(`{"name":`))

	s.handleAppendInput(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppendInputRejectsUnknownName(t *testing.T) {
	s := newValidationServer()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/worlds/w1/inputs",
		strings.NewReader(`{"name":"teleport","args":{}}`))

	s.handleAppendInput(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unknown input")
}

func TestAppendInputRejectsMalformedArgs(t *testing.T) {
	s := newValidationServer()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/worlds/w1/inputs",
		strings.NewReader(`{"name":"moveTo","args":{"playerId":"not-a-number"}}`))

	s.handleAppendInput(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinRequiresName(t *testing.T) {
	s := newValidationServer()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/worlds/w1/join",
		strings.NewReader(`{"name":"   ","tokenIdentifier":"tok-1"}`))

	s.handleJoin(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "name is required")
}

func TestHealth(t *testing.T) {
	s := newValidationServer()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusConflict, "world is not running")

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "world is not running", body["error"])
}
