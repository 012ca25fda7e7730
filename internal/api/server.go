package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/townd/server/internal/config"
	"github.com/townd/server/internal/engine"
	"github.com/townd/server/internal/persist"
)

// Server is the HTTP gateway: humans and arena tooling reach the simulation
// only by journaling inputs here and reading world snapshots back.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	sup     *engine.Supervisor
	worlds  *persist.WorldRepo
	engines *persist.EngineRepo
	inputs  *persist.InputRepo
	bots    *persist.BotRepo

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	http *http.Server
}

func NewServer(
	cfg *config.Config,
	log *zap.Logger,
	sup *engine.Supervisor,
	worlds *persist.WorldRepo,
	engines *persist.EngineRepo,
	inputs *persist.InputRepo,
	bots *persist.BotRepo,
) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		sup:      sup,
		worlds:   worlds,
		engines:  engines,
		inputs:   inputs,
		bots:     bots,
		limiters: map[string]*rate.Limiter{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /worlds/{world}/inputs", s.handleAppendInput)
	mux.HandleFunc("GET /worlds/{world}/inputs/{number}", s.handleInputStatus)
	mux.HandleFunc("POST /worlds/{world}/join", s.handleJoin)
	mux.HandleFunc("POST /worlds/{world}/leave", s.handleLeave)
	mux.HandleFunc("POST /worlds/{world}/move", s.handleMove)
	mux.HandleFunc("POST /worlds/{world}/wake", s.handleWake)
	mux.HandleFunc("GET /worlds/{world}/watch", s.handleWatch)
	mux.HandleFunc("POST /arena/register", s.handleArenaRegister)
	mux.HandleFunc("POST /admin/worlds", s.handleCreateWorld)
	mux.HandleFunc("DELETE /admin/worlds/{world}", s.handleStopWorld)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         cfg.Server.BindAddress,
		Handler:      s.withLogging(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("api listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
	})
}

// allow applies the per-token rate limit. Token comes from the Authorization
// header, falling back to the remote address.
func (s *Server) allow(r *http.Request) bool {
	if !s.cfg.RateLimit.Enabled {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.RemoteAddr
	}
	s.limiterMu.Lock()
	lim := s.limiters[token]
	if lim == nil {
		perSec := rate.Limit(float64(s.cfg.RateLimit.InputsPerMinute) / 60.0)
		burst := s.cfg.RateLimit.InputsPerMinute / 6
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(perSec, burst)
		s.limiters[token] = lim
	}
	s.limiterMu.Unlock()
	return lim.Allow()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
