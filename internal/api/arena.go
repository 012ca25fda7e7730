package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/townd/server/internal/persist"
)

// arenaRegisterRequest registers an AI Arena bot for placement. The secret
// authenticates later control requests; only its hash is stored.
type arenaRegisterRequest struct {
	BotID       string `json:"botId"`
	Name        string `json:"name"`
	Character   string `json:"character"`
	Identity    string `json:"identity"`
	Plan        string `json:"plan"`
	Personality string `json:"personality"`
	InitialZone string `json:"initialZone"`
	Secret      string `json:"secret"`
}

func (s *Server) handleArenaRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	var req arenaRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	req.BotID = strings.TrimSpace(req.BotID)
	req.Name = normalizeName(req.Name)
	if req.BotID == "" || req.Name == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "botId, name and secret are required")
		return
	}

	existing, err := s.bots.LoadByBotID(r.Context(), req.BotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "bot is already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash failed")
		return
	}

	row := &persist.BotRegistrationRow{
		BotID:       req.BotID,
		Name:        req.Name,
		Character:   req.Character,
		Identity:    req.Identity,
		Plan:        req.Plan,
		Personality: req.Personality,
		InitialZone: req.InitialZone,
		SecretHash:  string(hash),
	}
	if err := s.bots.Create(r.Context(), row); err != nil {
		s.log.Error("register bot", zap.String("bot", req.BotID), zap.Error(err))
		writeError(w, http.StatusConflict, "registration failed")
		return
	}

	s.log.Info("arena bot registered", zap.String("bot", req.BotID), zap.String("name", req.Name))
	writeJSON(w, http.StatusCreated, map[string]any{
		"botId":  req.BotID,
		"status": "pending",
	})
}
