package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/townd/server/internal/persist"
	"github.com/townd/server/internal/world"
)

// appendRequest is the generic journal endpoint's body.
type appendRequest struct {
	Name world.InputName `json:"name"`
	Args json.RawMessage `json:"args"`
}

type appendResponse struct {
	Number int64 `json:"number"`
}

// resolveEngine finds the engine that owns a world, local or not.
func (s *Server) resolveEngine(r *http.Request, worldID string) (string, error) {
	if id := s.sup.RunningEngineID(worldID); id != "" {
		return id, nil
	}
	row, err := s.engines.RunningForWorld(r.Context(), worldID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", errors.New("world is not running")
	}
	return row.ID, nil
}

func (s *Server) appendInput(w http.ResponseWriter, r *http.Request, name world.InputName, args world.InputArgs) {
	raw, err := world.EncodeArgs(args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.appendRaw(w, r, name, raw)
}

func (s *Server) appendRaw(w http.ResponseWriter, r *http.Request, name world.InputName, raw json.RawMessage) {
	worldID := r.PathValue("world")
	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if !world.KnownInput(name) {
		writeError(w, http.StatusBadRequest, "unknown input "+string(name))
		return
	}
	// Decode up front so malformed args fail here, not inside the step loop.
	if _, err := world.DecodeInput(name, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engineID, err := s.resolveEngine(r, worldID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	number, err := s.inputs.Append(r.Context(), worldID, engineID, string(name), raw, s.cfg.Engine.MaxInputsPerEngine)
	if errors.Is(err, persist.ErrTooManyInputs) {
		writeError(w, http.StatusTooManyRequests, "input backlog is full")
		return
	}
	if err != nil {
		s.log.Error("append input", zap.String("world", worldID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}
	writeJSON(w, http.StatusAccepted, appendResponse{Number: number})
}

func (s *Server) handleAppendInput(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	s.appendRaw(w, r, req.Name, req.Args)
}

// handleInputStatus reports whether an input was processed and what it
// returned.
func (s *Server) handleInputStatus(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")
	number, err := strconv.ParseInt(r.PathValue("number"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad input number")
		return
	}
	engineID, err := s.resolveEngine(r, worldID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	row, err := s.inputs.Load(r.Context(), engineID, number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "no such input")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"number":      row.Number,
		"name":        row.Name,
		"processed":   row.ReturnValue != nil,
		"returnValue": row.ReturnValue,
	})
}

type joinRequest struct {
	Name            string `json:"name"`
	Character       string `json:"character"`
	Description     string `json:"description"`
	TokenIdentifier string `json:"tokenIdentifier"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	name := normalizeName(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.appendInput(w, r, world.InputJoin, &world.JoinArgs{
		Name:            name,
		Character:       req.Character,
		Description:     req.Description,
		TokenIdentifier: req.TokenIdentifier,
	})
}

type leaveRequest struct {
	PlayerID world.PlayerID `json:"playerId"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	s.appendInput(w, r, world.InputLeave, &world.LeaveArgs{PlayerID: req.PlayerID})
}

type moveRequest struct {
	PlayerID    world.PlayerID `json:"playerId"`
	Destination *world.Tile    `json:"destination"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	s.appendInput(w, r, world.InputMoveTo, &world.MoveToArgs{
		PlayerID:    req.PlayerID,
		Destination: req.Destination,
	})
}

// handleWake flips an inactive world back to running when a viewer shows up.
func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")
	if err := s.sup.WakeWorld(r.Context(), worldID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"world": worldID, "status": "running"})
}

type createWorldRequest struct {
	ID  string `json:"id"`
	Map string `json:"map"`
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req createWorldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if req.ID == "" || req.Map == "" {
		writeError(w, http.StatusBadRequest, "id and map are required")
		return
	}
	if err := s.sup.EnsureWorld(r.Context(), req.ID, req.Map); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"world": req.ID})
}

func (s *Server) handleStopWorld(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("world")
	if err := s.sup.StopWorld(r.Context(), worldID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"world": worldID, "status": "stopped"})
}

// normalizeName NFC-normalizes and trims a display name, dropping control
// characters.
func normalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		if r >= 0x20 && r != 0x7f {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
