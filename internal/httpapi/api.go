// Package httpapi serves the request/response endpoints that accompany the
// websocket channels: player registration, the completion assistant and
// liveness.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/completion"
	"github.com/cory-johannsen/officeverse/internal/directory"
	"github.com/cory-johannsen/officeverse/internal/wire"
)

const maxBodyBytes = 64 << 10

// API holds the collaborators behind the HTTP endpoints.
type API struct {
	dir        directory.Directory
	completion *completion.Service
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an API.
//
// Precondition: dir, svc and logger must be non-nil.
func New(dir directory.Directory, svc *completion.Service, logger *zap.Logger) *API {
	return &API{
		dir:        dir,
		completion: svc,
		logger:     logger.Named("httpapi"),
		now:        time.Now,
	}
}

// Register mounts every endpoint on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", a.registerPlayer)
	mux.HandleFunc("GET /auth/player/{id}", a.getPlayer)

	mux.HandleFunc("POST /api/genai/configure", a.configure)
	mux.HandleFunc("GET /api/genai/is-configured", a.isConfigured)
	mux.HandleFunc("POST /api/genai/query", a.query)
	mux.HandleFunc("GET /api/genai/status", a.status)
	mux.HandleFunc("GET /api/genai/health", a.genaiHealth)

	mux.HandleFunc("GET /healthz", a.healthz)
}

// CORS allows browser clients served from another origin to call the API.
// An empty allowed list permits any origin.
func CORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}

type playerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"roomId,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *API) registerPlayer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		a.writeJSON(w, http.StatusBadRequest, errorBody{Error: "name is required"})
		return
	}
	roomID := strings.TrimSpace(r.URL.Query().Get("roomId"))
	if roomID != "" {
		if _, err := a.dir.GetRoom(ctx, roomID); err != nil {
			a.writeDirectoryError(w, err)
			return
		}
	}

	p, err := a.dir.CreatePlayer(ctx, name)
	if err != nil {
		a.writeDirectoryError(w, err)
		return
	}
	if roomID != "" {
		if err := a.dir.AddPlayerToRoom(ctx, roomID, p.ID); err != nil {
			a.writeDirectoryError(w, err)
			return
		}
		p.RoomID = roomID
	}
	a.logger.Info("player registered", zap.String("player_id", p.ID), zap.String("room_id", roomID))
	a.writeJSON(w, http.StatusOK, playerView{ID: p.ID, Name: p.Name, RoomID: p.RoomID})
}

func (a *API) getPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := a.dir.GetPlayer(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDirectoryError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, playerView{ID: p.ID, Name: p.Name, RoomID: p.RoomID})
}

type configureRequest struct {
	APIKey   string `json:"apiKey"`
	Provider string `json:"provider"`
}

type configureResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (a *API) configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.completion.Configure(req.APIKey, req.Provider); err != nil {
		a.writeJSON(w, http.StatusOK, configureResponse{Success: false, Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, configureResponse{
		Success:  true,
		Message:  "API key configured successfully",
		Provider: a.completion.Provider(),
	})
}

func (a *API) isConfigured(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"configured": a.completion.IsConfigured(),
		"provider":   a.completion.Provider(),
	})
}

type queryRequest struct {
	Prompt string  `json:"prompt"`
	RoomID wire.ID `json:"roomId"`
}

type queryResponse struct {
	Success        bool   `json:"success"`
	Response       string `json:"response,omitempty"`
	RoomID         string `json:"roomId,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	Error          string `json:"error,omitempty"`
	RequiresConfig bool   `json:"requiresConfig,omitempty"`
}

func (a *API) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !a.decode(w, r, &req) {
		return
	}
	reply, err := a.completion.Complete(r.Context(), req.Prompt)
	switch {
	case errors.Is(err, completion.ErrNotConfigured):
		a.writeJSON(w, http.StatusOK, queryResponse{
			Error:          "completion service not configured, provide an API key",
			RequiresConfig: true,
		})
		return
	case errors.Is(err, completion.ErrPromptTooLong):
		a.writeJSON(w, http.StatusOK, queryResponse{
			Error: "prompt too long (max " + strconv.Itoa(a.completion.MaxPromptLength()) + " characters)",
		})
		return
	case err != nil:
		a.writeJSON(w, http.StatusOK, queryResponse{Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, queryResponse{
		Success:   true,
		Response:  reply,
		RoomID:    string(req.RoomID),
		Timestamp: a.now().UnixMilli(),
	})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	st := a.completion.Status()
	a.writeJSON(w, http.StatusOK, map[string]any{
		"available":  st.Available,
		"configured": st.Configured,
		"model":      st.Model,
		"provider":   st.Provider,
		"ready":      st.Configured,
	})
}

func (a *API) genaiHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"service":   "completion",
		"timestamp": a.now().UnixMilli(),
		"available": a.completion.IsConfigured(),
	})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.dir.Ping(ctx); err != nil {
		a.logger.Warn("directory health check failed", zap.Error(err))
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

func (a *API) writeDirectoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrPlayerNotFound):
		a.writeJSON(w, http.StatusNotFound, errorBody{Error: "player not found"})
	case errors.Is(err, directory.ErrRoomNotFound):
		a.writeJSON(w, http.StatusNotFound, errorBody{Error: "room not found"})
	case errors.Is(err, directory.ErrRoomFull):
		a.writeJSON(w, http.StatusConflict, errorBody{Error: "room is full"})
	default:
		a.logger.Error("directory request failed", zap.Error(err))
		a.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "request failed"})
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("writing response", zap.Error(err))
	}
}
