package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/protocol"
	"github.com/desertthunder/ridex/internal/shared"
)

// API serves the HTTP endpoints of the ride server.
type API struct {
	mux      *http.ServeMux
	config   shared.ServerConfig
	registry *Registry
	hub      *Hub
	recorder Recorder
	logger   *log.Logger
}

// loginResponse is the body of a successful login.
type loginResponse struct {
	models.Session
	Message string `json:"message"`
}

// NewAPI wires the endpoints to the registry and hub.
func NewAPI(config shared.ServerConfig, registry *Registry, hub *Hub, recorder Recorder, logger *log.Logger) *API {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	a := &API{
		mux:      http.NewServeMux(),
		config:   config,
		registry: registry,
		hub:      hub,
		recorder: recorder,
		logger:   logger,
	}

	a.mux.HandleFunc("GET /api/config", a.handleConfig)
	a.mux.HandleFunc("POST /api/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/logout", a.handleLogout)
	a.mux.HandleFunc("GET /api/users", a.handleUsers)
	a.mux.HandleFunc("GET /api/ride/{ride_id}/users", a.handleRideUsers)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	return a
}

// Routes implements [Handler].
func (a *API) Routes() []string {
	return []string{
		"GET /api/config",
		"POST /api/login",
		"POST /api/logout",
		"GET /api/users",
		"GET /api/ride/{ride_id}/users",
		"GET /healthz",
	}
}

// ServeHTTP implements [http.Handler].
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.RemoteConfig{GoogleMapsAPIKey: a.config.MapAPIKey})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}

	action, err := models.ParseAction(r.FormValue("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	var session models.Session
	switch action {
	case models.ActionJoin:
		rideID := strings.TrimSpace(r.FormValue("ride_id"))
		if rideID == "" {
			writeError(w, http.StatusBadRequest, "Ride ID is required")
			return
		}
		session, err = a.registry.Join(username, rideID)
		if errors.Is(err, shared.ErrRideNotFound) {
			writeError(w, http.StatusNotFound, "Ride not found")
			return
		}
	default:
		session, err = a.registry.Create(username)
		if err == nil {
			a.recorder.RideCreated(session)
		}
	}
	if err != nil {
		a.logger.Error("login failed", "username", username, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Could not start a ride")
		return
	}

	a.recorder.SessionStarted(session)
	a.logger.Info("login", "session_id", session.SessionID, "username", username, "ride_id", session.RideID, "action", action)
	writeJSON(w, http.StatusOK, loginResponse{Session: session, Message: "Login successful"})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := a.registry.Remove(r.FormValue("session_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	a.hub.Kick(session.SessionID)
	a.hub.Broadcast(session.RideID, protocol.UserLeft{SessionID: session.SessionID, Username: session.Username}, "")
	a.recorder.SessionEnded(session.SessionID)

	a.logger.Info("logout", "session_id", session.SessionID, "username", session.Username)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.registry.All()})
}

func (a *API) handleRideUsers(w http.ResponseWriter, r *http.Request) {
	rideID := strings.ToUpper(r.PathValue("ride_id"))
	if !a.registry.HasRide(rideID) {
		writeError(w, http.StatusNotFound, "Ride not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": rideID, "users": a.registry.Riders(rideID)})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rides":       len(a.registry.Rides()),
		"connections": a.hub.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes the {"detail": ...} error envelope clients expect.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
