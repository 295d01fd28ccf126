package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/deepgram/agentdeck/internal/agents"
	"github.com/deepgram/agentdeck/internal/services/health"
	"github.com/deepgram/agentdeck/internal/upstream"
	"github.com/deepgram/agentdeck/pkg/httpext"
)

type okResponse struct {
	OK bool `json:"ok"`
}

type agentResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Model string `json:"model,omitempty"`
}

type reloadResponse struct {
	OK      bool `json:"ok"`
	Changed bool `json:"changed"`
	Agents  int  `json:"agents"`
}

func toAgentResponse(a agents.Agent) agentResponse {
	return agentResponse{ID: a.ID, Name: a.Name, Color: a.Color, Host: a.Host, Port: a.Port, Model: a.Model}
}

// HandleListAgents lists every agent with its reachability and message count.
// Credentials are never included.
func HandleListAgents(healthService *health.Service, w http.ResponseWriter, r *http.Request) {
	httpext.WriteJSON(w, http.StatusOK, healthService.Summaries(r.Context()))
}

// HandleUpdateAgent changes an agent's display name and/or color.
func HandleUpdateAgent(registry *agents.Registry, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := registry.Get(id); !ok {
		httpext.JsonKindError(w, string(upstream.KindNotFound), "Agent not found", http.StatusNotFound)
		return
	}

	var req updateAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	_, err := registry.UpdateDisplay(id, strings.TrimSpace(req.Name), strings.TrimSpace(req.Color))
	switch {
	case errors.Is(err, agents.ErrNotFound):
		httpext.JsonKindError(w, string(upstream.KindNotFound), "Agent not found", http.StatusNotFound)
		return
	case err != nil:
		// the change is live in memory; only the file write failed
		hlog.FromRequest(r).Error().Err(err).Str("agent_id", id).Msg("Failed to persist agent settings")
		httpext.JsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpext.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

// HandleRegisterAgent adds a new agent to the registry.
func HandleRegisterAgent(registry *agents.Registry, w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	agent, err := registry.Register(agents.Agent{
		ID:    req.ID,
		Name:  req.Name,
		Host:  req.Host,
		Port:  req.Port,
		Token: req.Token,
		Color: req.Color,
		Model: req.Model,
	})
	switch {
	case errors.Is(err, agents.ErrDuplicate):
		httpext.JsonKindError(w, "conflict", "Agent already exists", http.StatusConflict)
		return
	case errors.Is(err, agents.ErrMissingID), errors.Is(err, agents.ErrMissingHost):
		httpext.JsonKindError(w, string(upstream.KindBadRequest), err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Str("agent_id", req.ID).Msg("Failed to persist new agent")
		httpext.JsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpext.WriteJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// HandleReloadAgents re-reads the registry file.
func HandleReloadAgents(registry *agents.Registry, w http.ResponseWriter, r *http.Request) {
	changed, err := registry.Reload()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to reload agent registry")
		httpext.JsonError(w, "Failed to reload agents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	httpext.WriteJSON(w, http.StatusOK, reloadResponse{OK: true, Changed: changed, Agents: registry.Len()})
}

// HandleHealth probes every agent.
func HandleHealth(healthService *health.Service, w http.ResponseWriter, r *http.Request) {
	httpext.WriteJSON(w, http.StatusOK, healthService.Check(r.Context()))
}
