package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providerResponse struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Models []types.Model `json:"models"`
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.providers.List()
	resp := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, providerResponse{
			ID:     p.ID(),
			Name:   p.Name(),
			Models: p.Models(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.providers.AllModels())
}

type toolResponse struct {
	ID                string `json:"id"`
	Description       string `json:"description"`
	NeedsConfirmation bool   `json:"needsConfirmation"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools := s.tools.List()
	resp := make([]toolResponse, 0, len(tools))
	for _, t := range tools {
		resp = append(resp, toolResponse{
			ID:                t.ID(),
			Description:       t.Description(),
			NeedsConfirmation: t.NeedsConfirmation(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.List())
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if !s.tasks.Cancel(id) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "task not found: "+id)
		return
	}
	writeSuccess(w)
}

func (s *Server) mcpStatus(w http.ResponseWriter, r *http.Request) {
	if s.mcpClient == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.mcpClient.Status())
}

func (s *Server) removeMCPServer(w http.ResponseWriter, r *http.Request) {
	if s.mcpClient == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "mcp is not configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.mcpClient.RemoveServer(name); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeSuccess(w)
}

// getConfig returns the loaded config with provider secrets removed.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	if s.appConfig == nil {
		writeJSON(w, http.StatusOK, &types.Config{})
		return
	}

	redacted := *s.appConfig
	if redacted.Provider != nil {
		providers := make(map[string]types.ProviderConfig, len(redacted.Provider))
		for name, p := range redacted.Provider {
			if p.APIKey != "" {
				p.APIKey = "(redacted)"
			}
			providers[name] = p
		}
		redacted.Provider = providers
	}
	writeJSON(w, http.StatusOK, &redacted)
}
