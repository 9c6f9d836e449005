// ABOUTME: Plain HTTP endpoints: service info, health, and the direct tool
// ABOUTME: API for callers that do not speak MCP.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/bambu-gateway/internal/tools"
)

// handleRoot describes the service and its endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"name":        s.config.Server.Name,
		"version":     s.config.Server.Version,
		"description": "Bambu Lab 3D Printer MCP Server",
		"endpoints": map[string]string{
			"health":   "/health",
			"mcp":      "/mcp",
			"api_tool": "/api/tool",
			"setup":    "/setup/status",
			"guide":    "/setup/guide",
		},
	})
}

// handleHealth returns 200 if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"server":    s.config.Server.Name,
		"version":   s.config.Server.Version,
		"device_id": s.config.Bambu.DeviceID,
	})
}

type toolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolCall executes a tool directly, without the MCP envelope. The
// raw handler result goes back as the response body.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendJSONError(w, http.StatusBadRequest, "tool name is required")
		return
	}

	result, err := s.backend.Invoke(r.Context(), req.Name, req.Arguments)
	if err != nil {
		s.writeToolError(w, req.Name, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result); err != nil {
		s.logger.Warn("failed to write tool result", "tool", req.Name, "error", err)
	}
}

// writeToolError maps tool failures onto HTTP statuses: caller mistakes are
// 400s, everything else is a 500 carrying the handler error.
func (s *Server) writeToolError(w http.ResponseWriter, name string, err error) {
	var missing *tools.MissingArgumentError
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unknown tool: %s", name))
	case errors.As(err, &missing):
		s.sendJSONError(w, http.StatusBadRequest, missing.Error())
	case errors.Is(err, tools.ErrInvalidArguments):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
