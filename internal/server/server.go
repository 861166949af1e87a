package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/orchestrator"
)

// defaultMaxBodyBytes bounds request bodies; tool-call echoes are small.
const defaultMaxBodyBytes = 1 << 20

// AssistantService is the orchestration boundary the server talks to.
type AssistantService interface {
	Chat(ctx context.Context, principal *auth.Principal, req *orchestrator.ChatRequest) (*orchestrator.Outcome, error)
	Resume(ctx context.Context, principal *auth.Principal, req *orchestrator.ResumeRequest) (*orchestrator.Outcome, error)
}

// Server exposes the assistant over HTTP JSON.
type Server struct {
	service      AssistantService
	auth         auth.Authenticator
	logger       *zap.Logger
	maxBodyBytes int64
}

// New creates a Server.
func New(service AssistantService, authenticator auth.Authenticator, logger *zap.Logger) *Server {
	return &Server{
		service:      service,
		auth:         authenticator,
		logger:       logger,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/assistant/chat", s.handleChat)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
