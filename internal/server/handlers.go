package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
	"github.com/clearbound/grc-assistant/internal/orchestrator"
	"github.com/clearbound/grc-assistant/internal/tools"
)

// requestTypeExecuteTool marks the resume round of the approval protocol.
const requestTypeExecuteTool = "execute_tool"

// chatRequestBody is the single request shape for both rounds.
type chatRequestBody struct {
	RequestType     string             `json:"requestType,omitempty"`
	Message         string             `json:"message,omitempty"`
	Context         string             `json:"context,omitempty"`
	PageContext     *tools.PageContext `json:"pageContext,omitempty"`
	RequireApproval *bool              `json:"requireApproval,omitempty"`

	// Resume round fields, echoed back from the approval response.
	ToolCalls           []llm.ToolCall                    `json:"toolCalls,omitempty"`
	ConversationContext *orchestrator.ConversationContext `json:"conversationContext,omitempty"`
	Approved            *bool                             `json:"approved,omitempty"`
	AIMessage           string                            `json:"aiMessage,omitempty"`
}

type chatResponseBody struct {
	Response      string `json:"response"`
	Status        string `json:"status"`
	ToolsExecuted *bool  `json:"toolsExecuted,omitempty"`
}

type approvalResponseBody struct {
	RequiresApproval    bool                              `json:"requiresApproval"`
	ToolCalls           []llm.ToolCall                    `json:"toolCalls"`
	AIMessage           string                            `json:"aiMessage"`
	ConversationContext *orchestrator.ConversationContext `json:"conversationContext"`
}

// handleChat serves POST /v1/assistant/chat, dispatching on requestType.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.Authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "unauthorized", "a valid API key is required")
		return
	}

	var body chatRequestBody
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if body.RequestType == requestTypeExecuteTool {
		s.handleResume(w, r, principal, &body)
		return
	}

	if body.Message == "" {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "message is required")
		return
	}

	outcome, err := s.service.Chat(r.Context(), principal, &orchestrator.ChatRequest{
		Message:         body.Message,
		Context:         body.Context,
		PageContext:     body.PageContext,
		RequireApproval: body.RequireApproval,
	})
	if err != nil {
		s.logger.Error("chat failed",
			zap.String("principal_id", principal.UserID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "assistant unavailable", err.Error())
		return
	}

	s.writeOutcome(w, outcome, false)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, principal *auth.Principal, body *chatRequestBody) {
	if body.Approved == nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "approved is required for execute_tool requests")
		return
	}

	outcome, err := s.service.Resume(r.Context(), principal, &orchestrator.ResumeRequest{
		ToolCalls:           body.ToolCalls,
		ConversationContext: body.ConversationContext,
		Approved:            *body.Approved,
		AIMessage:           body.AIMessage,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidResume) {
			s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		s.logger.Error("resume failed",
			zap.String("principal_id", principal.UserID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusBadGateway, "assistant unavailable", err.Error())
		return
	}

	s.writeOutcome(w, outcome, true)
}

// writeOutcome maps an orchestrator outcome onto the response surface.
// toolsExecuted is only reported for the resume round.
func (s *Server) writeOutcome(w http.ResponseWriter, outcome *orchestrator.Outcome, resume bool) {
	if outcome.RequiresApproval {
		writeJSON(w, http.StatusOK, approvalResponseBody{
			RequiresApproval:    true,
			ToolCalls:           outcome.ToolCalls,
			AIMessage:           outcome.AIMessage,
			ConversationContext: outcome.ConversationContext,
		})
		return
	}

	resp := chatResponseBody{
		Response: outcome.Response,
		Status:   string(outcome.Status),
	}
	if resume {
		executed := outcome.ToolsExecuted
		resp.ToolsExecuted = &executed
	}
	writeJSON(w, http.StatusOK, resp)
}
