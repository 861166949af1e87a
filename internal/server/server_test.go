package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
	"github.com/clearbound/grc-assistant/internal/orchestrator"
)

// stubService records the last request and returns a scripted outcome.
type stubService struct {
	chatOutcome   *orchestrator.Outcome
	resumeOutcome *orchestrator.Outcome
	err           error
	lastChat      *orchestrator.ChatRequest
	lastResume    *orchestrator.ResumeRequest
}

func (s *stubService) Chat(_ context.Context, _ *auth.Principal, req *orchestrator.ChatRequest) (*orchestrator.Outcome, error) {
	s.lastChat = req
	return s.chatOutcome, s.err
}

func (s *stubService) Resume(_ context.Context, _ *auth.Principal, req *orchestrator.ResumeRequest) (*orchestrator.Outcome, error) {
	s.lastResume = req
	return s.resumeOutcome, s.err
}

func newTestServer(service AssistantService) http.Handler {
	return New(service, auth.NewStaticAuthenticator(), zap.NewNop()).Routes()
}

func post(t *testing.T, h http.Handler, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/assistant/chat", strings.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer ask_testkey99")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&stubService{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestChat_Unauthorized(t *testing.T) {
	h := newTestServer(&stubService{})
	rec := post(t, h, `{"message":"hi"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error != "unauthorized" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestChat_MalformedJSON(t *testing.T) {
	h := newTestServer(&stubService{})
	rec := post(t, h, `{"message":`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChat_MissingMessage(t *testing.T) {
	h := newTestServer(&stubService{})
	rec := post(t, h, `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChat_Success(t *testing.T) {
	service := &stubService{chatOutcome: &orchestrator.Outcome{
		Status:   orchestrator.StatusSuccess,
		Response: "hello",
	}}
	h := newTestServer(service)

	rec := post(t, h, `{"message":"hi","pageContext":{"pageId":"risks","projectId":"p1"}}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body chatResponseBody
	decode(t, rec, &body)
	if body.Response != "hello" || body.Status != "success" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.ToolsExecuted != nil {
		t.Fatal("toolsExecuted must be omitted on the initial round")
	}
	if service.lastChat.PageContext == nil || service.lastChat.PageContext.ProjectID != "p1" {
		t.Fatalf("page context not passed through: %+v", service.lastChat)
	}
}

func TestChat_ClarificationStatus(t *testing.T) {
	service := &stubService{chatOutcome: &orchestrator.Outcome{
		Status:   orchestrator.StatusClarificationNeeded,
		Response: "which project?",
	}}
	h := newTestServer(service)

	rec := post(t, h, `{"message":"show risks"}`, true)
	var body chatResponseBody
	decode(t, rec, &body)
	if body.Status != "clarification_needed" {
		t.Fatalf("unexpected status: %s", body.Status)
	}
}

func TestChat_ApprovalHandoff(t *testing.T) {
	service := &stubService{chatOutcome: &orchestrator.Outcome{
		RequiresApproval: true,
		AIMessage:        "I'll create that",
		ToolCalls: []llm.ToolCall{
			{ID: "1", Type: "function", Function: llm.FunctionCall{Name: "create_record", Arguments: `{"tableName":"gaps"}`}},
		},
		ConversationContext: &orchestrator.ConversationContext{SystemPrompt: "s", UserContent: "u"},
	}}
	h := newTestServer(service)

	rec := post(t, h, `{"message":"add a gap"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body approvalResponseBody
	decode(t, rec, &body)
	if !body.RequiresApproval || len(body.ToolCalls) != 1 || body.ConversationContext == nil {
		t.Fatalf("unexpected approval body: %+v", body)
	}
}

func TestChat_ServiceErrorIs502(t *testing.T) {
	service := &stubService{err: errors.New("model service: status 500")}
	h := newTestServer(service)

	rec := post(t, h, `{"message":"hi"}`, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestResume_MissingApproved(t *testing.T) {
	h := newTestServer(&stubService{})
	rec := post(t, h, `{"requestType":"execute_tool"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResume_InvalidResumeIs400(t *testing.T) {
	service := &stubService{err: orchestrator.ErrInvalidResume}
	h := newTestServer(service)

	rec := post(t, h, `{"requestType":"execute_tool","approved":true}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResume_Success(t *testing.T) {
	service := &stubService{resumeOutcome: &orchestrator.Outcome{
		Status:        orchestrator.StatusSuccess,
		Response:      "created",
		ToolsExecuted: true,
	}}
	h := newTestServer(service)

	body := map[string]any{
		"requestType": "execute_tool",
		"approved":    true,
		"aiMessage":   "I'll create that",
		"toolCalls": []map[string]any{
			{"id": "1", "type": "function", "function": map[string]any{"name": "create_record", "arguments": "{}"}},
		},
		"conversationContext": map[string]any{"systemPrompt": "s", "userContent": "u"},
	}
	raw, _ := json.Marshal(body)

	rec := post(t, h, string(bytes.TrimSpace(raw)), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp chatResponseBody
	decode(t, rec, &resp)
	if resp.Response != "created" || resp.ToolsExecuted == nil || !*resp.ToolsExecuted {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if service.lastResume == nil || !service.lastResume.Approved || len(service.lastResume.ToolCalls) != 1 {
		t.Fatalf("resume request not passed through: %+v", service.lastResume)
	}
}

func TestResume_DeclinedPassesThrough(t *testing.T) {
	service := &stubService{resumeOutcome: &orchestrator.Outcome{
		Status:   orchestrator.StatusSuccess,
		Response: "okay, not doing it",
	}}
	h := newTestServer(service)

	rec := post(t, h, `{"requestType":"execute_tool","approved":false,"conversationContext":{"systemPrompt":"s","userContent":"u"}}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp chatResponseBody
	decode(t, rec, &resp)
	if resp.ToolsExecuted == nil || *resp.ToolsExecuted {
		t.Fatal("declined resume must report toolsExecuted=false")
	}
	if service.lastResume.Approved {
		t.Fatal("approved flag must be false")
	}
}
