package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
	"github.com/clearbound/grc-assistant/internal/storage"
	"github.com/clearbound/grc-assistant/internal/tools"
)

// Status classifies a terminal outcome of the exchange.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusClarificationNeeded Status = "clarification_needed"
)

// ChatRequest is the initial round of the exchange.
type ChatRequest struct {
	Message         string
	Context         string // optional extra context supplied by the client
	PageContext     *tools.PageContext
	RequireApproval *bool // nil = server default
}

// ResumeRequest is the second round of the approval protocol: the caller
// echoes the proposed calls and conversation context back with a decision.
type ResumeRequest struct {
	ToolCalls           []llm.ToolCall
	ConversationContext *ConversationContext
	Approved            bool
	AIMessage           string
}

// ConversationContext is the minimal state needed to resume the exchange.
// The server holds no session for this flow: the blob is created at round 1,
// echoed back verbatim by the caller, consumed exactly once at round 2 and
// never persisted. It is untrusted on return — it contributes prompt text
// only, never authority; every echoed tool call is re-validated and
// re-authorized before execution.
type ConversationContext struct {
	SystemPrompt string `json:"systemPrompt"`
	UserContent  string `json:"userContent"`
}

// Outcome is the terminal result of either round.
type Outcome struct {
	Status              Status
	Response            string
	RequiresApproval    bool
	ToolCalls           []llm.ToolCall
	AIMessage           string
	ConversationContext *ConversationContext
	ToolsExecuted       bool
}

// Orchestrator drives the two-round tool-calling protocol against the
// model service, gating mutating calls behind the approval round trip.
type Orchestrator struct {
	llm             llm.Client
	registry        *tools.Registry
	executor        *tools.Executor
	audit           storage.EventWriter
	requireApproval bool
	logger          *zap.Logger
}

// Config configures an Orchestrator.
type Config struct {
	LLM      llm.Client
	Registry *tools.Registry
	Executor *tools.Executor
	Audit    storage.EventWriter
	// RequireApproval is the default for requests that do not specify it.
	RequireApproval bool
	Logger          *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		llm:             cfg.LLM,
		registry:        cfg.Registry,
		executor:        cfg.Executor,
		audit:           cfg.Audit,
		requireApproval: cfg.RequireApproval,
		logger:          cfg.Logger,
	}
}

// Chat handles the initial round: clarify short-circuit, first model call,
// classification, then either direct execution with a grounding follow-up
// call or the approval handoff.
func (o *Orchestrator) Chat(ctx context.Context, principal *auth.Principal, req *ChatRequest) (*Outcome, error) {
	if msg := clarificationFor(req.Message, req.PageContext); msg != "" {
		o.logger.Info("clarification requested before model call",
			zap.String("principal_id", principal.UserID),
		)
		return &Outcome{Status: StatusClarificationNeeded, Response: msg}, nil
	}

	systemPrompt := buildSystemPrompt(req.PageContext)
	userContent := req.Message
	if req.Context != "" {
		userContent += "\n\nAdditional context from the client:\n" + req.Context
	}

	messages := []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(userContent),
	}

	reply, err := o.llm.Chat(ctx, messages, o.registry.Declarations())
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	if len(reply.ToolCalls) == 0 {
		return &Outcome{Status: StatusSuccess, Response: reply.Content}, nil
	}

	requireApproval := o.requireApproval
	if req.RequireApproval != nil {
		requireApproval = *req.RequireApproval
	}

	if writes := tools.MutatingCalls(reply.ToolCalls); len(writes) > 0 && requireApproval {
		o.logger.Info("mutating tool calls need approval",
			zap.String("principal_id", principal.UserID),
			zap.Int("proposed", len(reply.ToolCalls)),
			zap.Int("mutating", len(writes)),
		)
		return &Outcome{
			RequiresApproval: true,
			ToolCalls:        reply.ToolCalls,
			AIMessage:        reply.Content,
			ConversationContext: &ConversationContext{
				SystemPrompt: systemPrompt,
				UserContent:  userContent,
			},
		}, nil
	}

	// Direct path: execute everything, then ground the final answer
	execCtx := tools.WithPageContext(ctx, req.PageContext)
	results := o.executor.Execute(execCtx, principal, reply.ToolCalls)
	o.writeEvents(principal, req.PageContext, reply.ToolCalls, results, false)

	followUp := append(messages, *reply)
	followUp = append(followUp, toolMessages(results)...)

	final, err := o.llm.Chat(ctx, followUp, nil)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return &Outcome{Status: StatusSuccess, Response: final.Content, ToolsExecuted: true}, nil
}

// toolMessages builds one tool-result message per call, keyed by the id the
// model used to request the call. Completion order is irrelevant; the id
// binding is what the model matches on.
func toolMessages(results []tools.Result) []llm.Message {
	out := make([]llm.Message, len(results))
	for i, r := range results {
		out[i] = llm.ToolMessage(r.ToolCallID, encodeContent(r.Content))
	}
	return out
}

func encodeContent(content map[string]any) string {
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf(`{"error":"result encoding failed: %v"}`, err)
	}
	return string(b)
}

func (o *Orchestrator) writeEvents(principal *auth.Principal, pc *tools.PageContext, calls []llm.ToolCall, results []tools.Result, approved bool) {
	if o.audit == nil {
		return
	}
	requestID := uuid.New().String()

	argsByID := make(map[string]string, len(calls))
	for _, c := range calls {
		argsByID[c.ID] = c.Function.Arguments
	}

	var pageID, projectID string
	if pc != nil {
		pageID = pc.PageID
		projectID = pc.ProjectID
	}

	for _, r := range results {
		classification := "read"
		if tools.Mutating(r.Name) {
			classification = "write"
		}
		outcome := "ok"
		var detail string
		if r.Failed {
			outcome = "error"
			if v, ok := r.Content["error"].(string); ok {
				detail = v
			}
		}
		o.audit.Write(&storage.ToolInvocationEvent{
			RequestID:      requestID,
			PrincipalID:    principal.UserID,
			Timestamp:      time.Now(),
			ToolCallID:     r.ToolCallID,
			ToolName:       r.Name,
			ArgumentsJSON:  argsByID[r.ToolCallID],
			Classification: classification,
			Approved:       approved,
			Outcome:        outcome,
			ErrorDetail:    detail,
			PageID:         pageID,
			ProjectID:      projectID,
			LatencyMs:      float32(float64(r.Latency) / float64(time.Millisecond)),
			Source:         "assistant",
		})
	}
}
