package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
)

// ErrInvalidResume is returned when a resume request is missing the echoed
// conversation context or tool calls.
var ErrInvalidResume = errors.New("invalid resume request")

const declinedNote = "\n\nThe user declined to execute the proposed tool call. " +
	"Do not perform the action. Answer from your own knowledge and make clear " +
	"that the action was not performed."

// Resume handles the second round of the approval protocol. A declined
// request executes nothing and asks the model to answer knowing the tool
// was turned down. An approved request executes every echoed call — a
// replayed approval executes them again; there is deliberately no
// server-side dedup to hang idempotency on.
func (o *Orchestrator) Resume(ctx context.Context, principal *auth.Principal, req *ResumeRequest) (*Outcome, error) {
	if req.ConversationContext == nil {
		return nil, fmt.Errorf("%w: conversationContext is required", ErrInvalidResume)
	}
	cc := req.ConversationContext

	if !req.Approved {
		o.logger.Info("tool execution declined",
			zap.String("principal_id", principal.UserID),
			zap.Int("declined_calls", len(req.ToolCalls)),
		)
		messages := []llm.Message{
			llm.SystemMessage(cc.SystemPrompt + declinedNote),
			llm.UserMessage(cc.UserContent),
		}
		final, err := o.llm.Chat(ctx, messages, nil)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}
		return &Outcome{Status: StatusSuccess, Response: final.Content, ToolsExecuted: false}, nil
	}

	if len(req.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: toolCalls are required when approved", ErrInvalidResume)
	}

	// The echoed calls are untrusted input: the executor re-validates the
	// arguments and every handler re-authorizes against current membership.
	results := o.executor.Execute(ctx, principal, req.ToolCalls)
	o.writeEvents(principal, nil, req.ToolCalls, results, true)

	assistant := llm.Message{
		Role:      "assistant",
		Content:   req.AIMessage,
		ToolCalls: req.ToolCalls,
	}
	messages := []llm.Message{
		llm.SystemMessage(cc.SystemPrompt),
		llm.UserMessage(cc.UserContent),
		assistant,
	}
	messages = append(messages, toolMessages(results)...)

	final, err := o.llm.Chat(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return &Outcome{Status: StatusSuccess, Response: final.Content, ToolsExecuted: true}, nil
}
