package tools

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clearbound/grc-assistant/internal/auth"
	"github.com/clearbound/grc-assistant/internal/llm"
)

// DefaultExecTimeout is the max time a batch of tool calls gets to complete.
const DefaultExecTimeout = 15 * time.Second

// Result is the outcome of one tool call, bound to the id the model
// assigned when it proposed the call.
type Result struct {
	ToolCallID string
	Name       string
	Content    map[string]any
	Failed     bool
	Latency    time.Duration
}

// Executor fans proposed tool calls out to their handlers in parallel and
// collects one result per call. Failures never propagate as errors: they
// are encoded in the result content so the follow-up model call can explain
// them in natural language.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}
	return &Executor{registry: registry, timeout: timeout, logger: logger}
}

// Execute runs the calls concurrently and returns results in the order of
// the input calls, matched by tool-call id. Calls still in flight when the
// deadline fires get a timeout result.
//
// Each goroutine sends its result through a buffered channel, so the main
// goroutine can safely read completed results without racing against
// in-flight writes.
func (e *Executor) Execute(ctx context.Context, principal *auth.Principal, calls []llm.ToolCall) []Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan Result, len(calls))
	for _, call := range calls {
		go func(call llm.ToolCall) {
			ch <- e.run(ctx, principal, call)
		}(call)
	}

	byID := make(map[string]Result, len(calls))
	remaining := len(calls)
	for remaining > 0 {
		select {
		case res := <-ch:
			byID[res.ToolCallID] = res
			remaining--
		case <-ctx.Done():
			e.logger.Warn("tool execution deadline exceeded, returning partial results",
				zap.Duration("timeout", e.timeout),
				zap.Int("outstanding", remaining),
			)
			remaining = 0
		}
	}

	out := make([]Result, len(calls))
	for i, call := range calls {
		if res, ok := byID[call.ID]; ok {
			out[i] = res
			continue
		}
		out[i] = Result{
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    map[string]any{"error": "tool execution timed out"},
			Failed:     true,
		}
	}
	return out
}

func (e *Executor) run(ctx context.Context, principal *auth.Principal, call llm.ToolCall) Result {
	start := time.Now()
	res := Result{ToolCallID: call.ID, Name: call.Function.Name}

	handler, ok := e.registry.Handler(call.Function.Name)
	if !ok {
		res.Failed = true
		res.Content = map[string]any{"error": "unknown tool: " + call.Function.Name}
		res.Latency = time.Since(start)
		return res
	}

	args, err := e.registry.ValidateArguments(call.Function.Name, call.Function.Arguments)
	if err != nil {
		res.Failed = true
		res.Content = map[string]any{"error": err.Error()}
		res.Latency = time.Since(start)
		return res
	}

	content, err := handler(ctx, principal, args)
	if err != nil {
		e.logger.Warn("tool call failed",
			zap.String("tool", call.Function.Name),
			zap.String("tool_call_id", call.ID),
			zap.Error(err),
		)
		res.Failed = true
		res.Content = map[string]any{"error": err.Error()}
	} else {
		res.Content = content
	}
	res.Latency = time.Since(start)
	return res
}
