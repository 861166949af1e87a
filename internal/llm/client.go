package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is the boundary to the language-model service: given messages and
// an optional tool schema, it returns either a final assistant message or
// one carrying proposed tool calls.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []Tool) (*Message, error)
}

// SearchService is the web-search collaborator: given a query, it returns
// prose with citations.
type SearchService interface {
	Search(ctx context.Context, query string) (string, error)
}

// HTTPConfig configures the HTTPClient.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	SearchModel string // model used for web-search augmented calls
	Timeout     time.Duration
	Logger      *zap.Logger
}

// HTTPClient talks to a chat-completions compatible model service over
// plain HTTP JSON.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	model       string
	searchModel string
	httpc       *http.Client
	logger      *zap.Logger
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	searchModel := cfg.SearchModel
	if searchModel == "" {
		searchModel = cfg.Model
	}
	return &HTTPClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		searchModel: searchModel,
		httpc:       &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
	}
}

type chatRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Tools            []Tool         `json:"tools,omitempty"`
	ToolChoice       string         `json:"tool_choice,omitempty"`
	WebSearchOptions map[string]any `json:"web_search_options,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends the messages (and tool schema, when given) to the model
// service with automatic tool selection and returns the assistant message.
func (c *HTTPClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*Message, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}
	return c.complete(ctx, req)
}

// Search performs a web-search augmented model call and returns prose with
// citations.
func (c *HTTPClient) Search(ctx context.Context, query string) (string, error) {
	msg, err := c.complete(ctx, chatRequest{
		Model:            c.searchModel,
		Messages:         []Message{UserMessage(query)},
		WebSearchOptions: map[string]any{},
	})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (c *HTTPClient) complete(ctx context.Context, req chatRequest) (*Message, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("model service: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("model service: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model service: status %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("model service: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("model service: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("model service: empty choices")
	}

	c.logger.Debug("model call completed",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tool_calls", len(parsed.Choices[0].Message.ToolCalls)),
		zap.Duration("latency", time.Since(start)),
	)
	return &parsed.Choices[0].Message, nil
}
