package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/bizchat/internal/tools"
)

const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond

	// maxToolRounds bounds how many times the model may call tools before
	// it must answer in text.
	maxToolRounds = 5
)

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is a single model invocation. Tools may be nil.
type StreamRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    *tools.Set
}

// Client talks to an OpenAI-compatible chat completions API (OpenRouter by
// default) and runs the function-calling loop.
type Client struct {
	api *openai.Client
}

// NewClient creates a client for the given API key. An empty baseURL
// selects OpenRouter.
func NewClient(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultBaseURL
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: "https://github.com/kalambet/bizchat",
			title:   "bizchat",
		},
	}
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// Stream sends the request and forwards every text delta to onDelta. Tool
// calls requested by the model are executed through req.Tools and fed back
// until the model produces a final answer. The returned string is the full
// answer text.
func (c *Client) Stream(ctx context.Context, req StreamRequest, onDelta func(string)) (string, error) {
	if req.Model == "" {
		return "", errors.New("model is required")
	}
	ctx, cancel := context.WithTimeout(ctx, streamingTimeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	defs := toolDefinitions(req.Tools)

	var answer strings.Builder
	for round := 0; round <= maxToolRounds; round++ {
		creq := openai.ChatCompletionRequest{Model: req.Model, Messages: msgs, Stream: true}
		if round < maxToolRounds {
			creq.Tools = defs
		}

		text, calls, err := c.streamRound(ctx, creq, onDelta)
		answer.WriteString(text)
		if err != nil {
			return answer.String(), err
		}
		if len(calls) == 0 {
			return answer.String(), nil
		}

		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    runTool(ctx, req.Tools, call),
				ToolCallID: call.ID,
			})
		}
	}
	return answer.String(), fmt.Errorf("model kept calling tools after %d rounds", maxToolRounds)
}

func toolDefinitions(set *tools.Set) []openai.Tool {
	var defs []openai.Tool
	for _, t := range set.Tools() {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return defs
}

func runTool(ctx context.Context, set *tools.Set, call openai.ToolCall) string {
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Sprintf("Error: arguments for %s are not valid JSON.", call.Function.Name)
		}
	}
	return set.Call(ctx, call.Function.Name, args)
}

// streamRound runs one completion and returns its text and any tool calls.
func (c *Client) streamRound(ctx context.Context, creq openai.ChatCompletionRequest, onDelta func(string)) (string, []openai.ToolCall, error) {
	stream, err := c.open(ctx, creq)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var text strings.Builder
	pending := map[int]*openai.ToolCall{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), nil, fmt.Errorf("reading completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]openai.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *pending[idx])
	}
	return text.String(), calls, nil
}

// open starts a completion stream, retrying with exponential backoff while
// the upstream answers 429.
func (c *Client) open(ctx context.Context, creq openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := range maxRetries {
		stream, err := c.api.CreateChatCompletionStream(ctx, creq)
		if err == nil {
			return stream, nil
		}
		if !isRateLimit(err) {
			return nil, fmt.Errorf("opening completion stream: %w", err)
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, &rateLimitError{retries: maxRetries, err: lastErr}
}

// rateLimitError is returned when every attempt was answered with HTTP 429.
type rateLimitError struct {
	retries int
	err     error
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d retries: %v", e.retries, e.err)
}

func (e *rateLimitError) Unwrap() error { return e.err }

// IsRateLimited reports whether err came from exhausted rate-limit retries.
func IsRateLimited(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// attributionTransport adds the OpenRouter app attribution headers.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", t.referer)
	req.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(req)
}
