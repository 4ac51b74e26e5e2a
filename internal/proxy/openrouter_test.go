package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/tools"
)

func sse(chunks ...string) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "data: %s\n\n", c)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func contentChunk(s string) string {
	b, _ := json.Marshal(s)
	return fmt.Sprintf(`{"id":"gen-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%s}}]}`, b)
}

type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func TestStream_Text(t *testing.T) {
	var got capturedRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		headers = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(contentChunk("Hello"), contentChunk(" world")))
	}))
	defer srv.Close()

	var deltas []string
	answer, err := NewClient("test-key", srv.URL).Stream(context.Background(), StreamRequest{
		Model:    "anthropic/claude-sonnet-4",
		System:   "Be brief.",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	if answer != "Hello world" {
		t.Errorf("answer = %q", answer)
	}
	if strings.Join(deltas, "|") != "Hello| world" {
		t.Errorf("deltas = %v", deltas)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if len(got.Tools) != 0 {
		t.Errorf("tools sent without a tool set: %+v", got.Tools)
	}
	if headers.Get("Authorization") != "Bearer test-key" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("X-Title") != "bizchat" || headers.Get("HTTP-Referer") == "" {
		t.Errorf("attribution headers missing: %v", headers)
	}
}

type stubRetriever struct{}

func (stubRetriever) RetrieveKnowledge(context.Context, retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
	return []retrieval.Snippet{{Content: "Opening hours are 9 to 5.", Similarity: 0.8}}, nil
}

func TestStream_ToolLoop(t *testing.T) {
	var calls atomic.Int32
	var second capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		switch calls.Add(1) {
		case 1:
			var first capturedRequest
			json.NewDecoder(r.Body).Decode(&first)
			if len(first.Tools) != 2 || first.Tools[0].Function.Name != tools.GetInformation {
				t.Errorf("first request tools = %+v", first.Tools)
			}
			fmt.Fprint(w, sse(
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"getInformation","arguments":""}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"hours\"}"}}]},"finish_reason":"tool_calls"}]}`,
			))
		default:
			json.NewDecoder(r.Body).Decode(&second)
			fmt.Fprint(w, sse(contentChunk("We open at 9.")))
		}
	}))
	defer srv.Close()

	var observed []string
	set := tools.NewAssembler(tools.Deps{Retriever: stubRetriever{}}).Assemble(context.Background(), tools.Options{
		RAGEnabled: true,
		Observer:   func(name string, args map[string]any) { observed = append(observed, name+":"+args["query"].(string)) },
	})

	answer, err := NewClient("k", srv.URL).Stream(context.Background(), StreamRequest{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: "when do you open?"}},
		Tools:    set,
	}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if answer != "We open at 9." {
		t.Errorf("answer = %q", answer)
	}
	if len(observed) != 1 || observed[0] != "getInformation:hours" {
		t.Errorf("observed = %v", observed)
	}

	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "Opening hours") {
		t.Errorf("tool result message = %+v", last)
	}
}

func TestStream_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(contentChunk("ok")))
	}))
	defer srv.Close()

	answer, err := NewClient("k", srv.URL).Stream(context.Background(), StreamRequest{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if answer != "ok" || calls.Load() != 2 {
		t.Errorf("answer = %q after %d calls", answer, calls.Load())
	}
}

func TestStream_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL).Stream(context.Background(), StreamRequest{Model: "m"}, nil)
	if !IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limit error", err)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestStream_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"provider down"}}`)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL).Stream(context.Background(), StreamRequest{Model: "m"}, nil)
	if err == nil || IsRateLimited(err) {
		t.Fatalf("err = %v, want non-rate-limit error", err)
	}
}

func TestStream_RequiresModel(t *testing.T) {
	if _, err := NewClient("k", "http://unused").Stream(context.Background(), StreamRequest{}, nil); err == nil {
		t.Error("expected error without model")
	}
}
