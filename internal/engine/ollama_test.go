package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEngine_ChatForwardsNestedSchema(t *testing.T) {
	var format map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Format map[string]any `json:"format"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		format = body.Format
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "{}"},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	_, err := e.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "hi"}}, &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"key_decisions": {Type: "array", Items: &SchemaProperty{Type: "string"}},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	props, _ := format["properties"].(map[string]any)
	decisions, _ := props["key_decisions"].(map[string]any)
	items, _ := decisions["items"].(map[string]any)
	if items["type"] != "string" {
		t.Errorf("items schema not forwarded: %v", format)
	}
}

func TestOllamaEngine_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 0}, {0, 1}},
		})
	}))
	defer srv.Close()

	vecs, err := NewOllamaEngine(srv.URL).EmbedBatch(context.Background(), "nomic-embed-text", []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestOllamaEngine_PullModelProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "pulling", "total": 10, "completed": 5})
	}))
	defer srv.Close()

	var got []PullProgress
	err := NewOllamaEngine(srv.URL).PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		got = append(got, p)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(got) != 1 || got[0].Completed != 5 {
		t.Errorf("progress = %+v", got)
	}
}
