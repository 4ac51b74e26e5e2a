package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	r := struct {
		Models []entry `json:"models"`
	}{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() after close = true, want false")
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "llama3.2") {
		t.Error("HasModel(llama3.2) = false, want true")
	}
	if c.HasModel(context.Background(), "mistral") {
		t.Error("HasModel(mistral) = true, want false")
	}
}

func TestChat_JSONSchema(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"message":{"role":"assistant","content":"{\"topic\":\"hiring\"}"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"topic":         {Type: "string", MaxLength: 80},
			"key_decisions": {Type: "array", Items: &SchemaProperty{Type: "string"}},
		},
		Required: []string{"topic"},
	}
	got, err := c.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "classify"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"topic":"hiring"}` {
		t.Errorf("result = %q", got)
	}
	if captured.Stream {
		t.Error("chat request should not stream")
	}
	if captured.Format == nil || captured.Format.Properties["key_decisions"].Items == nil {
		t.Errorf("format not forwarded: %+v", captured.Format)
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Chat(context.Background(), "m", nil, nil); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestEmbedBatch(t *testing.T) {
	var captured struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		out := embedResponse{}
		for i := range captured.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), "nomic-embed-text", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(captured.Input) != 3 {
		t.Fatalf("server received %d inputs, want 3", len(captured.Input))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d] = %v, order not preserved", i, v)
		}
	}
}

func TestEmbedBatch_LengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[0.1]]}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).EmbedBatch(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Error("expected error when server returns fewer embeddings than inputs")
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "nomic-embed-text", "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Name != "llama3.2" {
			t.Errorf("pull model = %q, want llama3.2", body.Name)
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var n int
	if err := New(srv.URL).PullModel(context.Background(), "llama3.2", func(PullProgress) { n++ }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if n != 2 {
		t.Errorf("received %d progress updates, want 2", n)
	}
}
