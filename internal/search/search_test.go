package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.URL.Query().Get("q") != "vat rates" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		w.Write([]byte(`{"results":[
			{"title":"VAT <b>rates</b>","url":"https://a.example","content":"Standard   rate is <strong>20%</strong>.","publishedDate":"2025-01-02"},
			{"title":"Second","url":"https://b.example","content":"more"},
			{"title":"Third","url":"https://c.example","content":"even more"}
		]}`))
	}))
	defer srv.Close()

	results, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "vat rates", Options{Count: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	want := Result{Title: "VAT rates", URL: "https://a.example", Snippet: "Standard rate is 20% .", Date: "2025-01-02"}
	if results[0] != want {
		t.Errorf("results[0] = %+v, want %+v", results[0], want)
	}
}

func TestSearXNG_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL).Search(context.Background(), "q", Options{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want HTTP 429 error", err)
	}
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			t.Errorf("missing subscription token")
		}
		if r.URL.Query().Get("count") != "5" {
			t.Errorf("count = %q, want default 5", r.URL.Query().Get("count"))
		}
		w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://t.example","description":"d &amp; e","age":"2 days ago"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("key")
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "q", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "d & e" || results[0].Date != "2 days ago" {
		t.Errorf("results = %+v", results)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind, url, key string
		wantName       string
		wantErr        bool
	}{
		{kind: "", wantName: ""},
		{kind: "searxng", url: "http://x", wantName: "searxng"},
		{kind: "searxng", wantErr: true},
		{kind: "brave", key: "k", wantName: "brave"},
		{kind: "brave", wantErr: true},
		{kind: "bing", wantErr: true},
	}
	for _, tt := range tests {
		p, err := New(tt.kind, tt.url, tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v, wantErr %v", tt.kind, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		name := ""
		if p != nil {
			name = p.Name()
		}
		if name != tt.wantName {
			t.Errorf("New(%q) = %q, want %q", tt.kind, name, tt.wantName)
		}
	}
}

func TestStripMarkup(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain  text\n here", "plain text here"},
		{"<em>bold</em>move", "bold move"},
		{"a &lt;b&gt; c", "a <b> c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripMarkup(tt.in); got != tt.want {
			t.Errorf("StripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	got := Format([]Result{
		{Title: "One", URL: "https://1", Snippet: "s1", Date: "2025"},
		{Title: "Two", URL: "https://2"},
	})
	want := "1. One\n   https://1\n   Published: 2025\n   s1\n\n2. Two\n   https://2"
	if got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
}
