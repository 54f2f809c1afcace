package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGenerate_Success(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"  Would love to connect.  "}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("test-key", "test-model", srv.URL)
	text, err := c.Generate(context.Background(), "write a note")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if text != "Would love to connect." {
		t.Errorf("text = %q, want %q", text, "Would love to connect.")
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q, want %q", got.Model, "test-model")
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "write a note" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGenerate_Headers(t *testing.T) {
	var gotAuth, gotTitle string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok."}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
	if _, err := c.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if want := "Bearer test-key"; gotAuth != want {
		t.Errorf("Authorization = %q, want %q", gotAuth, want)
	}
	if gotTitle != "linkreach" {
		t.Errorf("X-Title = %q, want %q", gotTitle, "linkreach")
	}
}

func TestGenerate_NoRetryOnRateLimit(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
	_, err := c.Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error on HTTP 429")
	}

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if perr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want %d", perr.Status, http.StatusTooManyRequests)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestGenerate_BadResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"choices":`, "decoding response"},
		{"no choices", `{"choices":[]}`, "no choices"},
		{"empty content", `{"choices":[{"message":{"content":"   "}}]}`, "empty completion"},
		{"error object", `{"error":{"message":"quota exceeded"}}`, "quota exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
			_, err := c.Generate(context.Background(), "hi")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestGenerate_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
	start := time.Now()
	if _, err := c.Generate(ctx, "hi"); err == nil {
		t.Fatal("expected error after context deadline")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Generate took %v after deadline", elapsed)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		list := ModelList{
			Object: "list",
			Data: []Model{
				{ID: "deepseek/deepseek-chat", Object: "model"},
				{ID: "openai/gpt-4o-mini", Object: "model"},
			},
		}
		json.NewEncoder(w).Encode(list)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	want := []string{"deepseek/deepseek-chat", "openai/gpt-4o-mini"}
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i].ID != w {
			t.Errorf("models[%d].ID = %q, want %q", i, models[i].ID, w)
		}
	}
}

func TestListModels_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelList{Object: "list"})
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("test-key", "", srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models, want 0", len(models))
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{Name: OpenRouterName}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing key: err = %v, want ErrUnavailable", err)
	}
	if _, err := New(ctx, Config{Name: "carrier-pigeon", APIKey: "k"}); err == nil {
		t.Error("unknown provider: expected error")
	}

	p, err := New(ctx, Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if p.Name() != OpenRouterName {
		t.Errorf("default Name() = %q, want %q", p.Name(), OpenRouterName)
	}

	p, err = New(ctx, Config{Name: "DeepSeek", APIKey: "k", Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("deepseek provider: %v", err)
	}
	ds, ok := p.(*Chat)
	if !ok {
		t.Fatalf("deepseek provider type = %T, want *Chat", p)
	}
	if ds.Name() != DeepSeekName || ds.Model() != defaultDeepSeekModel || ds.baseURL != deepSeekBaseURL {
		t.Errorf("deepseek = %q/%q/%q", ds.Name(), ds.Model(), ds.baseURL)
	}
	if ds.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", ds.httpClient.Timeout)
	}
}
