package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaChat(t *testing.T) {
	var got struct {
		Model    string              `json:"model"`
		Stream   bool                `json:"stream"`
		Messages []map[string]string `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret-token" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Score: 8/10"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaEndpointConfig{BaseURL: srv.URL + "/", Model: "qwen3", Token: "secret-token"})
	if p.ModelName() != "qwen3" {
		t.Fatalf("ModelName = %q", p.ModelName())
	}

	out, err := p.Chat(context.Background(), "system", "grade it", []string{"doc one", "doc two"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "Score: 8/10" {
		t.Fatalf("Chat = %q", out)
	}
	if got.Model != "qwen3" || got.Stream || len(got.Messages) != 2 {
		t.Fatalf("payload: %+v", got)
	}
	user := got.Messages[1]["content"]
	if !strings.Contains(user, "--- Document 2 ---\ndoc two") || !strings.HasSuffix(user, "Task: grade it") {
		t.Fatalf("user prompt: %q", user)
	}
}

func TestOllamaChatNoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header sent without token")
		}
		_, _ = w.Write([]byte(`{"message":{"content":"ok"}}`))
	}))
	defer srv.Close()

	out, err := NewOllamaProvider(OllamaEndpointConfig{BaseURL: srv.URL, Model: "m"}).Chat(context.Background(), "s", "u", nil)
	if err != nil || out != "ok" {
		t.Fatalf("Chat = %q, %v", out, err)
	}
}

func TestOllamaChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(OllamaEndpointConfig{BaseURL: srv.URL, Model: "missing"}).Chat(context.Background(), "s", "u", nil)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
