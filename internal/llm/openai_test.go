package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth header, got %q", r.Header.Get("Authorization"))
		}
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o" {
			t.Errorf("Model = %q, want gpt-4o", req.Model)
		}
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Role: "assistant", Content: "answer"}}},
			Usage:   openAIUsage{PromptTokens: 7, CompletionTokens: 4},
		})
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "gpt-4o", WithOpenAIBaseURL(server.URL), WithOpenAIHTTPClient(server.Client()))
	resp, err := c.Chat(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "answer" {
		t.Errorf("Text = %q, want answer", resp.Text)
	}
	if resp.InputTokens != 7 || resp.OutputTokens != 4 {
		t.Errorf("unexpected usage: %+v", resp)
	}
}

func TestOpenAIClientChatNoChoicesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openAIResponse{})
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "gpt-4o", WithOpenAIBaseURL(server.URL), WithOpenAIHTTPClient(server.Client()))
	_, err := c.Chat(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected error when no choices returned")
	}
}

func TestOpenAIClientChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewOpenAIClient("test-key", "gpt-4o", WithOpenAIBaseURL(server.URL), WithOpenAIHTTPClient(server.Client()))
	_, err := c.Chat(t.Context(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}
