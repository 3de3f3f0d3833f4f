package llm

import (
	"testing"

	"github.com/knoguchi/agentic-rag/internal/config"
)

func TestNewSelectsProviderByConfig(t *testing.T) {
	cases := []struct {
		provider string
		want     any
	}{
		{"claude", &ClaudeClient{}},
		{"openai", &OpenAIClient{}},
		{"ollama", &OllamaClient{}},
		{"", &OllamaClient{}},
	}
	for _, tc := range cases {
		cfg := &config.Config{LLMProvider: tc.provider}
		client := New(cfg)
		switch tc.want.(type) {
		case *ClaudeClient:
			if _, ok := client.(*ClaudeClient); !ok {
				t.Errorf("provider %q: expected *ClaudeClient, got %T", tc.provider, client)
			}
		case *OpenAIClient:
			if _, ok := client.(*OpenAIClient); !ok {
				t.Errorf("provider %q: expected *OpenAIClient, got %T", tc.provider, client)
			}
		case *OllamaClient:
			if _, ok := client.(*OllamaClient); !ok {
				t.Errorf("provider %q: expected *OllamaClient, got %T", tc.provider, client)
			}
		}
	}
}
