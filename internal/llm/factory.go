package llm

import "github.com/knoguchi/agentic-rag/internal/config"

// New selects a concrete LLM client by the LLM_PROVIDER configuration key.
func New(cfg *config.Config) LLM {
	switch cfg.LLMProvider {
	case "claude":
		return NewClaudeClient(cfg.AnthropicKey, cfg.ClaudeModel)
	case "openai":
		return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel)
	default:
		return NewOllamaClient(WithBaseURL(cfg.OllamaURL), WithModel(cfg.OllamaLLMModel))
	}
}
