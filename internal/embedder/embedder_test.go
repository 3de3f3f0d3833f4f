package embedder

import "testing"

func TestGetModelConfigKnownModel(t *testing.T) {
	cfg := GetModelConfig("nomic-embed-text")
	if cfg.Dimension != 768 {
		t.Errorf("Dimension = %d, want 768", cfg.Dimension)
	}
}

func TestGetModelConfigUnknownModelReturnsDefaults(t *testing.T) {
	cfg := GetModelConfig("some-obscure-model")
	if cfg.Dimension != 768 || cfg.ContextLength != 2048 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
