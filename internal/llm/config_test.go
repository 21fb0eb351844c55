package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.NotEmpty(t, cfg.GetModel(TierLite))
	assert.NotEmpty(t, cfg.GetModel(TierStandard))
	assert.NotEmpty(t, cfg.GetModel(TierAdvanced))
}

func TestConfig_GetModel_Fallback(t *testing.T) {
	cfg := &Config{
		Provider: ProviderGemini,
		Models:   map[ModelTier]string{TierStandard: "gemini-2.5-flash"},
	}

	// Unknown tier falls back to standard
	assert.Equal(t, "gemini-2.5-flash", cfg.GetModel(TierAdvanced))

	cfg = &Config{Provider: ProviderGemini, Models: map[ModelTier]string{}}
	assert.Empty(t, cfg.GetModel(TierStandard))
}

func TestConfig_WithModel_DoesNotMutate(t *testing.T) {
	base := DefaultGeminiConfig()
	derived := base.WithModel(TierStandard, "custom-model")

	assert.Equal(t, "custom-model", derived.GetModel(TierStandard))
	assert.NotEqual(t, "custom-model", base.GetModel(TierStandard))
}
