package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/keychat/backend/internal/config"
)

// Provider opens a chat model for a caller-supplied credential.
type Provider interface {
	Name() string
	Model() string
	NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error)
}

// NewProvider selects the provider named by cfg.Provider.
func NewProvider(cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return newGeminiProvider(cfg), nil
	case "ark":
		return newArkProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	val := float32(*v)
	return &val
}
