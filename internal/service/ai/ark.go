package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/keychat/backend/internal/config"
)

// arkProvider 使用用户提供的 ARK_API_KEY 创建 Ark 模型实例。
type arkProvider struct {
	cfg config.AIConfig
}

func newArkProvider(cfg config.AIConfig) *arkProvider {
	return &arkProvider{cfg: cfg}
}

func (p *arkProvider) Name() string  { return "ark" }
func (p *arkProvider) Model() string { return p.cfg.Model }

// NewChatModel 使用配置创建一个模型实例。Ark 在创建时不会校验凭证，错误会在首次对话时暴露。
func (p *arkProvider) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	var maxTokens *int
	if p.cfg.MaxTokens != nil {
		val := *p.cfg.MaxTokens
		maxTokens = &val
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     p.cfg.BaseURL,
		Region:      p.cfg.Region,
		APIKey:      apiKey,
		Model:       p.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: float32Ptr(p.cfg.Temperature),
		TopP:        float32Ptr(p.cfg.TopP),
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return chatModel, nil
}
