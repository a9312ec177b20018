package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/zhouzirui/keychat/backend/internal/config"
)

type geminiProvider struct {
	cfg config.AIConfig
}

func newGeminiProvider(cfg config.AIConfig) *geminiProvider {
	return &geminiProvider{cfg: cfg}
}

func (p *geminiProvider) Name() string  { return "gemini" }
func (p *geminiProvider) Model() string { return p.cfg.Model }

// NewChatModel creates a Gemini API client for apiKey. With credential
// validation on, the configured model is looked up first so a bad key fails
// here instead of on the first prompt.
func (p *geminiProvider) NewChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if p.cfg.ValidateCredential {
		if _, err := client.Models.Get(ctx, p.cfg.Model, nil); err != nil {
			return nil, fmt.Errorf("look up model %s: %w", p.cfg.Model, err)
		}
	}

	return &geminiChatModel{
		client: client,
		defaults: model.Options{
			Model:       &p.cfg.Model,
			Temperature: float32Ptr(p.cfg.Temperature),
			TopP:        float32Ptr(p.cfg.TopP),
			MaxTokens:   p.cfg.MaxTokens,
		},
	}, nil
}

// geminiChatModel adapts the genai Models service to eino's chat model
// contract so it can sit at the end of a compose chain.
type geminiChatModel struct {
	client   *genai.Client
	defaults model.Options
}

func (m *geminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	base := m.defaults
	options := model.GetCommonOptions(&base, opts...)

	contents, system := toGeminiContents(input)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user content to send")
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	modelName := ""
	if options.Model != nil {
		modelName = *options.Model
	}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	return schema.AssistantMessage(responseText(resp), nil), nil
}

// Stream delivers the whole reply as a single chunk; token streaming is not
// offered to the page.
func (m *geminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// toGeminiContents splits system text out of the message list and maps the
// remaining turns onto Gemini roles.
func toGeminiContents(messages []*schema.Message) ([]*genai.Content, string) {
	contents := make([]*genai.Content, 0, len(messages))
	var system []string

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		case schema.User:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return contents, strings.Join(system, "\n\n")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}
