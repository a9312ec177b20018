package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/keychat/backend/internal/config"
)

var (
	ErrCredentialRequired = errors.New("api key is required")
	ErrCredentialRejected = errors.New("failed to initialize model")
	ErrEmptyReply         = errors.New("model returned an empty reply")
)

// Service opens conversations against the configured provider.
type Service struct {
	provider Provider
	cfg      config.AIConfig
	trimmer  *historyTrimmer
}

// NewService creates a new AI service instance
func NewService(provider Provider, cfg config.AIConfig) *Service {
	return &Service{
		provider: provider,
		cfg:      cfg,
		trimmer:  newHistoryTrimmer(cfg.HistoryLimit, cfg.HistoryMaxTokens),
	}
}

// ProviderName reports which hosted API conversations are opened against.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// ModelName reports the model conversations use.
func (s *Service) ModelName() string {
	return s.provider.Model()
}

// StartConversation validates apiKey by opening a chat model with it and
// compiles the prompt chain that every turn of the conversation runs through.
func (s *Service) StartConversation(ctx context.Context, apiKey string) (*Conversation, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrCredentialRequired
	}

	chatModel, err := s.provider.NewChatModel(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialRejected, err)
	}

	system := strings.TrimSpace(s.cfg.SystemPrompt)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(newChatTemplate(system != ""))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	log.Printf("[ai] conversation opened provider=%s model=%s", s.provider.Name(), s.provider.Model())
	return &Conversation{
		runnable: runnable,
		system:   system,
		trimmer:  s.trimmer,
	}, nil
}

func newChatTemplate(withSystem bool) prompt.ChatTemplate {
	templates := make([]schema.MessagesTemplate, 0, 3)
	if withSystem {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates,
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
	return prompt.FromMessages(schema.FString, templates...)
}

// Conversation is the session handle for one validated credential. Only
// turns that produced a reply become part of the history sent with later
// prompts.
type Conversation struct {
	runnable compose.Runnable[map[string]any, *schema.Message]
	system   string
	trimmer  *historyTrimmer

	mu      sync.Mutex
	history []*schema.Message
}

// Send forwards prompt with the conversation so far and returns the reply text.
func (c *Conversation) Send(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	history := c.trimmer.Trim(append([]*schema.Message(nil), c.history...))
	c.mu.Unlock()

	input := map[string]any{
		"history": history,
		"query":   prompt,
	}
	if c.system != "" {
		input["system"] = c.system
	}

	response, err := c.runnable.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyReply
	}

	c.mu.Lock()
	c.history = append(c.history, schema.UserMessage(prompt), schema.AssistantMessage(response.Content, nil))
	c.mu.Unlock()

	return response.Content, nil
}

// Turns returns how many prompt/reply pairs the model has seen.
func (c *Conversation) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history) / 2
}
