// Package reason implements the reasoning capability on top of an Eino chat
// model backed by Gemini. The engine only sees the model.Reasoner contract.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	"github.com/caredesk-core-poc/server/internal/agent/reason/prompts"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// Config holds everything needed to construct the Gemini-backed reasoner.
type Config struct {
	APIKey  string
	BaseURL string
	Model   model.ReasonModelConfig
	Prompt  model.PromptConfig
}

type LLMReasoner struct {
	cm        einomodel.BaseChatModel
	modelName string
	prompt    model.PromptConfig
}

var _ model.Reasoner = (*LLMReasoner)(nil)

// NewLLMReasoner builds the genai client and chat model.
func NewLLMReasoner(ctx context.Context, cfg Config) (*LLMReasoner, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model.Model,
		Temperature: &cfg.Model.Temperature,
		MaxTokens:   &cfg.Model.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating decision model")
		return nil, fmt.Errorf("error creating decision model: %w", err)
	}

	return &LLMReasoner{cm: cm, modelName: cfg.Model.Model, prompt: cfg.Prompt}, nil
}

// NewWithChatModel wires an existing chat model; used by tests.
func NewWithChatModel(cm einomodel.BaseChatModel, prompt model.PromptConfig) *LLMReasoner {
	return &LLMReasoner{cm: cm, modelName: "custom", prompt: prompt}
}

// Decide renders the system prompt, replays the recent history, and asks the
// model for a structured decision.
func (r *LLMReasoner) Decide(ctx context.Context, in model.DecisionInput, history []*schema.Message) (*model.AgentDecision, error) {
	systemPrompt, err := prompts.RenderDecisionSystem(ctx, r.prompt)
	if err != nil {
		return nil, fmt.Errorf("render decision prompt: %w", err)
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, schema.UserMessage(buildUserContext(in)))

	out, err := r.cm.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("decision model generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decision model returned nil message")
	}

	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		logx.Debug().
			Str("conversation_id", in.ConversationID).
			Str("model", r.modelName).
			Int("prompt_tokens", out.ResponseMeta.Usage.PromptTokens).
			Int("completion_tokens", out.ResponseMeta.Usage.CompletionTokens).
			Int("total_tokens", out.ResponseMeta.Usage.TotalTokens).
			Msg("LLM usage")
	}

	return ParseDecision(out.Content)
}

func buildUserContext(in model.DecisionInput) string {
	var b strings.Builder
	b.WriteString("Context:\n")

	wrote := false
	if in.Order != nil {
		if data, err := json.Marshal(in.Order); err == nil {
			b.WriteString("Order Data: ")
			b.Write(data)
			b.WriteString("\n")
			wrote = true
		}
	}
	if strings.TrimSpace(in.PolicyContext) != "" {
		b.WriteString("Policy Context:\n")
		b.WriteString(in.PolicyContext)
		b.WriteString("\n")
		wrote = true
	}
	if !wrote {
		b.WriteString("No additional context available.\n")
	}

	b.WriteString("\nUser Message: ")
	b.WriteString(in.UserMessage)
	return b.String()
}
