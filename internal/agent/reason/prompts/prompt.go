package prompts

import (
	"context"
	_ "embed"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/caredesk-core-poc/server/internal/agent/model"
)

//go:embed template/decision_prompt.txt
var decisionSystemPrompt string

// RenderDecisionSystem renders the decision system prompt via the Eino
// prompt component. Known tokens are substituted with a replacer so the
// JSON braces in the template survive untouched.
func RenderDecisionSystem(ctx context.Context, cfg model.PromptConfig) (string, error) {
	content := strings.NewReplacer(
		"{business_name}", cfg.BusinessName,
		"{business_type}", cfg.BusinessType,
	).Replace(decisionSystemPrompt)

	// Wrap via Eino prompt component using a messages placeholder to emit callbacks
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return content, nil
	}
	return msgs[0].Content, nil
}
