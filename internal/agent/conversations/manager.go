package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/caredesk-core-poc/server/internal/agent/model"
)

// MessagesManager mediates between the engine and the conversation history
// store, keeping the reasoning context bounded to the most recent turns.
type MessagesManager struct {
	repo     model.ConversationRepository
	maxTurns int
}

func NewMessagesManager(repo model.ConversationRepository, cfg model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		repo:     repo,
		maxTurns: cfg.MaxTurns,
	}
}

// RecordUserMessage appends the inbound message to the durable history.
func (m *MessagesManager) RecordUserMessage(ctx context.Context, conversationID, text string) error {
	return m.repo.AddMessage(ctx, conversationID, schema.UserMessage(text))
}

// RecordResponse appends the assistant's final response to the history.
func (m *MessagesManager) RecordResponse(ctx context.Context, conversationID, content string) error {
	return m.repo.AddMessage(ctx, conversationID, schema.AssistantMessage(content, nil))
}

// HistoryTail loads the most recent turns for the reasoning context.
func (m *MessagesManager) HistoryTail(ctx context.Context, conversationID string) ([]*schema.Message, error) {
	history, err := m.repo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return trimTail(history.Messages, m.maxTurns), nil
}

// Clear drops the full history of a conversation.
func (m *MessagesManager) Clear(ctx context.Context, conversationID string) error {
	return m.repo.ClearHistory(ctx, conversationID)
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
