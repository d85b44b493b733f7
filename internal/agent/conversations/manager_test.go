package conversations

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/caredesk-core-poc/server/internal/agent/model"
)

type memRepo struct {
	messages map[string][]*schema.Message
}

func newMemRepo() *memRepo {
	return &memRepo{messages: make(map[string][]*schema.Message)}
}

func (r *memRepo) AddMessage(ctx context.Context, conversationID string, message *schema.Message) error {
	r.messages[conversationID] = append(r.messages[conversationID], message)
	return nil
}

func (r *memRepo) LoadHistory(ctx context.Context, conversationID string) (*model.ConversationHistory, error) {
	return &model.ConversationHistory{
		ConversationID: conversationID,
		Messages:       r.messages[conversationID],
	}, nil
}

func (r *memRepo) ClearHistory(ctx context.Context, conversationID string) error {
	delete(r.messages, conversationID)
	return nil
}

func TestMessagesManager_RecordAndTail(t *testing.T) {
	repo := newMemRepo()
	m := NewMessagesManager(repo, model.ConversationConfig{MaxTurns: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.RecordUserMessage(ctx, "conv-1", "question"); err != nil {
			t.Fatalf("RecordUserMessage returned error: %v", err)
		}
		if err := m.RecordResponse(ctx, "conv-1", "answer"); err != nil {
			t.Fatalf("RecordResponse returned error: %v", err)
		}
	}

	tail, err := m.HistoryTail(ctx, "conv-1")
	if err != nil {
		t.Fatalf("HistoryTail returned error: %v", err)
	}
	if len(tail) != 4 {
		t.Fatalf("tail length = %d, want 4 (bounded by MaxTurns)", len(tail))
	}
	// The tail keeps the most recent messages, ending with the last answer.
	if tail[len(tail)-1].Role != schema.Assistant {
		t.Errorf("last tail role = %s, want assistant", tail[len(tail)-1].Role)
	}
}

func TestMessagesManager_TailShorterThanLimit(t *testing.T) {
	repo := newMemRepo()
	m := NewMessagesManager(repo, model.ConversationConfig{MaxTurns: 10})
	ctx := context.Background()

	if err := m.RecordUserMessage(ctx, "conv-1", "hi"); err != nil {
		t.Fatalf("RecordUserMessage returned error: %v", err)
	}

	tail, err := m.HistoryTail(ctx, "conv-1")
	if err != nil {
		t.Fatalf("HistoryTail returned error: %v", err)
	}
	if len(tail) != 1 {
		t.Fatalf("tail length = %d, want 1", len(tail))
	}
}

func TestMessagesManager_Clear(t *testing.T) {
	repo := newMemRepo()
	m := NewMessagesManager(repo, model.ConversationConfig{MaxTurns: 10})
	ctx := context.Background()

	_ = m.RecordUserMessage(ctx, "conv-1", "hi")
	if err := m.Clear(ctx, "conv-1"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	tail, _ := m.HistoryTail(ctx, "conv-1")
	if len(tail) != 0 {
		t.Fatalf("tail length = %d after clear, want 0", len(tail))
	}
}
