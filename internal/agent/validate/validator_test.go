package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/caredesk-core-poc/server/internal/agent/model"
)

func TestValidate_NilDecision(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")

	res := v.Validate(nil, st)

	if res.Decision.FinalAnswer == "" {
		t.Fatal("expected non-empty fallback answer for nil decision")
	}
	if res.Decision.Action != model.ActionNone {
		t.Fatalf("Action = %s, want NONE", res.Decision.Action)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("expected anomaly for nil decision")
	}
}

func TestValidate_EmptyFinalAnswer(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")

	res := v.Validate(&model.AgentDecision{FinalAnswer: "  ", Action: model.ActionNone}, st)

	if strings.TrimSpace(res.Decision.FinalAnswer) == "" {
		t.Fatal("expected fallback to replace empty final answer")
	}
}

func TestValidate_UnknownActionCoerced(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")

	res := v.Validate(&model.AgentDecision{
		FinalAnswer: "done",
		Action:      model.ActionType("DELETE_EVERYTHING"),
	}, st)

	if res.Decision.Action != model.ActionNone {
		t.Fatalf("Action = %s, want NONE", res.Decision.Action)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("expected anomaly for unknown action")
	}
}

func TestValidate_ActionWithoutOrderID(t *testing.T) {
	v := New()

	t.Run("falls back to state order id", func(t *testing.T) {
		st := model.NewConversationState("conv-1")
		st.OrderID = "ORD-001"

		res := v.Validate(&model.AgentDecision{
			FinalAnswer: "cancelling",
			Action:      model.ActionCancelOrder,
		}, st)

		if res.Decision.Action != model.ActionCancelOrder {
			t.Fatalf("Action = %s, want CANCEL_ORDER", res.Decision.Action)
		}
		if res.Decision.OrderID != "ORD-001" {
			t.Fatalf("OrderID = %q, want ORD-001", res.Decision.OrderID)
		}
	})

	t.Run("coerced to NONE without any order", func(t *testing.T) {
		st := model.NewConversationState("conv-1")

		res := v.Validate(&model.AgentDecision{
			FinalAnswer: "cancelling",
			Action:      model.ActionCancelOrder,
		}, st)

		if res.Decision.Action != model.ActionNone {
			t.Fatalf("Action = %s, want NONE", res.Decision.Action)
		}
	})
}

func TestValidate_ForcesHumanApproval(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")
	st.OrderID = "ORD-002"

	res := v.Validate(&model.AgentDecision{
		FinalAnswer:           "refunding",
		Action:                model.ActionRefundOrder,
		OrderID:               "ORD-002",
		RequiresHumanApproval: false,
	}, st)

	if !res.Decision.RequiresHumanApproval {
		t.Fatal("expected requires_human_approval forced true for write action")
	}
}

func TestValidate_ClampsConfidence(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")

	res := v.Validate(&model.AgentDecision{FinalAnswer: "a", Confidence: 1.7, Action: model.ActionNone}, st)
	if res.Decision.Confidence != 1 {
		t.Fatalf("Confidence = %v, want 1", res.Decision.Confidence)
	}

	res = v.Validate(&model.AgentDecision{FinalAnswer: "a", Confidence: -0.2, Action: model.ActionNone}, st)
	if res.Decision.Confidence != 0 {
		t.Fatalf("Confidence = %v, want 0", res.Decision.Confidence)
	}
}

func TestValidate_CoercesUnknownNextStep(t *testing.T) {
	v := New()
	st := model.NewConversationState("conv-1")

	res := v.Validate(&model.AgentDecision{
		FinalAnswer: "a",
		Action:      model.ActionNone,
		NextStep:    model.NextStep("FETCH_MOON"),
	}, st)

	if res.Decision.NextStep != model.StepNone {
		t.Fatalf("NextStep = %s, want NONE", res.Decision.NextStep)
	}
}

func TestFallbackAnswer(t *testing.T) {
	t.Run("order referenced but not found", func(t *testing.T) {
		st := model.NewConversationState("conv-1")
		st.OrderID = "ORD-999"

		got := FallbackAnswer(st)
		if !strings.Contains(got, "ORD-999") {
			t.Fatalf("expected order id in fallback, got %q", got)
		}
	})

	t.Run("order data present", func(t *testing.T) {
		st := model.NewConversationState("conv-1")
		st.OrderID = "ORD-001"
		st.OrderData = &model.Order{
			OrderID:              "ORD-001",
			Status:               model.OrderShipped,
			ExpectedDeliveryDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		}

		got := FallbackAnswer(st)
		if !strings.Contains(got, "ORD-001") || !strings.Contains(got, "SHIPPED") {
			t.Fatalf("expected order summary in fallback, got %q", got)
		}
		if !strings.Contains(got, "2026-09-01") {
			t.Fatalf("expected delivery date in fallback, got %q", got)
		}
	})

	t.Run("no order context", func(t *testing.T) {
		st := model.NewConversationState("conv-1")
		got := FallbackAnswer(st)
		if !strings.Contains(got, "order number") {
			t.Fatalf("expected prompt for order number, got %q", got)
		}
	})
}
