// Package validate enforces schema and safety constraints on reasoning
// output before any field of it is trusted downstream.
package validate

import (
	"fmt"
	"strings"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// Result is a validated decision plus the anomalies that were coerced away.
// Anomalies are recorded for observability; they never abort a turn.
type Result struct {
	Decision  model.AgentDecision
	Anomalies []string
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate repairs a raw decision in the context of the current state.
// Guarantees on the returned decision:
//   - FinalAnswer is non-empty (deterministic, context-aware fallback)
//   - Action is a known enum value
//   - Action != NONE implies a non-empty OrderID and RequiresHumanApproval
func (v *Validator) Validate(dec *model.AgentDecision, st *model.ConversationState) Result {
	var res Result

	if dec == nil {
		res.Anomalies = append(res.Anomalies, "nil decision from reasoning capability")
		res.Decision = model.AgentDecision{
			Action:      model.ActionNone,
			NextStep:    model.StepNone,
			FinalAnswer: FallbackAnswer(st),
		}
		v.report(st, res.Anomalies)
		return res
	}

	res.Decision = *dec

	if strings.TrimSpace(res.Decision.FinalAnswer) == "" {
		res.Anomalies = append(res.Anomalies, "empty final_answer")
		res.Decision.FinalAnswer = FallbackAnswer(st)
	}

	if !model.KnownAction(res.Decision.Action) {
		res.Anomalies = append(res.Anomalies, fmt.Sprintf("unknown action %q coerced to NONE", res.Decision.Action))
		res.Decision.Action = model.ActionNone
	}

	if res.Decision.Action != model.ActionNone {
		if strings.TrimSpace(res.Decision.OrderID) == "" {
			// Fall back to the order resolved earlier in the turn before
			// giving up on the action.
			if st.OrderID != "" {
				res.Decision.OrderID = st.OrderID
			} else {
				res.Anomalies = append(res.Anomalies, fmt.Sprintf("action %s without order_id coerced to NONE", res.Decision.Action))
				res.Decision.Action = model.ActionNone
			}
		}
	}

	if res.Decision.Action != model.ActionNone && !res.Decision.RequiresHumanApproval {
		res.Anomalies = append(res.Anomalies, "requires_human_approval forced true for write action")
		res.Decision.RequiresHumanApproval = true
	}

	if res.Decision.Confidence < 0 {
		res.Anomalies = append(res.Anomalies, "negative confidence clamped to 0")
		res.Decision.Confidence = 0
	} else if res.Decision.Confidence > 1 {
		res.Anomalies = append(res.Anomalies, "confidence above 1 clamped to 1")
		res.Decision.Confidence = 1
	}

	switch res.Decision.NextStep {
	case model.StepNone, model.StepFetchOrder, model.StepFetchPolicy, model.StepDone, "":
	default:
		res.Anomalies = append(res.Anomalies, fmt.Sprintf("unknown next_step %q coerced to NONE", res.Decision.NextStep))
		res.Decision.NextStep = model.StepNone
	}
	if res.Decision.NextStep == "" {
		res.Decision.NextStep = model.StepNone
	}

	v.report(st, res.Anomalies)
	return res
}

func (v *Validator) report(st *model.ConversationState, anomalies []string) {
	for _, a := range anomalies {
		logx.Warn().
			Str("conversation_id", st.ConversationID).
			Str("anomaly", a).
			Msg("validation anomaly in reasoning output")
	}
}

// FallbackAnswer builds a deterministic answer that names what is still
// needed, derived from what the turn managed to gather. It is used whenever
// the reasoning capability fails or returns no usable text.
func FallbackAnswer(st *model.ConversationState) string {
	switch {
	case st.OrderID != "" && st.OrderData == nil:
		return fmt.Sprintf(
			"I couldn't find an order matching %s in our records. Could you double-check the order number? It usually looks like %s followed by digits.",
			st.OrderID, strings.TrimSuffix(st.OrderID, digitsSuffix(st.OrderID)),
		)
	case st.OrderData != nil:
		return fmt.Sprintf(
			"Here is what I can confirm about order %s: its status is %s and the expected delivery date is %s. Let me know what you'd like to do with it, for example checking the status again, cancelling, or requesting a refund.",
			st.OrderData.OrderID, st.OrderData.Status, st.OrderData.ExpectedDeliveryDate.Format("2006-01-02"),
		)
	default:
		return "I can help with order status, cancellations, and refunds. Could you share your order number so I can look it up?"
	}
}

func digitsSuffix(id string) string {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	return id[i:]
}
