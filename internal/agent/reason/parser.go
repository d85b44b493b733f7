package reason

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

// wireDecision is the untrusted JSON shape the model emits. Enum fields stay
// strings here; coercion to known values happens in the validator.
type wireDecision struct {
	Analysis              string  `json:"analysis"`
	FinalAnswer           string  `json:"final_answer"`
	Action                string  `json:"action"`
	OrderID               *string `json:"order_id"`
	Confidence            float64 `json:"confidence"`
	RequiresHumanApproval bool    `json:"requires_human_approval"`
	NextStep              string  `json:"next_step"`
}

// ParseDecision extracts the decision JSON object from raw model output.
// Markdown code fences and any chatter around the object are tolerated.
func ParseDecision(content string) (dec *model.AgentDecision, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "decision_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("decision parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			dec = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "decision_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}

	body, ok := extractObject(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in model output: %s", safeSnippet(content))
	}

	var w wireDecision
	if uerr := json.Unmarshal([]byte(body), &w); uerr != nil {
		return nil, fmt.Errorf("decode decision: %w (%s)", uerr, safeSnippet(body))
	}

	d := &model.AgentDecision{
		Analysis:              strings.TrimSpace(w.Analysis),
		FinalAnswer:           strings.TrimSpace(w.FinalAnswer),
		Action:                model.ActionType(normalizeEnum(w.Action)),
		Confidence:            w.Confidence,
		RequiresHumanApproval: w.RequiresHumanApproval,
		NextStep:              model.NextStep(normalizeEnum(w.NextStep)),
	}
	if w.OrderID != nil {
		d.OrderID = strings.TrimSpace(*w.OrderID)
	}
	if d.Action == "" {
		d.Action = model.ActionNone
	}
	if d.NextStep == "" {
		d.NextStep = model.StepNone
	}
	return d, nil
}

// extractObject returns the first top-level {...} span, skipping code fences.
func extractObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func normalizeEnum(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrSnippet {
		return s[:maxErrSnippet] + "..."
	}
	return s
}
