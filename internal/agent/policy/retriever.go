// Package policy provides the default policy retrieval capability: a small
// embedded corpus ranked by keyword overlap. The vector-store-backed
// retriever lives behind the same model.PolicyRetriever contract.
package policy

import (
	"context"
	"sort"
	"strings"

	"github.com/caredesk-core-poc/server/internal/agent/model"
)

var defaultSnippets = []string{
	"Cancellation policy: orders in PLACED or SHIPPED status can be cancelled. Delivered orders cannot be cancelled; use the refund process instead. Cancelling an already cancelled order has no further effect.",
	"Refund policy: refunds are available for refundable orders within 30 days of delivery. The refund is issued to the original payment method and a refund reference is provided. Non-refundable orders are excluded.",
	"Shipping delays: if an order has passed its expected delivery date, the customer may request status investigation, cancellation, or a refund depending on the order state. Delayed PLACED orders qualify for free cancellation.",
	"Returns and exchanges: items can be returned within 14 days of delivery in original condition. Exchanges follow the same window and require a support-confirmed return label.",
	"Warranty: electronics carry a 12 month manufacturer warranty. Warranty claims are handled separately from refunds and do not require order cancellation.",
}

type StaticRetriever struct {
	snippets []string
}

var _ model.PolicyRetriever = (*StaticRetriever)(nil)

// NewStaticRetriever returns a retriever over the built-in policy corpus.
func NewStaticRetriever() *StaticRetriever {
	return &StaticRetriever{snippets: defaultSnippets}
}

// NewStaticRetrieverWith returns a retriever over a custom corpus.
func NewStaticRetrieverWith(snippets []string) *StaticRetriever {
	return &StaticRetriever{snippets: snippets}
}

// Retrieve ranks snippets by word overlap with the query and returns the
// topK scored above zero. An empty result is valid.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, topK int) ([]model.PolicySnippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 3
	}

	words := queryWords(query)
	ranked := make([]model.PolicySnippet, 0, len(r.snippets))
	for _, s := range r.snippets {
		if score := overlap(words, s); score > 0 {
			ranked = append(ranked, model.PolicySnippet{Text: s, Score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func queryWords(query string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?:;\"'()#")
		if len(w) < 3 {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

func overlap(words map[string]struct{}, snippet string) float64 {
	if len(words) == 0 {
		return 0
	}
	text := strings.ToLower(snippet)
	hits := 0
	for w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
