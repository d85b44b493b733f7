// Package engine drives the agent graph: a bounded, resumable state machine
// over a fixed set of named nodes. Each inbound request (new message or
// approval resolution) is an independent unit of work that reconstructs the
// conversation from durable state, advances it until a terminal or paused
// node, and persists the result. There is no in-process continuation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/caredesk-core-poc/server/internal/agent/approval"
	"github.com/caredesk-core-poc/server/internal/agent/conversations"
	"github.com/caredesk-core-poc/server/internal/agent/exec"
	"github.com/caredesk-core-poc/server/internal/agent/model"
	"github.com/caredesk-core-poc/server/internal/agent/orderid"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// Trigger is an event that advances a conversation.
type Trigger interface{ isTrigger() }

// NewMessage starts a fresh turn for an inbound user message.
type NewMessage struct {
	ConversationID string
	Text           string
}

// ApprovalResolved resumes a conversation paused on the given approval. The
// approval must already carry its resolved status.
type ApprovalResolved struct {
	Approval *model.Approval
}

func (NewMessage) isTrigger()       {}
func (ApprovalResolved) isTrigger() {}

// stepFunc performs one node's work and names the next node.
type stepFunc func(ctx context.Context, t *turn) (model.Node, error)

// turn carries the per-request working set alongside the durable state.
type turn struct {
	st *model.ConversationState
	// approval is set when the turn was triggered by an approval resolution.
	approval *model.Approval
	// notice overrides the decision text in FORMAT_RESPONSE (rejections).
	notice string
}

// Deps are the collaborators the engine sequences.
type Deps struct {
	States   model.StateStore
	Messages *conversations.MessagesManager
	Orders   model.OrderRepository
	Policies model.PolicyRetriever
	Reasoner model.Reasoner
	Gate     *approval.Gate
	Executor *exec.Executor
	Norm     *orderid.Normalizer
}

type Engine struct {
	deps   Deps
	cfg    model.EngineConfig
	steps  map[model.Node]stepFunc
	locks  keyedMutex
	tracer trace.Tracer
}

// New validates the dependency set and builds the transition table.
func New(deps Deps, cfg model.EngineConfig) (*Engine, error) {
	switch {
	case deps.States == nil:
		return nil, fmt.Errorf("state store is nil")
	case deps.Messages == nil:
		return nil, fmt.Errorf("messages manager is nil")
	case deps.Orders == nil:
		return nil, fmt.Errorf("order repository is nil")
	case deps.Policies == nil:
		return nil, fmt.Errorf("policy retriever is nil")
	case deps.Reasoner == nil:
		return nil, fmt.Errorf("reasoner is nil")
	case deps.Gate == nil:
		return nil, fmt.Errorf("approval gate is nil")
	case deps.Executor == nil:
		return nil, fmt.Errorf("executor is nil")
	case deps.Norm == nil:
		return nil, fmt.Errorf("order id normalizer is nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}

	e := &Engine{
		deps:   deps,
		cfg:    cfg,
		locks:  newKeyedMutex(),
		tracer: otel.Tracer("agent/engine"),
	}
	e.steps = map[model.Node]stepFunc{
		model.NodeClassifyIntent: e.classifyIntent,
		model.NodeFetchOrder:     e.fetchOrder,
		model.NodeFetchPolicy:    e.fetchPolicy,
		model.NodeReason:         e.reason,
		model.NodeValidateOutput: e.validateOutput,
		model.NodeExecuteAction:  e.executeAction,
		model.NodeFormatResponse: e.formatResponse,
	}
	return e, nil
}

// Advance applies a trigger to a conversation and returns the turn outcome.
// Capability failures never escape: they are absorbed at their node and at
// worst degrade the response.
func (e *Engine) Advance(ctx context.Context, trigger Trigger) (result *model.TurnResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Msgf("engine panic recovered: %v", r)
			result = nil
			err = errx.New(fmt.Errorf("engine panic: %v", r), http.StatusInternalServerError, errx.SystemErrorMessage)
		}
	}()

	switch tr := trigger.(type) {
	case NewMessage:
		return e.handleMessage(ctx, tr.ConversationID, tr.Text)
	case ApprovalResolved:
		return e.ResumeApproval(ctx, tr.Approval)
	default:
		return nil, fmt.Errorf("unknown trigger %T", trigger)
	}
}

// HandleMessage runs one turn for an inbound message, creating the
// conversation when no id is supplied.
func (e *Engine) HandleMessage(ctx context.Context, conversationID, text string) (*model.TurnResult, error) {
	return e.Advance(ctx, NewMessage{ConversationID: conversationID, Text: text})
}

func (e *Engine) handleMessage(ctx context.Context, conversationID, text string) (*model.TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errx.New(fmt.Errorf("empty message"), http.StatusBadRequest, "message must not be empty")
	}
	if conversationID == "" {
		conversationID = "conv-" + uuid.NewString()[:8]
	}

	unlock := e.locks.lock(conversationID)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "engine.turn",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	st, err := e.deps.States.Load(ctx, conversationID)
	switch {
	case err == nil:
	case errors.Is(err, errx.ErrNotFound):
		st = model.NewConversationState(conversationID)
	default:
		return nil, err
	}

	// A turn arriving while the conversation is paused does not advance the
	// graph; the outstanding approval keeps its claim on the state.
	if st.AwaitingApproval() {
		logx.Info().
			Str("conversation_id", conversationID).
			Str("approval_id", st.PendingApprovalID).
			Msg("message received while awaiting approval")
		return &model.TurnResult{
			ConversationID:   conversationID,
			Response:         fmt.Sprintf("Your previous request is still awaiting human review (approval %s). I'll continue as soon as it is resolved.", st.PendingApprovalID),
			RequiresApproval: true,
			ApprovalID:       st.PendingApprovalID,
		}, nil
	}

	if err := e.deps.Messages.RecordUserMessage(ctx, conversationID, text); err != nil {
		logx.Warn().Err(err).
			Str("conversation_id", conversationID).
			Msg("failed to record user message")
	}

	e.beginTurn(st, text)
	return e.run(ctx, &turn{st: st}, model.NodeClassifyIntent)
}

// beginTurn applies the NewMessage reset rules: iteration counter back to
// zero and fetched data invalidated unless the message reconfirms the order
// already loaded.
func (e *Engine) beginTurn(st *model.ConversationState, text string) {
	st.UserMessage = text
	st.IterationCount = 0
	st.Degraded = false
	st.AgentDecision = nil
	st.RequestedAction = model.ActionNone
	st.NextStep = model.StepNone
	st.ExecutionResult = nil
	st.FinalResponse = ""

	id, ok := e.deps.Norm.Extract(text)
	if ok && id == st.OrderID && st.OrderData != nil {
		return // same order reconfirmed, keep the snapshot
	}
	st.OrderID = id
	st.OrderData = nil
	st.PolicyContext = ""
}

// ResumeApproval continues a conversation paused in AWAIT_APPROVAL. Only the
// matching pending approval may resume it; anything else is an invalid
// approval state and mutates nothing.
func (e *Engine) ResumeApproval(ctx context.Context, ap *model.Approval) (*model.TurnResult, error) {
	if ap == nil {
		return nil, errx.InvalidApproval("missing approval record")
	}

	unlock := e.locks.lock(ap.ConversationID)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "engine.resume",
		trace.WithAttributes(
			attribute.String("conversation_id", ap.ConversationID),
			attribute.String("approval_id", ap.ApprovalID),
		))
	defer span.End()

	st, err := e.deps.States.Load(ctx, ap.ConversationID)
	if err != nil {
		if errors.Is(err, errx.ErrNotFound) {
			return nil, errx.InvalidApproval(fmt.Sprintf("no conversation state for approval %s", ap.ApprovalID))
		}
		return nil, err
	}
	if !st.AwaitingApproval() || st.PendingApprovalID != ap.ApprovalID {
		return nil, errx.InvalidApproval(fmt.Sprintf("conversation %s is not awaiting approval %s", ap.ConversationID, ap.ApprovalID))
	}

	t := &turn{st: st, approval: ap}
	switch ap.Status {
	case model.ApprovalApproved:
		return e.run(ctx, t, model.NodeExecuteAction)
	case model.ApprovalRejected:
		st.RequestedAction = model.ActionNone
		st.PendingApprovalID = ""
		t.notice = fmt.Sprintf("The %s request for order %s was rejected by a human reviewer. No changes were made to the order.",
			humanAction(ap.Action), ap.OrderID)
		return e.run(ctx, t, model.NodeFormatResponse)
	default:
		return nil, errx.InvalidApproval(fmt.Sprintf("approval %s is still pending", ap.ApprovalID))
	}
}

// run dispatches nodes from the transition table until the turn pauses or
// terminates. A hard step budget backstops the iteration bound.
func (e *Engine) run(ctx context.Context, t *turn, node model.Node) (*model.TurnResult, error) {
	budget := e.cfg.MaxIterations*4 + 8

	for steps := 0; steps < budget; steps++ {
		step, ok := e.steps[node]
		if !ok {
			return nil, fmt.Errorf("no handler for node %s", node)
		}

		nodeCtx, span := e.tracer.Start(ctx, "node."+string(node),
			trace.WithAttributes(attribute.String("conversation_id", t.st.ConversationID)))
		next, err := step(nodeCtx, t)
		span.End()
		if err != nil {
			return nil, err
		}

		logx.Debug().
			Str("conversation_id", t.st.ConversationID).
			Str("node", string(node)).
			Str("next", string(next)).
			Int("iteration", t.st.IterationCount).
			Msg("node transition")

		switch next {
		case model.NodeAwaitApproval:
			if err := e.persist(ctx, t.st); err != nil {
				return nil, err
			}
			return &model.TurnResult{
				ConversationID:   t.st.ConversationID,
				Response:         t.st.AgentDecision.FinalAnswer,
				RequiresApproval: true,
				ApprovalID:       t.st.PendingApprovalID,
				Degraded:         t.st.Degraded,
			}, nil
		case model.NodeEnd:
			if err := e.persist(ctx, t.st); err != nil {
				return nil, err
			}
			return &model.TurnResult{
				ConversationID: t.st.ConversationID,
				Response:       t.st.FinalResponse,
				Degraded:       t.st.Degraded,
			}, nil
		}
		node = next
	}

	// Budget exhausted: force a degraded terminal response.
	logx.Warn().
		Str("conversation_id", t.st.ConversationID).
		Int("budget", budget).
		Msg("step budget exhausted, forcing termination")
	t.st.Degraded = true
	t.st.NextStep = model.StepNone
	if _, err := e.formatResponse(ctx, t); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, t.st); err != nil {
		return nil, err
	}
	return &model.TurnResult{
		ConversationID: t.st.ConversationID,
		Response:       t.st.FinalResponse,
		Degraded:       true,
	}, nil
}

func (e *Engine) persist(ctx context.Context, st *model.ConversationState) error {
	st.UpdatedAt = time.Now().UTC()
	return e.deps.States.Save(ctx, st)
}

// capCtx bounds an external capability call; a timeout is handled like any
// other capability failure.
func (e *Engine) capCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := time.Duration(e.cfg.CapabilityTimeout) * time.Second
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func humanAction(a model.ActionType) string {
	switch a {
	case model.ActionCancelOrder:
		return "cancellation"
	case model.ActionRefundOrder:
		return "refund"
	default:
		return strings.ToLower(string(a))
	}
}

// keyedMutex serializes state mutation per conversation id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*lockEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
