// Package server exposes the agent over HTTP: one endpoint per trigger plus
// approval inspection and conversation cleanup.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/caredesk-core-poc/server/internal/agent/model"
	errx "github.com/caredesk-core-poc/server/internal/core/error"
	logx "github.com/caredesk-core-poc/server/pkg/logger"
)

// Agent is the engine surface the server drives.
type Agent interface {
	HandleMessage(ctx context.Context, conversationID, text string) (*model.TurnResult, error)
}

// ApprovalGate is the approval surface the server drives.
type ApprovalGate interface {
	Get(ctx context.Context, approvalID string) (*model.Approval, error)
	Resolve(ctx context.Context, approvalID string, decision model.ApprovalStatus) (*model.Approval, *model.TurnResult, error)
}

type Server struct {
	agent   Agent
	gate    ApprovalGate
	states  model.StateStore
	history model.ConversationRepository
}

func New(agent Agent, gate ApprovalGate, states model.StateStore, history model.ConversationRepository) *Server {
	return &Server{agent: agent, gate: gate, states: states, history: history}
}

// Handler builds the chi router wrapped with otel instrumentation.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Post("/approvals/{approvalID}", s.handleResolveApproval)
	r.Get("/approvals/{approvalID}", s.handleGetApproval)
	r.Delete("/conversations/{conversationID}", s.handleDeleteConversation)

	return otelhttp.NewHandler(r, "http.server")
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID   string `json:"conversation_id"`
	Response         string `json:"response"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalID       string `json:"approval_id,omitempty"`
	Degraded         bool   `json:"degraded,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "message must not be empty"))
		return
	}

	result, err := s.agent.HandleMessage(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID:   result.ConversationID,
		Response:         result.Response,
		RequiresApproval: result.RequiresApproval,
		ApprovalID:       result.ApprovalID,
		Degraded:         result.Degraded,
	})
}

type approvalRequest struct {
	Decision string `json:"decision"`
}

type approvalResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, "invalid request body"))
		return
	}

	decision := model.ApprovalStatus(strings.ToUpper(strings.TrimSpace(req.Decision)))
	ap, result, err := s.gate.Resolve(r.Context(), approvalID, decision)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := ""
	if result != nil {
		msg = result.Response
	}
	if msg == "" {
		msg = "Action " + string(ap.Action) + " for order " + ap.OrderID + " has been " + strings.ToLower(string(ap.Status)) + "."
	}
	writeJSON(w, http.StatusOK, approvalResponse{
		Status:  strings.ToLower(string(ap.Status)),
		Message: msg,
	})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	ap, err := s.gate.Get(r.Context(), chi.URLParam(r, "approvalID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ap)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if err := s.states.Delete(r.Context(), conversationID); err != nil && !errors.Is(err, errx.ErrNotFound) {
		writeError(w, err)
		return
	}
	if err := s.history.ClearHistory(r.Context(), conversationID); err != nil && !errors.Is(err, errx.ErrNotFound) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errx.StatusOf(err)
	msg := errx.SystemErrorMessage

	var app *errx.AppError
	if errors.As(err, &app) {
		msg = app.Message
	}
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logx.Debug().Err(err).Int("status", status).Msg("client error")
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
