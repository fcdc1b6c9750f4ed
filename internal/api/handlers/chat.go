package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"companion/internal/catalog"
	"companion/internal/core"
	"companion/internal/entitlement"
	"companion/internal/external"
	"companion/internal/types"
	"companion/internal/usage"
)

// SendAuthorizer gates a message before it reaches the model.
type SendAuthorizer interface {
	Today() usage.Day
	AuthorizeSend(ctx context.Context, subject *types.Subject, persona types.Persona) (entitlement.Quota, error)
}

// SendRecorder admits a message before the model call and counts it once
// the model replied.
type SendRecorder interface {
	Reserve(ctx context.Context, subject *types.Subject, persona types.Persona, day usage.Day, sendID string) (entitlement.Reservation, error)
	RecordSend(ctx context.Context, subject *types.Subject, persona types.Persona, res entitlement.Reservation) (entitlement.Quota, error)
	Release(ctx context.Context, res entitlement.Reservation) error
}

// ChatMetrics receives chat outcomes.
type ChatMetrics interface {
	RecordQuotaRejected(ctx context.Context, personaID string)
	RecordMessageSent(ctx context.Context, personaID string)
}

// maxChatHistory bounds the turns forwarded to the model.
const maxChatHistory = 40

// ChatRequest is the body of POST /v1/chat/messages.
type ChatRequest struct {
	PersonaID string        `json:"persona_id" validate:"required,persona_id"`
	Messages  []ChatMessage `json:"messages" validate:"required,min=1,max=40,dive"`
}

// ChatMessage is one prior turn supplied by the client.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,max=4000"`
}

// ChatResponse is the reply plus the allowance left after this send.
type ChatResponse struct {
	Reply string            `json:"reply"`
	Model string            `json:"model,omitempty"`
	Quota entitlement.Quota `json:"quota"`
}

// ChatHandler runs the gated send: authorize and reserve, call the model,
// then count.
type ChatHandler struct {
	personas  catalog.Registry
	subjects  SubjectStore
	gate      SendAuthorizer
	meter     SendRecorder
	model     external.ChatModel
	metrics   ChatMetrics
	validator *core.Validator
	logger    *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(
	personas catalog.Registry,
	subjects SubjectStore,
	gate SendAuthorizer,
	meter SendRecorder,
	model external.ChatModel,
	metrics ChatMetrics,
	v *core.Validator,
	logger *slog.Logger,
) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		personas:  personas,
		subjects:  subjects,
		gate:      gate,
		meter:     meter,
		model:     model,
		metrics:   metrics,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts POST /chat/messages.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/messages", h.Send)
}

// Send answers one user message. The Idempotency-Key header identifies the
// send: a key this subject already used is rejected with 409 before the
// model is called. The send holds a slot while the model answers and is
// counted only once it replied.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != string(external.RoleUser) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest, "last message must be from the user", nil))
		return
	}

	persona, err := lookupPersona(h.personas, req.PersonaID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	subject, err := currentSubject(r, h.subjects)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	day := h.gate.Today()
	if _, err := h.gate.AuthorizeSend(ctx, subject, persona); err != nil {
		h.reject(w, r, persona, err)
		return
	}

	sendID := r.Header.Get("Idempotency-Key")
	if sendID == "" {
		sendID = uuid.NewString()
	}
	res, err := h.meter.Reserve(ctx, subject, persona, day, sendID)
	if err != nil {
		h.reject(w, r, persona, err)
		return
	}

	reply, err := h.model.Complete(ctx, external.ChatRequest{
		Persona:  persona,
		Messages: toChatMessages(req.Messages),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "chat completion failed",
			slog.String("subject_id", subject.ID),
			slog.String("persona_id", persona.ID),
			slog.Any("error", err),
		)
		// The request context may already be done; the slot must still be freed.
		if rerr := h.meter.Release(context.WithoutCancel(ctx), res); rerr != nil {
			h.logger.ErrorContext(ctx, "failed to release message reservation",
				slog.String("subject_id", subject.ID),
				slog.String("send_id", sendID),
				slog.Any("error", rerr),
			)
		}
		core.Error(w, r, err)
		return
	}

	quota, err := h.meter.RecordSend(context.WithoutCancel(ctx), subject, persona, res)
	if err != nil {
		// The reply exists but could not be counted; it is still delivered.
		h.logger.ErrorContext(ctx, "failed to record message send",
			slog.String("subject_id", subject.ID),
			slog.String("send_id", sendID),
			slog.Any("error", err),
		)
		core.OK(w, r, ChatResponse{Reply: reply.Content, Model: reply.Model})
		return
	}
	h.metrics.RecordMessageSent(ctx, persona.ID)

	core.OK(w, r, ChatResponse{Reply: reply.Content, Model: reply.Model, Quota: quota})
}

// reject writes an admission error, counting quota rejections.
func (h *ChatHandler) reject(w http.ResponseWriter, r *http.Request, persona types.Persona, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeLimitDailyMessages {
		h.metrics.RecordQuotaRejected(r.Context(), persona.ID)
	}
	core.Error(w, r, err)
}

func toChatMessages(in []ChatMessage) []external.ChatMessage {
	if len(in) > maxChatHistory {
		in = in[len(in)-maxChatHistory:]
	}
	out := make([]external.ChatMessage, len(in))
	for i, m := range in {
		out[i] = external.ChatMessage{Role: external.ChatRole(m.Role), Content: m.Content}
	}
	return out
}
