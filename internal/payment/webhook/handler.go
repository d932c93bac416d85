package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"flipflop-be/internal/logger"
	"flipflop-be/internal/order"
	"flipflop-be/internal/payment"
	"flipflop-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TokenHeader  = "x-callback-token"
	maxBodyBytes = 64 << 10
)

type OrderUpdater interface {
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, to order.PaymentStatus, transactionID *string) (*order.Order, error)
}

type Handler struct {
	orders OrderUpdater
	repo   payment.Repository
	token  string
}

func NewWebhookHandler(orders OrderUpdater, repo payment.Repository, token string) *Handler {
	return &Handler{orders: orders, repo: repo, token: token}
}

// VerifyToken compares the callback token header in constant time. An empty
// configured token disables the check.
func (h *Handler) VerifyToken(r *http.Request) error {
	if h.token == "" {
		return nil
	}
	got := r.Header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		return payment.ErrInvalidSignature
	}
	return nil
}

// PaymentWebhookHandler applies a payment-status callback to its order.
// Redelivered events are acknowledged without being applied again.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(zap.String("handler", "PaymentWebhook"))

	if err := h.VerifyToken(r); err != nil {
		log.Warn("rejected payment callback", zap.Error(err))
		utils.WriteJSONError(w, "invalid callback token", http.StatusUnauthorized)
		return
	}
	if h.token == "" {
		log.Warn("payment callback token not configured, skipping verification")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.WriteJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var ev payment.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	to, err := parseEvent(ev)
	if err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	log = log.With(
		zap.String("event_id", ev.EventID),
		zap.String("order_id", ev.OrderID.String()),
		zap.String("status", ev.Status),
		zap.String("transaction_id", utils.PtrString(ev.TransactionID)),
	)

	webhookID, dup, err := h.repo.SaveWebhook(ctx, &payment.Webhook{
		Provider:       payment.ProviderCallback,
		EventID:        ev.EventID,
		OrderID:        ev.OrderID,
		Status:         ev.Status,
		SignatureValid: true,
		Payload:        body,
	})
	if err != nil {
		log.Error("failed to save payment callback", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if dup {
		log.Info("duplicate payment callback ignored")
		utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true})
		return
	}

	if _, err := h.orders.UpdatePaymentStatus(ctx, ev.OrderID, to, ev.TransactionID); err != nil {
		if markErr := h.repo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark callback failed", zap.Error(markErr))
		}

		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			utils.WriteJSONError(w, "order not found", http.StatusNotFound)
		case errors.Is(err, order.ErrInvalidTransition):
			utils.WriteJSONError(w, err.Error(), http.StatusConflict)
		default:
			log.Error("failed to apply payment callback", zap.Error(err))
			utils.WriteJSONError(w, "failed to update order", http.StatusInternalServerError)
		}
		return
	}

	if err := h.repo.MarkWebhookProcessed(ctx, webhookID); err != nil {
		log.Error("failed to mark callback processed", zap.Error(err))
	}

	log.Info("payment callback applied")
	utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func parseEvent(ev payment.Event) (order.PaymentStatus, error) {
	if ev.EventID == "" || ev.OrderID == uuid.Nil {
		return "", payment.ErrInvalidEvent
	}
	switch to := order.PaymentStatus(ev.Status); to {
	case order.PaymentPaid, order.PaymentFailed:
		return to, nil
	default:
		return "", payment.ErrInvalidEvent
	}
}
