package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Alias1177/HotDigits/internal/metrics"
	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
)

const maxWebhookBody = 65536

// SubscriptionStore is the persistence the webhook updates
type SubscriptionStore interface {
	ActivateSubscription(ctx context.Context, userID int64, paymentID, stripeSubscriptionID string) error
	CloseSubscription(ctx context.Context, userID int64) error
	CloseByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (int64, error)
}

// EventVerifier checks the Stripe-Signature header and decodes the event
type EventVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error)
}

// WebhookHandler applies Stripe subscription events to the store
type WebhookHandler struct {
	verifier EventVerifier
	store    SubscriptionStore
	logger   zerolog.Logger
}

// NewWebhookHandler creates the /webhook handler
func NewWebhookHandler(verifier EventVerifier, store SubscriptionStore) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		store:    store,
		logger:   log.With().Str("component", "webhook").Logger(),
	}
}

// ServeHTTP implements http.Handler
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Error reading request body")
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		http.Error(w, "Stripe-Signature header required", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to verify webhook signature")
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	logger := h.logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()

	pe, err := ParseEvent(event)
	if err != nil {
		// A malformed event will not improve on redelivery
		logger.Error().Err(err).Msg("Failed to parse payment event")
		metrics.WebhookEvents.WithLabelValues(eventType, "rejected").Inc()
		writeStatus(w, "ignored")
		return
	}
	if !pe.Handled {
		logger.Debug().Msg("Ignoring event type")
		metrics.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
		writeStatus(w, "ignored")
		return
	}

	if err := h.apply(r.Context(), event.ID, pe); err != nil {
		logger.Error().Err(err).Int64("user_id", pe.UserID).Msg("Failed to update subscription")
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		http.Error(w, "Error updating subscription", http.StatusInternalServerError)
		return
	}

	logger.Info().
		Int64("user_id", pe.UserID).
		Str("status", pe.Status).
		Str("subscription_id", pe.SubscriptionID).
		Msg("Subscription updated")
	metrics.WebhookEvents.WithLabelValues(eventType, "applied").Inc()
	writeStatus(w, "success")
}

func (h *WebhookHandler) apply(ctx context.Context, eventID string, pe PaymentEvent) error {
	switch {
	case pe.Status == models.PaymentStatusAccepted:
		return h.store.ActivateSubscription(ctx, pe.UserID, eventID, pe.SubscriptionID)
	case pe.SubscriptionID != "":
		userID, err := h.store.CloseByStripeSubscriptionID(ctx, pe.SubscriptionID)
		if err != nil || userID != 0 || pe.UserID == 0 {
			return err
		}
		return h.store.CloseSubscription(ctx, pe.UserID)
	case pe.UserID != 0:
		return h.store.CloseSubscription(ctx, pe.UserID)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
