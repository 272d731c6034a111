package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Alias1177/HotDigits/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrMissingUserID is returned for payment events without a user_id in metadata
var ErrMissingUserID = errors.New("user_id not found in metadata")

// StripeService handles Stripe payment operations
type StripeService struct {
	SubscriptionPriceID string
	WebhookSecret       string
	BotUsername         string
	logger              zerolog.Logger
}

// NewStripeService creates a new Stripe payment service from the environment
func NewStripeService() *StripeService {
	stripe.Key = os.Getenv("STRIPE_API_KEY")

	return &StripeService{
		SubscriptionPriceID: os.Getenv("STRIPE_SUBSCRIPTION_PRICE_ID"),
		WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		BotUsername:         os.Getenv("TELEGRAM_BOT_USERNAME"),
		logger:              log.With().Str("component", "stripe").Logger(),
	}
}

// ValidateConfig reports missing settings needed for checkout
func (s *StripeService) ValidateConfig() error {
	if stripe.Key == "" {
		return fmt.Errorf("STRIPE_API_KEY not set")
	}
	if s.SubscriptionPriceID == "" {
		return fmt.Errorf("STRIPE_SUBSCRIPTION_PRICE_ID not set")
	}
	if s.BotUsername == "" {
		return fmt.Errorf("TELEGRAM_BOT_USERNAME not set")
	}
	return nil
}

// CheckoutParams builds the session parameters; the user id is stored on both the
// session and the subscription so later subscription events can be attributed.
func (s *StripeService) CheckoutParams(userID int64) *stripe.CheckoutSessionParams {
	successURL := fmt.Sprintf("https://t.me/%s?start=payment_success", s.BotUsername)
	cancelURL := fmt.Sprintf("https://t.me/%s?start=payment_cancel", s.BotUsername)

	metadata := map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
	}

	return &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.SubscriptionPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}
}

// CreateCheckoutSession creates a new Stripe checkout session for a subscription
func (s *StripeService) CreateCheckoutSession(userID int64) (string, string, error) {
	if err := s.ValidateConfig(); err != nil {
		return "", "", err
	}

	sess, err := session.New(s.CheckoutParams(userID))
	if err != nil {
		return "", "", fmt.Errorf("creating checkout session: %w", err)
	}

	s.logger.Info().Int64("user_id", userID).Str("session_id", sess.ID).Msg("Checkout session created")
	return sess.ID, sess.URL, nil
}

// VerifyWebhookSignature verifies the signature of a Stripe webhook event
func (s *StripeService) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// PaymentEvent is the subscription change carried by a webhook event
type PaymentEvent struct {
	Handled        bool
	UserID         int64
	Status         string
	SubscriptionID string
}

// ParseEvent extracts the subscription change from a Stripe event. Event types
// that don't affect subscriptions come back with Handled false.
func ParseEvent(event *stripe.Event) (PaymentEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return PaymentEvent{}, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		userID, err := userIDFrom(sess.Metadata)
		if err != nil {
			return PaymentEvent{}, err
		}
		ev := PaymentEvent{Handled: true, UserID: userID, Status: models.PaymentStatusAccepted}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		return ev, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return PaymentEvent{}, fmt.Errorf("failed to parse subscription: %w", err)
		}
		ev := PaymentEvent{Handled: true, Status: models.PaymentStatusClosed, SubscriptionID: sub.ID}
		if userID, err := userIDFrom(sub.Metadata); err == nil {
			ev.UserID = userID
		}
		return ev, nil

	default:
		return PaymentEvent{}, nil
	}
}

func userIDFrom(metadata map[string]string) (int64, error) {
	raw, ok := metadata["user_id"]
	if !ok {
		return 0, ErrMissingUserID
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user_id %q: %w", raw, err)
	}
	return userID, nil
}

// CancelSubscription cancels a Stripe subscription immediately
func (s *StripeService) CancelSubscription(subscriptionID string) error {
	_, err := subscription.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return fmt.Errorf("cancelling subscription %s: %w", subscriptionID, err)
	}
	s.logger.Info().Str("subscription_id", subscriptionID).Msg("Subscription cancelled")
	return nil
}

// FindSubscriptionByUserID searches active subscriptions by the user_id metadata
func (s *StripeService) FindSubscriptionByUserID(userID int64) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionSearchParams{}
	params.Query = fmt.Sprintf("status:'active' AND metadata['user_id']:'%d'", userID)

	iter := subscription.Search(params)
	if iter.Next() {
		return iter.Subscription(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no active subscription found for user %d", userID)
}
