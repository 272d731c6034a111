package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Alias1177/HotDigits/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func event(t *testing.T, typ string, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{ID: "evt_test", Type: stripe.EventType(typ), Data: &stripe.EventData{Raw: raw}}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   *stripe.Event
		want    PaymentEvent
		wantErr error
	}{
		{
			name: "checkout completed",
			event: event(t, "checkout.session.completed", map[string]any{
				"id":           "cs_1",
				"subscription": "sub_1",
				"metadata":     map[string]string{"user_id": "42"},
			}),
			want: PaymentEvent{Handled: true, UserID: 42, Status: models.PaymentStatusAccepted, SubscriptionID: "sub_1"},
		},
		{
			name: "checkout without user",
			event: event(t, "checkout.session.completed", map[string]any{
				"id": "cs_2",
			}),
			wantErr: ErrMissingUserID,
		},
		{
			name: "subscription deleted",
			event: event(t, "customer.subscription.deleted", map[string]any{
				"id":       "sub_1",
				"metadata": map[string]string{"user_id": "42"},
			}),
			want: PaymentEvent{Handled: true, UserID: 42, Status: models.PaymentStatusClosed, SubscriptionID: "sub_1"},
		},
		{
			name: "subscription deleted without metadata",
			event: event(t, "customer.subscription.deleted", map[string]any{
				"id": "sub_9",
			}),
			want: PaymentEvent{Handled: true, Status: models.PaymentStatusClosed, SubscriptionID: "sub_9"},
		},
		{
			name:  "unrelated event",
			event: event(t, "charge.refunded", map[string]any{"id": "ch_1"}),
			want:  PaymentEvent{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent(tt.event)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckoutParamsCarryUserID(t *testing.T) {
	s := &StripeService{SubscriptionPriceID: "price_1", BotUsername: "digits_bot"}
	p := s.CheckoutParams(42)

	assert.Equal(t, "42", p.Metadata["user_id"])
	assert.Equal(t, "42", p.SubscriptionData.Metadata["user_id"])
	assert.Equal(t, "https://t.me/digits_bot?start=payment_success", *p.SuccessURL)
	assert.Equal(t, "price_1", *p.LineItems[0].Price)
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	s := &StripeService{WebhookSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)

	ev, err := s.VerifyWebhookSignature(payload, sign(payload, "whsec_test", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)

	_, err = s.VerifyWebhookSignature(payload, sign(payload, "whsec_other", time.Now()))
	assert.Error(t, err)
}

type fakeVerifier struct {
	event *stripe.Event
	err   error
}

func (f fakeVerifier) VerifyWebhookSignature([]byte, string) (*stripe.Event, error) {
	return f.event, f.err
}

type fakeStore struct {
	activated []string
	closed    []int64
	byStripe  map[string]int64
	err       error
}

func (f *fakeStore) ActivateSubscription(_ context.Context, userID int64, paymentID, subID string) error {
	f.activated = append(f.activated, fmt.Sprintf("%d:%s:%s", userID, paymentID, subID))
	return f.err
}

func (f *fakeStore) CloseSubscription(_ context.Context, userID int64) error {
	f.closed = append(f.closed, userID)
	return f.err
}

func (f *fakeStore) CloseByStripeSubscriptionID(_ context.Context, id string) (int64, error) {
	return f.byStripe[id], f.err
}

func post(h http.Handler, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}"))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookActivatesSubscription(t *testing.T) {
	store := &fakeStore{}
	ev := event(t, "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"subscription": "sub_1",
		"metadata":     map[string]string{"user_id": "42"},
	})
	h := NewWebhookHandler(fakeVerifier{event: ev}, store)

	rec := post(h, "t=1,v1=x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "success")
	assert.Equal(t, []string{"42:evt_test:sub_1"}, store.activated)
}

func TestWebhookClosesSubscription(t *testing.T) {
	store := &fakeStore{byStripe: map[string]int64{}}
	ev := event(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_unknown",
		"metadata": map[string]string{"user_id": "42"},
	})
	h := NewWebhookHandler(fakeVerifier{event: ev}, store)

	rec := post(h, "t=1,v1=x")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{42}, store.closed)
}

func TestWebhookRejections(t *testing.T) {
	h := NewWebhookHandler(fakeVerifier{err: errors.New("bad signature")}, &fakeStore{})

	rec := post(h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h, "t=1,v1=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookStoreFailureAsksForRedelivery(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	ev := event(t, "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"metadata": map[string]string{"user_id": "42"},
	})
	h := NewWebhookHandler(fakeVerifier{event: ev}, store)

	rec := post(h, "t=1,v1=x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
