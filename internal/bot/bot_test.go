package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Alias1177/HotDigits/internal/analyze"
	"github.com/Alias1177/HotDigits/internal/predictor"
	"github.com/Alias1177/HotDigits/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	failures int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*models.BotUser
	subs     map[int64]*models.UserSubscription
	analyzed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*models.BotUser{}, subs: map[int64]*models.UserSubscription{}}
}

func (f *fakeStore) UpsertUser(_ context.Context, userID, chatID int64) (*models.BotUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		u = &models.BotUser{UserID: userID}
		f.users[userID] = u
	}
	u.ChatID = chatID
	copied := *u
	return &copied, nil
}

func (f *fakeStore) SetDrawWidth(_ context.Context, userID int64, width int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].DrawWidth = width
	return nil
}

func (f *fakeStore) UpdateLastAnalyzed(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed++
	return nil
}

func (f *fakeStore) GetSubscription(_ context.Context, userID int64) (*models.UserSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[userID], nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, userID, chatID int64) (*models.UserSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &models.UserSubscription{UserID: userID, ChatID: chatID, Status: models.PaymentStatusPending}
	f.subs[userID] = sub
	return sub, nil
}

func (f *fakeStore) CloseSubscription(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[userID].Status = models.PaymentStatusClosed
	return nil
}

func (f *fakeStore) UpdateStripeSubscriptionID(_ context.Context, userID int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[userID].StripeSubscriptionID = id
	return nil
}

func (f *fakeStore) CheckAndUpdateExpirations(context.Context) (int64, error) {
	return 0, nil
}

type fakePayments struct {
	cancelled []string
	found     string
}

func (f *fakePayments) CreateCheckoutSession(userID int64) (string, string, error) {
	return "cs_1", fmt.Sprintf("https://checkout.example/%d", userID), nil
}

func (f *fakePayments) CancelSubscription(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakePayments) FindSubscriptionByUserID(int64) (*stripe.Subscription, error) {
	if f.found == "" {
		return nil, errors.New("not found")
	}
	return &stripe.Subscription{ID: f.found}, nil
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newHandler(t *testing.T, perMinute int) (*Handler, *fakeSender, *fakeStore, *fakePayments) {
	t.Helper()
	sender, store, payments := &fakeSender{}, newFakeStore(), &fakePayments{}
	h, err := New(sender, store, payments, Options{
		Engine: analyze.Options{
			Width:    5,
			MaxDraws: 100,
			Tiers: []models.Tier{{
				Name:        "last-4",
				Window:      4,
				PairTopK:    3,
				TripletTopK: 3,
				FixedAlpha:  0.9,
				Rules:       []string{"previous"},
			}},
			EnableML: true,
			ML:       predictor.Options{Window: 2, Epochs: 5, Seed: 1},
		},
		UserRequestsPerMinute: perMinute,
		Now:                   func() time.Time { return now },
	})
	require.NoError(t, err)
	return h, sender, store, payments
}

func message(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID * 10},
	}
}

func history(n, width int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%0*d", width, (i*7919+13)%1000000)[:width]
	}
	return strings.Join(lines, "\n")
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/Width@digits_bot 4")
	assert.Equal(t, "/width", cmd)
	assert.Equal(t, []string{"4"}, args)

	cmd, args = splitCommand("12345")
	assert.Empty(t, cmd)
	assert.Nil(t, args)
}

func TestWidthCommand(t *testing.T) {
	h, sender, store, _ := newHandler(t, 10)

	h.HandleMessage(context.Background(), message(1, "/width 4"))
	assert.Equal(t, "Draw width set to 4.", sender.last(t).Text)
	assert.Equal(t, 4, store.users[1].DrawWidth)

	h.HandleMessage(context.Background(), message(1, "/width 7"))
	assert.Equal(t, "Supported widths are 4 and 5.", sender.last(t).Text)
}

func TestDrawsFreeTier(t *testing.T) {
	h, sender, store, _ := newHandler(t, 10)

	h.HandleMessage(context.Background(), message(1, history(15, 5)))

	reply := sender.last(t)
	assert.Equal(t, tgbotapi.ModeMarkdown, reply.ParseMode)
	assert.Contains(t, reply.Text, "*Tier* last-4 (window 4)")
	assert.Contains(t, reply.Text, "Hot digit:")
	assert.NotContains(t, reply.Text, "Classifier")
	assert.Contains(t, reply.Text, "/subscribe")
	assert.Equal(t, 1, store.analyzed)
}

func TestDrawsPremiumTier(t *testing.T) {
	h, sender, store, _ := newHandler(t, 10)
	store.subs[1] = &models.UserSubscription{UserID: 1, Status: models.PaymentStatusAccepted}

	h.HandleMessage(context.Background(), message(1, history(15, 5)))

	reply := sender.last(t)
	assert.Contains(t, reply.Text, "*Classifier*")
	assert.NotContains(t, reply.Text, "Send /subscribe")
}

func TestDrawsUseStoredWidth(t *testing.T) {
	h, sender, _, _ := newHandler(t, 10)

	h.HandleMessage(context.Background(), message(1, "/width 4"))
	h.HandleMessage(context.Background(), message(1, history(6, 5)))
	assert.Contains(t, sender.last(t).Text, "exactly 4 digits")

	h.HandleMessage(context.Background(), message(1, history(6, 4)))
	assert.Contains(t, sender.last(t).Text, "draws of width 4")
}

func TestDrawsRateLimited(t *testing.T) {
	h, sender, _, _ := newHandler(t, 1)

	h.HandleMessage(context.Background(), message(1, history(6, 5)))
	h.HandleMessage(context.Background(), message(1, history(6, 5)))
	assert.Contains(t, sender.last(t).Text, "Too many requests")

	h.HandleMessage(context.Background(), message(2, history(6, 5)))
	assert.Contains(t, sender.last(t).Text, "Hot digits")
}

func TestSubscribe(t *testing.T) {
	h, sender, store, _ := newHandler(t, 10)

	h.HandleMessage(context.Background(), message(1, "/subscribe"))

	reply := sender.last(t)
	keyboard, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, keyboard.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://checkout.example/1", *keyboard.InlineKeyboard[0][0].URL)
	assert.Equal(t, models.PaymentStatusPending, store.subs[1].Status)
}

func TestStatus(t *testing.T) {
	h, sender, store, _ := newHandler(t, 10)

	h.HandleMessage(context.Background(), message(1, "/status"))
	assert.Contains(t, sender.last(t).Text, "don't have a subscription")

	store.subs[1] = &models.UserSubscription{UserID: 1, Status: models.PaymentStatusAccepted, ExpiresAt: now.Add(72 * time.Hour)}
	h.HandleMessage(context.Background(), message(1, "/status"))
	assert.Contains(t, sender.last(t).Text, "expires in 3 days")
}

func TestCancel(t *testing.T) {
	h, sender, store, payments := newHandler(t, 10)
	store.subs[1] = &models.UserSubscription{UserID: 1, Status: models.PaymentStatusAccepted, StripeSubscriptionID: "sub_1"}

	h.HandleMessage(context.Background(), message(1, "/cancel"))
	assert.Equal(t, []string{"sub_1"}, payments.cancelled)
	assert.Equal(t, models.PaymentStatusClosed, store.subs[1].Status)
	assert.Contains(t, sender.last(t).Text, "will not be charged again")
}

func TestCancelFindsUnlinkedSubscription(t *testing.T) {
	h, _, store, payments := newHandler(t, 10)
	payments.found = "sub_found"
	store.subs[1] = &models.UserSubscription{UserID: 1, Status: models.PaymentStatusAccepted}

	h.HandleMessage(context.Background(), message(1, "/cancel"))
	assert.Equal(t, []string{"sub_found"}, payments.cancelled)
	assert.Equal(t, "sub_found", store.subs[1].StripeSubscriptionID)
}

func TestSendRetries(t *testing.T) {
	h, sender, _, _ := newHandler(t, 10)
	sender.failures = 1

	h.HandleMessage(context.Background(), message(1, "/help"))
	assert.Contains(t, sender.last(t).Text, "/width <4|5>")
}

func TestRunDrainsUpdates(t *testing.T) {
	h, sender, _, _ := newHandler(t, 10)

	updates := make(chan tgbotapi.Update, 3)
	updates <- tgbotapi.Update{Message: message(1, "/help")}
	updates <- tgbotapi.Update{Message: message(2, "/help")}
	updates <- tgbotapi.Update{}
	close(updates)

	h.Run(context.Background(), updates)
	assert.Len(t, sender.messages, 2)
}
