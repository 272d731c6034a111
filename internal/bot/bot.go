package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Alias1177/HotDigits/internal/analyze"
	"github.com/Alias1177/HotDigits/internal/draws"
	"github.com/Alias1177/HotDigits/internal/metrics"
	"github.com/Alias1177/HotDigits/internal/render"
	"github.com/Alias1177/HotDigits/models"
	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"golang.org/x/time/rate"
)

// SupportedWidths are the draw widths users can pick with /width
var SupportedWidths = []int{4, 5}

// Sender is the part of the Telegram API the bot uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Store is the user and subscription persistence
type Store interface {
	UpsertUser(ctx context.Context, userID, chatID int64) (*models.BotUser, error)
	SetDrawWidth(ctx context.Context, userID int64, width int) error
	UpdateLastAnalyzed(ctx context.Context, userID int64) error
	GetSubscription(ctx context.Context, userID int64) (*models.UserSubscription, error)
	CreateSubscription(ctx context.Context, userID, chatID int64) (*models.UserSubscription, error)
	CloseSubscription(ctx context.Context, userID int64) error
	UpdateStripeSubscriptionID(ctx context.Context, userID int64, stripeSubscriptionID string) error
	CheckAndUpdateExpirations(ctx context.Context) (int64, error)
}

// Payments is the Stripe side of subscriptions
type Payments interface {
	CreateCheckoutSession(userID int64) (sessionID, url string, err error)
	CancelSubscription(subscriptionID string) error
	FindSubscriptionByUserID(userID int64) (*stripe.Subscription, error)
}

// Options configures a Handler
type Options struct {
	Engine                analyze.Options
	AnalysisTimeout       time.Duration
	UserRequestsPerMinute int
	SendRetries           int
	Now                   func() time.Time
}

type userState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// Handler answers Telegram updates. Analyses for one user run one at a time;
// different users are served concurrently.
type Handler struct {
	sender   Sender
	store    Store
	payments Payments
	opts     Options

	assemblers map[int]*analyze.Assembler

	mu    sync.Mutex
	users map[int64]*userState

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New builds a handler with one assembler per supported width
func New(sender Sender, store Store, payments Payments, opts Options) (*Handler, error) {
	if opts.AnalysisTimeout == 0 {
		opts.AnalysisTimeout = 30 * time.Second
	}
	if opts.UserRequestsPerMinute <= 0 {
		opts.UserRequestsPerMinute = 6
	}
	if opts.SendRetries <= 0 {
		opts.SendRetries = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Handler{
		sender:     sender,
		store:      store,
		payments:   payments,
		opts:       opts,
		assemblers: make(map[int]*analyze.Assembler),
		users:      make(map[int64]*userState),
		logger:     log.With().Str("component", "bot").Logger(),
	}

	widths := append([]int{opts.Engine.Width}, SupportedWidths...)
	for _, w := range widths {
		if _, ok := h.assemblers[w]; ok {
			continue
		}
		engine := opts.Engine
		engine.Width = w
		a, err := analyze.New(engine)
		if err != nil {
			return nil, err
		}
		h.assemblers[w] = a
	}
	return h, nil
}

// Run consumes updates until the channel closes or ctx is done, then waits for
// in-flight handlers
func (h *Handler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer h.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			h.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer h.wg.Done()
				h.HandleMessage(ctx, msg)
			}(update.Message)
		}
	}
}

// RunExpiryCheck closes expired subscriptions every interval until ctx is done
func (h *Handler) RunExpiryCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.store.CheckAndUpdateExpirations(ctx)
			if err != nil {
				h.logger.Error().Err(err).Msg("Error checking expired subscriptions")
				continue
			}
			if n > 0 {
				h.logger.Info().Int64("closed", n).Msg("Expired subscriptions closed")
			}
		}
	}
}

func (h *Handler) state(userID int64) *userState {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok {
		perMinute := h.opts.UserRequestsPerMinute
		st = &userState{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		}
		h.users[userID] = st
	}
	return st
}

// HandleMessage processes one incoming message
func (h *Handler) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID
	logger := h.logger.With().Int64("user_id", userID).Logger()

	st := h.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	user, err := h.store.UpsertUser(ctx, userID, chatID)
	if err != nil {
		logger.Error().Err(err).Msg("Error storing user")
		h.reply(ctx, chatID, "Sorry, there was an error. Please try again later.")
		metrics.BotRequests.WithLabelValues("error").Inc()
		return
	}

	text := strings.TrimSpace(message.Text)
	command, args := splitCommand(text)

	outcome := command
	switch command {
	case "/start":
		h.handleStart(ctx, user, args)
	case "/help":
		h.reply(ctx, chatID, h.helpText(user))
	case "/width":
		h.handleWidth(ctx, user, args)
	case "/status":
		h.handleStatus(ctx, user)
	case "/subscribe":
		h.handleSubscribe(ctx, user)
	case "/cancel":
		h.handleCancel(ctx, user)
	case "":
		if !st.limiter.Allow() {
			h.reply(ctx, chatID, "Too many requests. Please wait a minute before sending more draws.")
			outcome = "rate_limited"
			break
		}
		outcome = h.handleDraws(ctx, user, text)
	default:
		h.reply(ctx, chatID, "Unknown command. Send /help for the list of commands.")
		outcome = "unknown"
	}

	metrics.BotRequests.WithLabelValues(strings.TrimPrefix(outcome, "/")).Inc()
}

// splitCommand returns the lower-cased command (without @botname) and its args,
// or an empty command for plain text
func splitCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	return command, fields[1:]
}

func (h *Handler) width(user *models.BotUser) int {
	if _, ok := h.assemblers[user.DrawWidth]; ok {
		return user.DrawWidth
	}
	return h.opts.Engine.Width
}

func (h *Handler) helpText(user *models.BotUser) string {
	return fmt.Sprintf(`Send your draw history, one draw per line, oldest first.
Every line must have exactly %d digits; other lines are skipped.

Commands:
/width <4|5> - set the draw width
/status - subscription status
/subscribe - unlock the classifier prediction
/cancel - cancel the subscription
/help - this message`, h.width(user))
}

func (h *Handler) handleStart(ctx context.Context, user *models.BotUser, args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "payment_success":
			h.handlePaymentSuccess(ctx, user)
			return
		case "payment_cancel":
			h.reply(ctx, user.ChatID, "Payment was cancelled. You can subscribe again at any time with /subscribe.")
			return
		}
	}
	h.reply(ctx, user.ChatID, "Welcome to the Hot Digits bot!\n\n"+h.helpText(user))
}

func (h *Handler) handleWidth(ctx context.Context, user *models.BotUser, args []string) {
	if len(args) != 1 {
		h.reply(ctx, user.ChatID, fmt.Sprintf("Current draw width is %d. Usage: /width <4|5>", h.width(user)))
		return
	}
	w, err := strconv.Atoi(args[0])
	if err != nil || !supported(w) {
		h.reply(ctx, user.ChatID, "Supported widths are 4 and 5.")
		return
	}
	if err := h.store.SetDrawWidth(ctx, user.UserID, w); err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error saving draw width")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}
	h.reply(ctx, user.ChatID, fmt.Sprintf("Draw width set to %d.", w))
}

func supported(width int) bool {
	for _, w := range SupportedWidths {
		if w == width {
			return true
		}
	}
	return false
}

func (h *Handler) handleStatus(ctx context.Context, user *models.BotUser) {
	sub, err := h.store.GetSubscription(ctx, user.UserID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error retrieving subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}

	var status string
	switch {
	case sub == nil:
		status = "You don't have a subscription. Send /subscribe to unlock the classifier prediction."
	case sub.Status == models.PaymentStatusPending:
		status = "Your subscription is pending payment. Please complete the payment to activate it."
	case sub.Status == models.PaymentStatusAccepted:
		status = fmt.Sprintf("Your subscription is active and expires in %d days.", models.DaysLeft(sub.ExpiresAt, h.opts.Now()))
	case sub.Status == models.PaymentStatusClosed:
		status = "Your subscription has ended. Send /subscribe to renew it."
	default:
		status = "Your subscription status is unknown. Please contact support."
	}
	h.reply(ctx, user.ChatID, fmt.Sprintf("%s\nDraw width: %d", status, h.width(user)))
}

func (h *Handler) handleSubscribe(ctx context.Context, user *models.BotUser) {
	sub, err := h.store.GetSubscription(ctx, user.UserID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error retrieving subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}
	if sub.IsActive() {
		h.reply(ctx, user.ChatID, "Your subscription is already active.")
		return
	}

	if _, err := h.store.CreateSubscription(ctx, user.UserID, user.ChatID); err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error creating subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}

	sessionID, paymentURL, err := h.payments.CreateCheckoutSession(user.UserID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error creating Stripe session")
		h.reply(ctx, user.ChatID, "Payment system error. Please try again later or contact support.")
		return
	}
	h.logger.Info().Int64("user_id", user.UserID).Str("session_id", sessionID).Msg("Checkout started")

	msg := tgbotapi.NewMessage(user.ChatID, "Please complete your payment to unlock the classifier prediction. Your subscription is activated automatically afterwards.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Pay Now", paymentURL),
		),
	)
	h.send(ctx, msg)
}

func (h *Handler) handlePaymentSuccess(ctx context.Context, user *models.BotUser) {
	sub, err := h.store.GetSubscription(ctx, user.UserID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Error retrieving subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}
	if sub.IsActive() {
		h.reply(ctx, user.ChatID, fmt.Sprintf("Your subscription is active! It expires in %d days.", models.DaysLeft(sub.ExpiresAt, h.opts.Now())))
		return
	}
	h.reply(ctx, user.ChatID, "Thanks! Your payment is being processed. Check /status in a minute.")
}

func (h *Handler) handleCancel(ctx context.Context, user *models.BotUser) {
	logger := h.logger.With().Int64("user_id", user.UserID).Logger()

	sub, err := h.store.GetSubscription(ctx, user.UserID)
	if err != nil {
		logger.Error().Err(err).Msg("Error retrieving subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}
	if sub == nil || sub.Status == models.PaymentStatusClosed {
		h.reply(ctx, user.ChatID, "You don't have an active subscription.")
		return
	}

	stripeID := sub.StripeSubscriptionID
	if stripeID == "" {
		if found, err := h.payments.FindSubscriptionByUserID(user.UserID); err == nil {
			stripeID = found.ID
			if err := h.store.UpdateStripeSubscriptionID(ctx, user.UserID, stripeID); err != nil {
				logger.Warn().Err(err).Msg("Error linking Stripe subscription")
			}
		} else {
			logger.Warn().Err(err).Msg("Could not find Stripe subscription")
		}
	}

	stripeCancelled := false
	if stripeID != "" {
		if err := h.payments.CancelSubscription(stripeID); err != nil {
			logger.Error().Err(err).Str("subscription_id", stripeID).Msg("Failed to cancel Stripe subscription")
		} else {
			stripeCancelled = true
		}
	}

	if err := h.store.CloseSubscription(ctx, user.UserID); err != nil {
		logger.Error().Err(err).Msg("Error closing subscription")
		h.reply(ctx, user.ChatID, "Sorry, there was an error. Please try again later.")
		return
	}

	logger.Info().Bool("stripe_cancelled", stripeCancelled).Str("stripe_id", stripeID).Msg("Subscription cancelled")
	if stripeCancelled {
		h.reply(ctx, user.ChatID, "Your subscription has been cancelled. You will not be charged again.")
		return
	}
	h.reply(ctx, user.ChatID, "Your subscription has been cancelled in the bot, but no matching payment subscription was found. Please contact support to make sure you are not charged again.")
}

func (h *Handler) handleDraws(ctx context.Context, user *models.BotUser, text string) string {
	width := h.width(user)

	sub, err := h.store.GetSubscription(ctx, user.UserID)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", user.UserID).Msg("Subscription lookup failed, serving free tier")
	}
	premium := sub.IsActive()

	analysisCtx, cancel := context.WithTimeout(ctx, h.opts.AnalysisTimeout)
	defer cancel()

	assembler := h.assemblers[width].WithML(premium && h.opts.Engine.EnableML)
	analysis, err := assembler.AnalyzeText(analysisCtx, text)
	switch {
	case errors.Is(err, draws.ErrNoDraws):
		h.reply(ctx, user.ChatID, fmt.Sprintf("No valid draws found. Every line must have exactly %d digits. Send /help for details.", width))
		return "no_draws"
	case errors.Is(err, context.DeadlineExceeded):
		h.reply(ctx, user.ChatID, "The analysis took too long. Try a shorter history.")
		return "timeout"
	case err != nil:
		h.logger.Error().Err(err).Int64("user_id", user.UserID).Msg("Analysis failed")
		h.reply(ctx, user.ChatID, "Sorry, the analysis failed. Please try again later.")
		return "error"
	}

	out := render.Text(analysis, render.Markdown)
	if !premium && h.opts.Engine.EnableML {
		out += "\nSend /subscribe to add the classifier prediction."
	}

	msg := tgbotapi.NewMessage(user.ChatID, out)
	msg.ParseMode = tgbotapi.ModeMarkdown
	h.send(ctx, msg)

	if err := h.store.UpdateLastAnalyzed(ctx, user.UserID); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", user.UserID).Msg("Error updating last analyzed time")
	}
	return "analysis"
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	h.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// send delivers a message, retrying transient failures with exponential backoff
func (h *Handler) send(ctx context.Context, c tgbotapi.Chattable) {
	operation := func() error {
		_, err := h.sender.Send(c)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(h.opts.SendRetries)), context.WithoutCancel(ctx)))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to send message")
	}
}
