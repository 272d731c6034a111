package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alias1177/HotDigits/internal/config"
	"github.com/Alias1177/HotDigits/internal/database"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const defaultMessage = "*Hot Digits update*\n\n" +
	"The bot now supports both 4 and 5 digit draws. Use /width to switch.\n\n" +
	"Send /help to see every command."

func main() {
	messageFile := flag.String("message-file", "", "file with the Markdown announcement (default built-in text)")
	dryRun := flag.Bool("dry-run", false, "list recipients without sending")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.SetupLogging(cfg.LogLevel)

	message := defaultMessage
	if *messageFile != "" {
		data, err := os.ReadFile(*messageFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read message file")
		}
		message = string(data)
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	users, err := db.GetAllUsers(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get users from database")
	}
	log.Info().Int("users", len(users)).Msg("Recipients loaded")

	if *dryRun {
		for _, u := range users {
			log.Info().Int64("user_id", u.UserID).Int64("chat_id", u.ChatID).Msg("Would send")
		}
		return
	}

	if cfg.TelegramBotToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	// Telegram allows about 30 messages per second for bots
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

	sent, failed := 0, 0
	for i, user := range users {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("Broadcast interrupted")
			break
		}

		msg := tgbotapi.NewMessage(user.ChatID, message)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := bot.Send(msg); err != nil {
			log.Error().Err(err).Int64("user_id", user.UserID).Int64("chat_id", user.ChatID).Msg("Failed to send message")
			failed++
			continue
		}
		sent++
		log.Debug().Int64("user_id", user.UserID).Msgf("Message sent [%d/%d]", i+1, len(users))
	}

	log.Info().
		Int("total", len(users)).
		Int("sent", sent).
		Int("failed", failed).
		Msg("Broadcast completed")
}
