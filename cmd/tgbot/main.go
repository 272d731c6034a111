package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alias1177/HotDigits/internal/analyze"
	"github.com/Alias1177/HotDigits/internal/bot"
	"github.com/Alias1177/HotDigits/internal/config"
	"github.com/Alias1177/HotDigits/internal/database"
	"github.com/Alias1177/HotDigits/internal/metrics"
	"github.com/Alias1177/HotDigits/internal/payment"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.SetupLogging(cfg.LogLevel)

	if cfg.TelegramBotToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
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

	stripeService := payment.NewStripeService()
	if err := stripeService.ValidateConfig(); err != nil {
		log.Warn().Err(err).Msg("Payments are not fully configured")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	log.Info().Str("username", api.Self.UserName).Msg("Authorized on Telegram")

	handler, err := bot.New(api, db, stripeService, bot.Options{
		Engine:                analyze.OptionsFromConfig(cfg),
		AnalysisTimeout:       time.Duration(cfg.AnalysisTimeout) * time.Second,
		UserRequestsPerMinute: cfg.UserRequestsPerMinute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bot handler")
	}

	metricsServer := serveMetrics(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go handler.RunExpiryCheck(ctx, time.Hour)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := api.GetUpdatesChan(updateConfig)

	handler.Run(ctx, updates)
	api.StopReceivingUpdates()
	log.Info().Msg("Bot stopped")
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
