package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Alias1177/HotDigits/models"
	_ "github.com/lib/pq"
)

// DB represents a database connection
type DB struct {
	*sql.DB
	now func() time.Time
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string
func (p ConnectionParams) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslMode,
	)
}

// New opens a PostgreSQL connection and creates missing tables
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	sqlDB, err := sql.Open("postgres", params.DSN())
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := Wrap(sqlDB)
	if err := db.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Wrap uses an already opened handle
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{DB: sqlDB, now: time.Now}
}

// Migrate creates the bot tables if they don't exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bot_users (
			user_id BIGINT PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			draw_width INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_analyzed TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating bot_users: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_subscriptions (
			user_id BIGINT PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			payment_id TEXT,
			stripe_subscription_id TEXT
		)
	`); err != nil {
		return fmt.Errorf("creating user_subscriptions: %w", err)
	}
	return nil
}

// UpsertUser records a user, refreshing the chat id, and returns the stored row
func (db *DB) UpsertUser(ctx context.Context, userID, chatID int64) (*models.BotUser, error) {
	var u models.BotUser
	var lastAnalyzed sql.NullTime

	err := db.QueryRowContext(ctx, `
		INSERT INTO bot_users (user_id, chat_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET chat_id = EXCLUDED.chat_id
		RETURNING user_id, chat_id, draw_width, created_at, last_analyzed
	`, userID, chatID, db.now()).Scan(&u.UserID, &u.ChatID, &u.DrawWidth, &u.CreatedAt, &lastAnalyzed)
	if err != nil {
		return nil, fmt.Errorf("upserting user %d: %w", userID, err)
	}

	if lastAnalyzed.Valid {
		u.LastAnalyzed = lastAnalyzed.Time
	}
	return &u, nil
}

// SetDrawWidth stores the user's preferred draw width
func (db *DB) SetDrawWidth(ctx context.Context, userID int64, width int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bot_users
		SET draw_width = $1
		WHERE user_id = $2
	`, width, userID)
	return err
}

// UpdateLastAnalyzed updates the last time a user ran an analysis
func (db *DB) UpdateLastAnalyzed(ctx context.Context, userID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bot_users
		SET last_analyzed = $1
		WHERE user_id = $2
	`, db.now(), userID)
	return err
}

// GetAllUsers returns every known user
func (db *DB) GetAllUsers(ctx context.Context) ([]models.BotUser, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, chat_id, draw_width, created_at, last_analyzed
		FROM bot_users
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.BotUser
	for rows.Next() {
		var u models.BotUser
		var lastAnalyzed sql.NullTime
		if err := rows.Scan(&u.UserID, &u.ChatID, &u.DrawWidth, &u.CreatedAt, &lastAnalyzed); err != nil {
			return nil, err
		}
		if lastAnalyzed.Valid {
			u.LastAnalyzed = lastAnalyzed.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateSubscription creates a pending subscription, replacing any previous one
func (db *DB) CreateSubscription(ctx context.Context, userID, chatID int64) (*models.UserSubscription, error) {
	now := db.now()
	sub := &models.UserSubscription{
		UserID:    userID,
		ChatID:    chatID,
		Status:    models.PaymentStatusPending,
		CreatedAt: now,
		ExpiresAt: models.SubscriptionExpiry(now),
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (
			user_id, chat_id, status, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			payment_id = NULL,
			stripe_subscription_id = NULL
	`, sub.UserID, sub.ChatID, sub.Status, sub.CreatedAt, sub.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// GetSubscription retrieves a user's subscription; nil when there is none
func (db *DB) GetSubscription(ctx context.Context, userID int64) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	var paymentID sql.NullString
	var stripeSubscriptionID sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT
			user_id, chat_id, status, created_at, expires_at,
			payment_id, stripe_subscription_id
		FROM user_subscriptions
		WHERE user_id = $1
	`, userID).Scan(
		&sub.UserID, &sub.ChatID, &sub.Status, &sub.CreatedAt, &sub.ExpiresAt,
		&paymentID, &stripeSubscriptionID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	sub.PaymentID = paymentID.String
	sub.StripeSubscriptionID = stripeSubscriptionID.String
	return &sub, nil
}

// ActivateSubscription marks a subscription paid for one more month
func (db *DB) ActivateSubscription(ctx context.Context, userID int64, paymentID, stripeSubscriptionID string) error {
	now := db.now()
	res, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET status = $1, payment_id = $2,
			stripe_subscription_id = COALESCE(NULLIF($3, ''), stripe_subscription_id),
			expires_at = $4
		WHERE user_id = $5
	`, models.PaymentStatusAccepted, paymentID, stripeSubscriptionID, models.SubscriptionExpiry(now), userID)
	if err != nil {
		return err
	}
	return requireRow(res, userID)
}

// CheckAndUpdateExpirations closes accepted subscriptions past their expiry
func (db *DB) CheckAndUpdateExpirations(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET status = $1
		WHERE status = $2 AND expires_at <= $3
	`, models.PaymentStatusClosed, models.PaymentStatusAccepted, db.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CloseSubscription closes a user's subscription
func (db *DB) CloseSubscription(ctx context.Context, userID int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET status = $1
		WHERE user_id = $2
	`, models.PaymentStatusClosed, userID)
	return err
}

// CloseByStripeSubscriptionID closes the subscription linked to a Stripe id and
// returns its owner, or 0 when no row matched
func (db *DB) CloseByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (int64, error) {
	var userID int64
	err := db.QueryRowContext(ctx, `
		UPDATE user_subscriptions
		SET status = $1
		WHERE stripe_subscription_id = $2
		RETURNING user_id
	`, models.PaymentStatusClosed, stripeSubscriptionID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return userID, err
}

// UpdateStripeSubscriptionID updates the Stripe subscription ID for a user
func (db *DB) UpdateStripeSubscriptionID(ctx context.Context, userID int64, stripeSubscriptionID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET stripe_subscription_id = $1
		WHERE user_id = $2
	`, stripeSubscriptionID, userID)
	return err
}

// ErrSubscriptionNotFound is returned when an update matched no subscription
var ErrSubscriptionNotFound = errors.New("subscription not found")

func requireRow(res sql.Result, userID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", ErrSubscriptionNotFound, userID)
	}
	return nil
}
