package models

import "time"

// SubscriptionExpiry returns when a subscription started at from expires
func SubscriptionExpiry(from time.Time) time.Time {
	return from.AddDate(0, 1, 0)
}

// DaysLeft returns whole days until expiresAt, never negative
func DaysLeft(expiresAt, now time.Time) int {
	if !expiresAt.After(now) {
		return 0
	}
	return int(expiresAt.Sub(now).Hours() / 24)
}
