package cache

import (
	"context"
	"time"

	"salecore/internal/domain"
)

// StatusCache remembers recent provider verification results so repeated
// status checks for one payment do not hit the provider every time.
type StatusCache interface {
	GetStatus(ctx context.Context, key string) (domain.PaymentStatus, bool, error)
	SetStatus(ctx context.Context, key string, status domain.PaymentStatus, ttl time.Duration) error
}

func StatusKey(provider string, externalID string) string {
	return "payment:status:" + provider + ":" + externalID
}

type NoopStatusCache struct{}

func (NoopStatusCache) GetStatus(_ context.Context, _ string) (domain.PaymentStatus, bool, error) {
	return "", false, nil
}

func (NoopStatusCache) SetStatus(_ context.Context, _ string, _ domain.PaymentStatus, _ time.Duration) error {
	return nil
}
