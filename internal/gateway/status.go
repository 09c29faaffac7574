package gateway

import (
	"strings"

	"salecore/internal/domain"
)

// NormalizeStatus maps provider status vocabularies onto the four payment
// statuses. Anything unrecognised is treated as still pending.
func NormalizeStatus(raw string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "settlement", "capture", "paid", "success", "succeeded", "completed", "settled":
		return domain.PaymentStatusSuccess
	case "deny", "cancel", "cancelled", "canceled", "failure", "failed":
		return domain.PaymentStatusFailed
	case "expire", "expired":
		return domain.PaymentStatusExpired
	default:
		return domain.PaymentStatusPending
	}
}

// normalizeMidtrans keeps card captures flagged for fraud review pending.
func normalizeMidtrans(transactionStatus, fraudStatus string) domain.PaymentStatus {
	if strings.EqualFold(transactionStatus, "capture") && strings.EqualFold(fraudStatus, "challenge") {
		return domain.PaymentStatusPending
	}
	if strings.EqualFold(fraudStatus, "deny") {
		return domain.PaymentStatusFailed
	}
	return NormalizeStatus(transactionStatus)
}
