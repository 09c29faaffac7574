package store

import (
	"context"
	"encoding/json"
	"time"

	"salecore/internal/domain"
)

// Options are shared by every Repository implementation.
type Options struct {
	// AllowNegativeStock lets a movement take stock_quantity below zero
	// (backorders). When false such a movement fails with ErrInsufficientStock.
	AllowNegativeStock bool
	// Location is the business timezone that scopes daily sequence numbers.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// SequenceDay returns the counter day for a sale created at t.
func (o Options) SequenceDay(t time.Time) string {
	return domain.SequenceDay(t, o.location())
}

type Ledger interface {
	ApplyMovement(ctx context.Context, in domain.MovementInput) (*domain.StockMovement, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListMovements(ctx context.Context, productID int64) ([]domain.StockMovement, error)
}

type SaleRepository interface {
	// CreateSale assigns the sequence number and persists header, items and,
	// for POS sales, the out movements in one transaction.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	CancelSale(ctx context.Context, id int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error)
	RefundSale(ctx context.Context, id int64, amount int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, id int64, next domain.SaleStatus, actor domain.Actor, at time.Time) (*domain.Sale, error)
	UpdateSalePaymentState(ctx context.Context, id int64, state domain.PaymentState, reference string, at time.Time) (*domain.Sale, error)
}

type PaymentUpdate struct {
	PaymentID    int64
	Status       domain.PaymentStatus
	ExternalID   string
	CallbackData json.RawMessage
	At           time.Time
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	FindLatestPayment(ctx context.Context, saleID int64) (*domain.Payment, error)
	FindPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error)
	// AttachIntent copies the provider-facing fields of intent onto a pending
	// payment. The provider response is kept as the row's callback_data until
	// a notification replaces it.
	AttachIntent(ctx context.Context, paymentID int64, intent domain.PaymentIntent) (*domain.Payment, error)
	// UpdatePaymentStatus stamps paid_at on success and marks the owning sale
	// paid in the same transaction.
	UpdatePaymentStatus(ctx context.Context, update PaymentUpdate) (*domain.Payment, error)
	// ExpirePendingPayments moves pending rows whose expired_at is before now to
	// expired and returns how many changed.
	ExpirePendingPayments(ctx context.Context, now time.Time) (int64, error)
}

type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type Repository interface {
	Ledger
	SaleRepository
	PaymentRepository
	SettingsReader
}

// ApplyIntent copies intent onto p. Zero expiry keeps the existing one.
func ApplyIntent(p *domain.Payment, intent domain.PaymentIntent, at time.Time) {
	p.Provider = intent.Provider
	p.ExternalTransactionID = intent.ExternalTransactionID
	p.QRString = intent.QRString
	p.QRCodeURL = intent.QRCodeURL
	p.PaymentURL = intent.PaymentURL
	p.VANumber = intent.VANumber
	p.Bank = intent.Bank
	p.Instructions = intent.Instructions
	if !intent.ExpiredAt.IsZero() {
		p.ExpiredAt = intent.ExpiredAt
	}
	if len(intent.RawProviderResponse) > 0 {
		p.CallbackData = append(json.RawMessage(nil), intent.RawProviderResponse...)
	}
	p.UpdatedAt = at
}

// PaymentSettled reports whether an update must leave the payment as it is: a
// successful payment never moves to another status.
func PaymentSettled(current, next domain.PaymentStatus) bool {
	return current == domain.PaymentStatusSuccess && next != domain.PaymentStatusSuccess
}

// PaymentMarksSalePaid reports whether a payment status change should flip the
// owning sale's payment_status to paid.
func PaymentMarksSalePaid(sale domain.Sale, status domain.PaymentStatus) bool {
	if status != domain.PaymentStatusSuccess {
		return false
	}
	if sale.Status.Terminal() || sale.PaymentStatus == domain.PaymentStatePaid {
		return false
	}
	return true
}
