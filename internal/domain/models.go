package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelStorefront Channel = "storefront"
	ChannelPOS        Channel = "pos"
)

func (c Channel) Valid() bool {
	return c == ChannelStorefront || c == ChannelPOS
}

type SaleStatus string

const (
	SaleStatusPending    SaleStatus = "pending"
	SaleStatusProcessing SaleStatus = "processing"
	SaleStatusReady      SaleStatus = "ready"
	SaleStatusCompleted  SaleStatus = "completed"
	SaleStatusCancelled  SaleStatus = "cancelled"
	SaleStatusRefunded   SaleStatus = "refunded"
)

// PaymentState is the payment field on the sale header. It is distinct from the
// status of individual Payment rows.
type PaymentState string

const (
	PaymentStateUnpaid   PaymentState = "unpaid"
	PaymentStatePending  PaymentState = "pending"
	PaymentStatePaid     PaymentState = "paid"
	PaymentStateFailed   PaymentState = "failed"
	PaymentStateExpired  PaymentState = "expired"
	PaymentStateRefunded PaymentState = "refunded"
)

func (s PaymentState) Valid() bool {
	switch s {
	case PaymentStateUnpaid, PaymentStatePending, PaymentStatePaid, PaymentStateFailed, PaymentStateExpired, PaymentStateRefunded:
		return true
	default:
		return false
	}
}

type Product struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"`
	StockQuantity int       `json:"stock_quantity"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Customer struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Actor struct {
	ID       int64
	Username string
	Role     string
}

func SystemActor() Actor {
	return Actor{Username: "system", Role: "system"}
}

type SaleItem struct {
	ID         int64 `json:"id"`
	SaleID     int64 `json:"sale_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   int   `json:"quantity"`
	UnitPrice  int64 `json:"unit_price"`
	Discount   int64 `json:"discount"`
	TotalPrice int64 `json:"total_price"`
}

type Sale struct {
	ID               int64        `json:"id"`
	Channel          Channel      `json:"channel"`
	SequenceNumber   string       `json:"sequence_number"`
	Status           SaleStatus   `json:"status"`
	PaymentStatus    PaymentState `json:"payment_status"`
	PaymentMethod    string       `json:"payment_method"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	Subtotal         int64        `json:"subtotal"`
	Discount         int64        `json:"discount"`
	Tax              int64        `json:"tax"`
	Shipping         int64        `json:"shipping"`
	Total            int64        `json:"total"`
	RefundedAmount   int64        `json:"refunded_amount"`
	Customer         Customer     `json:"customer"`
	UserID           int64        `json:"user_id,omitempty"`
	Notes            string       `json:"notes,omitempty"`
	StockCommitted   bool         `json:"stock_committed"`
	PaidAt           *time.Time   `json:"paid_at,omitempty"`
	CancelledAt      *time.Time   `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Items            []SaleItem   `json:"items"`
}

type SaleItemInput struct {
	ProductID  int64  `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  *int64 `json:"unit_price,omitempty"`
	Discount   int64  `json:"discount,omitempty"`
	TotalPrice *int64 `json:"total_price,omitempty"`
}

type CreateSaleRequest struct {
	Channel          Channel         `json:"channel"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentStatus    PaymentState    `json:"payment_status,omitempty"`
	Discount         int64           `json:"discount"`
	Tax              *int64          `json:"tax,omitempty"`
	TaxRatePercent   decimal.Decimal `json:"tax_rate_percent"`
	Shipping         int64           `json:"shipping"`
	Customer         Customer        `json:"customer"`
	Notes            string          `json:"notes,omitempty"`
	Items            []SaleItemInput `json:"items"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type RefundSaleRequest struct {
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type UpdateSaleStatusRequest struct {
	Status SaleStatus `json:"status"`
}

type UpdatePaymentStateRequest struct {
	Status    PaymentState `json:"status"`
	Reference string       `json:"reference,omitempty"`
}

type MovementType string

const (
	MovementIn                MovementType = "in"
	MovementOut               MovementType = "out"
	MovementAdjustment        MovementType = "adjustment"
	MovementTransactionCancel MovementType = "transaction_cancel"
	MovementTransactionRefund MovementType = "transaction_refund"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementTransactionCancel, MovementTransactionRefund:
		return true
	default:
		return false
	}
}

const (
	ReferenceSale       = "sale"
	ReferenceCancel     = "transaction_cancel"
	ReferenceRefund     = "transaction_refund"
	ReferenceAdjustment = "adjustment"
)

type StockMovement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	MovementType  MovementType `json:"movement_type"`
	Quantity      int          `json:"quantity"`
	Direction     int          `json:"direction"`
	ReferenceType string       `json:"reference_type"`
	ReferenceID   int64        `json:"reference_id"`
	UserID        int64        `json:"user_id"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Effect is the signed change the movement applied to stock_quantity.
func (m StockMovement) Effect() int {
	return m.Direction * m.Quantity
}

// MovementInput is one ledger write. Delta is signed; the row stores |Delta|.
type MovementInput struct {
	ProductID     int64
	Delta         int
	Type          MovementType
	ReferenceType string
	ReferenceID   int64
	UserID        int64
	Notes         string
}

// StockMovementRequest is a manual ledger entry: stock received, taken out or
// corrected after a count.
type StockMovementRequest struct {
	ProductID int64        `json:"product_id"`
	Delta     int          `json:"delta"`
	Type      MovementType `json:"movement_type"`
	Notes     string       `json:"notes,omitempty"`
}

type ProductLedger struct {
	Product   Product         `json:"product"`
	Movements []StockMovement `json:"movements"`
	// Balance is the signed sum of the movements; it equals stock_quantity
	// unless the ledger was bypassed.
	Balance int `json:"balance"`
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusExpired:
		return true
	default:
		return false
	}
}

const (
	MethodCash         = "cash"
	MethodQRIS         = "qris"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
)

type Payment struct {
	ID                    int64           `json:"id"`
	SaleID                int64           `json:"sale_id"`
	Method                string          `json:"method"`
	Amount                int64           `json:"amount"`
	Status                PaymentStatus   `json:"status"`
	Provider              string          `json:"provider"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	QRString              string          `json:"qr_string,omitempty"`
	QRCodeURL             string          `json:"qr_code_url,omitempty"`
	PaymentURL            string          `json:"payment_url,omitempty"`
	VANumber              string          `json:"va_number,omitempty"`
	Bank                  string          `json:"bank,omitempty"`
	Instructions          string          `json:"instructions,omitempty"`
	ExpiredAt             time.Time       `json:"expired_at"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	CallbackData          json.RawMessage `json:"callback_data,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

const (
	IntentSourceGateway  = "gateway"
	IntentSourceFallback = "fallback"
)

// PaymentIntent is what a provider (or the local stand-in) prepared before the
// customer pays.
type PaymentIntent struct {
	Provider              string          `json:"provider"`
	Source                string          `json:"source"`
	Method                string          `json:"method"`
	QRString              string          `json:"qr_string,omitempty"`
	QRCodeURL             string          `json:"qr_code_url,omitempty"`
	PaymentURL            string          `json:"payment_url,omitempty"`
	VANumber              string          `json:"va_number,omitempty"`
	Bank                  string          `json:"bank,omitempty"`
	Instructions          string          `json:"instructions,omitempty"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	ExpiredAt             time.Time       `json:"expired_at"`
	RawProviderResponse   json.RawMessage `json:"raw_provider_response,omitempty"`
}

type GeneratePaymentRequest struct {
	Method string `json:"method"`
	Bank   string `json:"bank,omitempty"`
}

type ConfirmPaymentRequest struct {
	Reference string `json:"reference"`
}

type PaymentResponse struct {
	Payment Payment        `json:"payment"`
	Intent  *PaymentIntent `json:"intent,omitempty"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SweepResponse struct {
	Expired int64  `json:"expired"`
	At      string `json:"at"`
}
