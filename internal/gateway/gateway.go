// Package gateway prepares payments with an external provider and turns the
// provider's answers into provider-agnostic intents and statuses.
//
// Creating an intent never fails: when the provider is unreachable, answers
// with a non-2xx status or times out, the adapter logs the failure and returns
// a locally generated stand-in (QR payload, virtual account number or manual
// instructions) instead.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"salecore/internal/domain"
	"salecore/internal/settings"
)

const (
	ProviderMidtrans = "midtrans"
	ProviderXendit   = "xendit"
	ProviderDoku     = "doku"
	ProviderFallback = "fallback"

	defaultTimeout = 8 * time.Second
	qrisTTL        = 24 * time.Hour
	transferTTL    = 24 * time.Hour
	cardTTL        = time.Hour
)

// Config is built once at startup from the environment and the settings
// store, then handed to New.
type Config struct {
	Provider          string
	ServerKey         string
	ClientKey         string
	IsProduction      bool
	BaseURL           string
	CallbackToken     string
	MerchantName      string
	MerchantCity      string
	MerchantID        string
	BankAccounts      map[string]settings.BankAccount
	UseVirtualAccount bool
	QRISStatic        bool
	QRISStaticPayload string
	Timeout           time.Duration
}

// Charge is one request for a payment intent.
type Charge struct {
	// OrderID is the sale id; virtual account numbers derive from it.
	OrderID int64
	// Reference is unique per payment attempt and is sent to the provider as
	// its order/invoice id.
	Reference string
	Amount    int64
	Customer  domain.Customer
	Bank      string
}

// Verification is the best-known status of a payment at the provider.
type Verification struct {
	Status    domain.PaymentStatus `json:"status"`
	RawStatus string               `json:"raw_status,omitempty"`
	Source    string               `json:"source"`
	Raw       json.RawMessage      `json:"raw,omitempty"`
}

type Gateway interface {
	Name() string
	CreateQRIS(ctx context.Context, charge Charge) domain.PaymentIntent
	CreateBankTransfer(ctx context.Context, charge Charge) domain.PaymentIntent
	CreateCardPayment(ctx context.Context, charge Charge) domain.PaymentIntent
	VerifyPayment(ctx context.Context, externalID string) Verification
}

// CallbackEvent is a verified provider notification.
type CallbackEvent struct {
	Provider   string
	ExternalID string
	Reference  string
	Status     domain.PaymentStatus
	RawStatus  string
	Payload    json.RawMessage
}

// CallbackParser is implemented by providers that push payment notifications.
type CallbackParser interface {
	ParseCallback(header http.Header, path string, body []byte) (CallbackEvent, error)
}

// New selects the provider variant once. Unknown names and providers without
// credentials get the local fallback.
func New(cfg Config, log *logrus.Entry) Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MerchantName == "" {
		cfg.MerchantName = "SALECORE"
	}
	if cfg.MerchantCity == "" {
		cfg.MerchantCity = "JAKARTA"
	}
	local := NewLocal(cfg)
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name != ProviderFallback && name != "" && cfg.ServerKey == "" {
		log.WithField("provider", name).Warn("payment provider has no server key, using local fallback")
		name = ProviderFallback
	}

	b := base{name: name, cfg: cfg, client: newClient(cfg.Timeout), local: local, log: log.WithField("provider", name)}
	switch name {
	case ProviderMidtrans:
		return newMidtrans(b)
	case ProviderXendit:
		return newXendit(b)
	case ProviderDoku:
		return newDoku(b)
	default:
		b.name = ProviderFallback
		b.log = log.WithField("provider", ProviderFallback)
		return &Fallback{base: b}
	}
}

// base carries what every variant shares, including the local stand-in used
// when the provider call fails.
type base struct {
	name   string
	cfg    Config
	client *client
	local  *Local
	log    *logrus.Entry
}

func (b *base) Name() string {
	return b.name
}

func (b *base) fallback(kind string, charge Charge, err error) domain.PaymentIntent {
	b.log.WithError(domain.GatewayUnavailable(b.name, err)).
		WithFields(logrus.Fields{"reference": charge.Reference, "kind": kind}).
		Warn("provider charge failed, using local stand-in")

	var intent domain.PaymentIntent
	switch kind {
	case domain.MethodQRIS:
		intent = b.local.QRIS(charge)
	case domain.MethodBankTransfer:
		intent = b.local.BankTransfer(charge)
	default:
		intent = b.local.Card(charge)
	}
	intent.Provider = b.name
	return intent
}

func (b *base) unverified(externalID string, err error) Verification {
	b.log.WithError(domain.GatewayUnavailable(b.name, err)).
		WithField("external_id", externalID).
		Warn("provider status check failed, reporting pending")
	return Verification{Status: domain.PaymentStatusPending, Source: domain.IntentSourceFallback}
}

func expiryOr(t time.Time, ok bool, ttl time.Duration) time.Time {
	if ok && t.After(time.Now()) {
		return t.UTC()
	}
	return time.Now().UTC().Add(ttl)
}

func formatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-Rp " + b.String()
	}
	return "Rp " + b.String()
}
