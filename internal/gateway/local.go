package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"salecore/internal/domain"
	"salecore/internal/settings"
)

// Local builds payment intents without talking to anyone. Every provider uses
// it when its own call fails, and the fallback provider uses nothing else.
type Local struct {
	cfg Config
	now func() time.Time
}

func NewLocal(cfg Config) *Local {
	return &Local{cfg: cfg, now: time.Now}
}

func (l *Local) intent(method string, ttl time.Duration) domain.PaymentIntent {
	return domain.PaymentIntent{
		Provider:  ProviderFallback,
		Source:    domain.IntentSourceFallback,
		Method:    method,
		ExpiredAt: l.now().UTC().Add(ttl),
	}
}

// QRIS renders a dynamic QRIS payload for the amount. In static mode the
// merchant's printed payload is converted instead, falling back to a
// generated one when it does not parse.
func (l *Local) QRIS(charge Charge) domain.PaymentIntent {
	intent := l.intent(domain.MethodQRIS, qrisTTL)
	intent.ExternalTransactionID = charge.Reference

	payload := ""
	if l.cfg.QRISStatic && l.cfg.QRISStaticPayload != "" {
		if dynamic, err := StaticToDynamic(l.cfg.QRISStaticPayload, charge.Amount); err == nil {
			payload = dynamic
		}
	}
	if payload == "" {
		payload = BuildDynamicQRIS(l.cfg.MerchantName, l.cfg.MerchantCity, l.cfg.MerchantID, charge.Amount, charge.Reference)
	}
	intent.QRString = payload
	if url, err := QRDataURL(payload); err == nil {
		intent.QRCodeURL = url
	}
	intent.Instructions = fmt.Sprintf("Scan the QRIS code with any banking or e-wallet app and pay %s.", formatRupiah(charge.Amount))
	return intent
}

// BankTransfer synthesizes a virtual account when enabled, otherwise points
// the customer at the configured bank account.
func (l *Local) BankTransfer(charge Charge) domain.PaymentIntent {
	intent := l.intent(domain.MethodBankTransfer, transferTTL)
	intent.ExternalTransactionID = charge.Reference
	bank := strings.ToLower(strings.TrimSpace(charge.Bank))
	intent.Bank = bank

	if l.cfg.UseVirtualAccount && bank != "" {
		if va, err := VirtualAccountNumber(bank, charge.OrderID); err == nil {
			intent.VANumber = va
			intent.Instructions = fmt.Sprintf("Transfer exactly %s to %s virtual account %s.",
				formatRupiah(charge.Amount), strings.ToUpper(bank), va)
			return intent
		}
	}

	acct, ok := l.account(bank)
	if !ok {
		intent.Instructions = fmt.Sprintf("Transfer %s to the store's bank account and quote reference %s. The cashier confirms the payment manually.",
			formatRupiah(charge.Amount), charge.Reference)
		return intent
	}
	intent.Bank = acct.Bank
	holder := ""
	if acct.Holder != "" {
		holder = " a/n " + acct.Holder
	}
	intent.Instructions = fmt.Sprintf("Transfer %s to %s %s%s and quote reference %s. The cashier confirms the payment manually.",
		formatRupiah(charge.Amount), strings.ToUpper(acct.Bank), acct.Number, holder, charge.Reference)
	return intent
}

// account prefers the requested bank, then the first configured one.
func (l *Local) account(bank string) (settings.BankAccount, bool) {
	if a, ok := l.cfg.BankAccounts[bank]; ok && bank != "" {
		return a, true
	}
	for _, name := range settings.KnownBanks {
		if a, ok := l.cfg.BankAccounts[name]; ok {
			return a, true
		}
	}
	return settings.BankAccount{}, false
}

func (l *Local) Card(charge Charge) domain.PaymentIntent {
	intent := l.intent(domain.MethodCard, cardTTL)
	intent.ExternalTransactionID = charge.Reference
	intent.Instructions = fmt.Sprintf("Card payments are taken on the store's EDC terminal. Charge %s and quote reference %s.",
		formatRupiah(charge.Amount), charge.Reference)
	return intent
}

// Fallback is the provider used when no external gateway is configured.
type Fallback struct {
	base
}

func (f *Fallback) CreateQRIS(_ context.Context, charge Charge) domain.PaymentIntent {
	return f.local.QRIS(charge)
}

func (f *Fallback) CreateBankTransfer(_ context.Context, charge Charge) domain.PaymentIntent {
	return f.local.BankTransfer(charge)
}

func (f *Fallback) CreateCardPayment(_ context.Context, charge Charge) domain.PaymentIntent {
	return f.local.Card(charge)
}

// VerifyPayment always reports pending: local stand-ins are confirmed by a
// cashier, never by polling.
func (f *Fallback) VerifyPayment(_ context.Context, _ string) Verification {
	return Verification{Status: domain.PaymentStatusPending, Source: domain.IntentSourceFallback}
}
