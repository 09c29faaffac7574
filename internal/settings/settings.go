// Package settings reads the key/value settings owned by the admin side of the
// system. Keys missing from the store fall back to an environment variable
// named after the upper-cased key.
package settings

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	KeyUseVirtualAccount = "payment_use_virtual_account"
	KeyQRISStatic        = "qris_static"
	KeyQRISStaticPayload = "qris_static_payload"
	KeyBankAccountPrefix = "bank_account_"
)

// KnownBanks are the banks whose account settings are looked up.
var KnownBanks = []string{"bca", "bni", "bri", "mandiri", "permata", "cimb", "bsi", "danamon"}

type Source interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type BankAccount struct {
	Bank   string `json:"bank"`
	Number string `json:"number"`
	Holder string `json:"holder,omitempty"`
}

// Payment is the subset of settings the payment gateway needs.
type Payment struct {
	UseVirtualAccount bool
	QRISStatic        bool
	QRISStaticPayload string
	BankAccounts      map[string]BankAccount
}

type Reader struct {
	source    Source
	lookupEnv func(string) (string, bool)
	log       *logrus.Entry
}

func New(source Source, log *logrus.Entry) *Reader {
	return &Reader{source: source, lookupEnv: os.LookupEnv, log: log}
}

func (r *Reader) String(ctx context.Context, key string) string {
	if r.source != nil {
		val, ok, err := r.source.GetSetting(ctx, key)
		if err != nil {
			r.log.WithError(err).WithField("key", key).Warn("settings lookup failed, using environment")
		}
		if ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	if val, ok := r.lookupEnv(strings.ToUpper(key)); ok {
		return strings.TrimSpace(val)
	}
	return ""
}

func (r *Reader) Bool(ctx context.Context, key string) bool {
	val := strings.ToLower(r.String(ctx, key))
	switch val {
	case "on", "yes", "y":
		return true
	}
	b, _ := strconv.ParseBool(val)
	return b
}

// BankAccount parses "number|holder" (holder optional).
func (r *Reader) BankAccount(ctx context.Context, bank string) (BankAccount, bool) {
	bank = strings.ToLower(bank)
	raw := r.String(ctx, KeyBankAccountPrefix+bank)
	if raw == "" {
		return BankAccount{}, false
	}
	number, holder, _ := strings.Cut(raw, "|")
	return BankAccount{Bank: bank, Number: strings.TrimSpace(number), Holder: strings.TrimSpace(holder)}, true
}

func (r *Reader) Payment(ctx context.Context) Payment {
	out := Payment{
		UseVirtualAccount: r.Bool(ctx, KeyUseVirtualAccount),
		QRISStatic:        r.Bool(ctx, KeyQRISStatic),
		QRISStaticPayload: r.String(ctx, KeyQRISStaticPayload),
		BankAccounts:      map[string]BankAccount{},
	}
	for _, bank := range KnownBanks {
		if acct, ok := r.BankAccount(ctx, bank); ok {
			out.BankAccounts[bank] = acct
		}
	}
	return out
}
