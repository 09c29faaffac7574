package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salecore/internal/domain"
)

const (
	midtransSandboxURL    = "https://api.sandbox.midtrans.com"
	midtransProductionURL = "https://api.midtrans.com"
	midtransSnapSandbox   = "https://app.sandbox.midtrans.com/snap/v1/transactions"
	midtransSnapLive      = "https://app.midtrans.com/snap/v1/transactions"
	midtransTimeLayout    = "2006-01-02 15:04:05"
)

var (
	ErrInvalidSignature = errors.New("invalid callback signature")
	jakarta             = time.FixedZone("WIB", 7*60*60)
)

type Midtrans struct {
	base
	apiURL  string
	snapURL string
}

func newMidtrans(b base) *Midtrans {
	m := &Midtrans{base: b, apiURL: midtransSandboxURL, snapURL: midtransSnapSandbox}
	if b.cfg.IsProduction {
		m.apiURL, m.snapURL = midtransProductionURL, midtransSnapLive
	}
	if b.cfg.BaseURL != "" {
		m.apiURL = strings.TrimRight(b.cfg.BaseURL, "/")
		m.snapURL = m.apiURL + "/snap/v1/transactions"
	}
	return m
}

func (m *Midtrans) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", basicAuth(m.cfg.ServerKey))
	return h
}

type midtransAction struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type midtransVA struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

type midtransChargeResponse struct {
	StatusCode        string           `json:"status_code"`
	StatusMessage     string           `json:"status_message"`
	TransactionID     string           `json:"transaction_id"`
	OrderID           string           `json:"order_id"`
	TransactionStatus string           `json:"transaction_status"`
	FraudStatus       string           `json:"fraud_status"`
	Actions           []midtransAction `json:"actions"`
	QRString          string           `json:"qr_string"`
	ExpiryTime        string           `json:"expiry_time"`
	VANumbers         []midtransVA     `json:"va_numbers"`
	PermataVANumber   string           `json:"permata_va_number"`
	BillKey           string           `json:"bill_key"`
	BillerCode        string           `json:"biller_code"`
}

func (r midtransChargeResponse) expiry(ttl time.Duration) time.Time {
	t, err := time.ParseInLocation(midtransTimeLayout, r.ExpiryTime, jakarta)
	return expiryOr(t, err == nil, ttl)
}

func customerDetails(c domain.Customer) map[string]any {
	out := map[string]any{}
	if c.Name != "" {
		out["first_name"] = c.Name
	}
	if c.Email != "" {
		out["email"] = c.Email
	}
	if c.Phone != "" {
		out["phone"] = c.Phone
	}
	return out
}

// charge posts to the core API. Midtrans reports some failures with a 2xx
// HTTP status and an error status_code in the body.
func (m *Midtrans) charge(ctx context.Context, payload map[string]any) (midtransChargeResponse, []byte, error) {
	var resp midtransChargeResponse
	raw, err := m.client.do(ctx, http.MethodPost, m.apiURL+"/v2/charge", m.header(), payload, &resp)
	if err != nil {
		return resp, raw, err
	}
	if resp.StatusCode != "" && !strings.HasPrefix(resp.StatusCode, "2") {
		return resp, raw, fmt.Errorf("midtrans charge rejected: %s %s", resp.StatusCode, resp.StatusMessage)
	}
	return resp, raw, nil
}

func (m *Midtrans) CreateQRIS(ctx context.Context, charge Charge) domain.PaymentIntent {
	payload := map[string]any{
		"payment_type": "qris",
		"transaction_details": map[string]any{
			"order_id":     charge.Reference,
			"gross_amount": charge.Amount,
		},
		"qris":             map[string]any{"acquirer": "gopay"},
		"customer_details": customerDetails(charge.Customer),
	}
	resp, raw, err := m.charge(ctx, payload)
	if err != nil {
		return m.fallback(domain.MethodQRIS, charge, err)
	}
	intent := domain.PaymentIntent{
		Provider:              m.name,
		Source:                domain.IntentSourceGateway,
		Method:                domain.MethodQRIS,
		QRString:              resp.QRString,
		ExternalTransactionID: resp.TransactionID,
		ExpiredAt:             resp.expiry(qrisTTL),
		RawProviderResponse:   rawJSON(raw),
	}
	for _, a := range resp.Actions {
		if a.Name == "generate-qr-code" {
			intent.QRCodeURL = a.URL
		}
	}
	if intent.QRCodeURL == "" && intent.QRString != "" {
		intent.QRCodeURL, _ = QRDataURL(intent.QRString)
	}
	return intent
}

func (m *Midtrans) CreateBankTransfer(ctx context.Context, charge Charge) domain.PaymentIntent {
	bank := strings.ToLower(strings.TrimSpace(charge.Bank))
	if bank == "" {
		bank = "bca"
	}
	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     charge.Reference,
			"gross_amount": charge.Amount,
		},
		"customer_details": customerDetails(charge.Customer),
	}
	if bank == "mandiri" {
		payload["payment_type"] = "echannel"
		payload["echannel"] = map[string]any{"bill_info1": "Payment:", "bill_info2": charge.Reference}
	} else {
		payload["payment_type"] = "bank_transfer"
		payload["bank_transfer"] = map[string]any{"bank": bank}
	}

	resp, raw, err := m.charge(ctx, payload)
	if err != nil {
		return m.fallback(domain.MethodBankTransfer, charge, err)
	}
	intent := domain.PaymentIntent{
		Provider:              m.name,
		Source:                domain.IntentSourceGateway,
		Method:                domain.MethodBankTransfer,
		Bank:                  bank,
		ExternalTransactionID: resp.TransactionID,
		ExpiredAt:             resp.expiry(transferTTL),
		RawProviderResponse:   rawJSON(raw),
	}
	switch {
	case len(resp.VANumbers) > 0:
		intent.VANumber = resp.VANumbers[0].VANumber
	case resp.PermataVANumber != "":
		intent.VANumber = resp.PermataVANumber
	case resp.BillKey != "":
		intent.VANumber = resp.BillKey
		intent.Instructions = fmt.Sprintf("Pay %s via Mandiri Bill Payment, biller code %s, bill key %s.",
			formatRupiah(charge.Amount), resp.BillerCode, resp.BillKey)
	}
	if intent.Instructions == "" && intent.VANumber != "" {
		intent.Instructions = fmt.Sprintf("Transfer exactly %s to %s virtual account %s.",
			formatRupiah(charge.Amount), strings.ToUpper(bank), intent.VANumber)
	}
	return intent
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

func (m *Midtrans) CreateCardPayment(ctx context.Context, charge Charge) domain.PaymentIntent {
	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     charge.Reference,
			"gross_amount": charge.Amount,
		},
		"enabled_payments": []string{"credit_card"},
		"credit_card":      map[string]any{"secure": true},
		"customer_details": customerDetails(charge.Customer),
		"expiry":           map[string]any{"unit": "hour", "duration": 1},
	}
	var resp snapResponse
	raw, err := m.client.do(ctx, http.MethodPost, m.snapURL, m.header(), payload, &resp)
	if err == nil && resp.RedirectURL == "" {
		err = fmt.Errorf("snap returned no redirect url: %s", strings.Join(resp.ErrorMessages, "; "))
	}
	if err != nil {
		return m.fallback(domain.MethodCard, charge, err)
	}
	return domain.PaymentIntent{
		Provider:              m.name,
		Source:                domain.IntentSourceGateway,
		Method:                domain.MethodCard,
		PaymentURL:            resp.RedirectURL,
		ExternalTransactionID: charge.Reference,
		ExpiredAt:             time.Now().UTC().Add(cardTTL),
		RawProviderResponse:   rawJSON(raw),
	}
}

// VerifyPayment accepts either the Midtrans transaction id or the order id;
// the status endpoint resolves both.
func (m *Midtrans) VerifyPayment(ctx context.Context, externalID string) Verification {
	var resp midtransChargeResponse
	raw, err := m.client.do(ctx, http.MethodGet, m.apiURL+"/v2/"+url.PathEscape(externalID)+"/status", m.header(), nil, &resp)
	if err != nil {
		return m.unverified(externalID, err)
	}
	if resp.TransactionStatus == "" {
		return m.unverified(externalID, fmt.Errorf("midtrans status %s: %s", resp.StatusCode, resp.StatusMessage))
	}
	return Verification{
		Status:    normalizeMidtrans(resp.TransactionStatus, resp.FraudStatus),
		RawStatus: resp.TransactionStatus,
		Source:    domain.IntentSourceGateway,
		Raw:       rawJSON(raw),
	}
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// MidtransSignature is sha512(order_id + status_code + gross_amount + server_key)
// in lowercase hex.
func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func (m *Midtrans) ParseCallback(_ http.Header, _ string, body []byte) (CallbackEvent, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return CallbackEvent{}, domain.Validation("callback", m.name, "invalid notification body")
	}
	want := MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, m.cfg.ServerKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(want)) != 1 {
		return CallbackEvent{}, ErrInvalidSignature
	}
	return CallbackEvent{
		Provider:   m.name,
		ExternalID: n.TransactionID,
		Reference:  n.OrderID,
		Status:     normalizeMidtrans(n.TransactionStatus, n.FraudStatus),
		RawStatus:  n.TransactionStatus,
		Payload:    rawJSON(body),
	}, nil
}
