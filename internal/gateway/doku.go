package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"salecore/internal/domain"
)

const (
	dokuSandboxURL    = "https://api-sandbox.doku.com"
	dokuProductionURL = "https://api.doku.com"
	dokuCheckoutPath  = "/checkout/v1/payment"
	dokuStatusPath    = "/orders/v1/status/"
)

// Doku uses the hosted checkout page for every method; the QR image encodes
// the checkout URL. ClientKey carries the DOKU Client-Id and ServerKey the
// secret used for request signatures.
type Doku struct {
	base
	apiURL string
	now    func() time.Time
}

func newDoku(b base) *Doku {
	d := &Doku{base: b, apiURL: dokuSandboxURL, now: time.Now}
	if b.cfg.IsProduction {
		d.apiURL = dokuProductionURL
	}
	if b.cfg.BaseURL != "" {
		d.apiURL = strings.TrimRight(b.cfg.BaseURL, "/")
	}
	return d
}

// DokuSignature signs a request the way DOKU's non-SNAP API expects:
// HMACSHA256=base64(hmac(secret, components)), where the digest component is
// base64(sha256(body)) and is omitted for bodiless requests.
func DokuSignature(clientID, requestID, timestamp, target, secret string, body []byte) string {
	components := "Client-Id:" + clientID + "\n" +
		"Request-Id:" + requestID + "\n" +
		"Request-Timestamp:" + timestamp + "\n" +
		"Request-Target:" + target
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		components += "\nDigest:" + base64.StdEncoding.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(components))
	return "HMACSHA256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (d *Doku) signedHeader(target string, body []byte) http.Header {
	requestID := uuid.NewString()
	timestamp := d.now().UTC().Format("2006-01-02T15:04:05Z")
	h := http.Header{}
	h.Set("Client-Id", d.cfg.ClientKey)
	h.Set("Request-Id", requestID)
	h.Set("Request-Timestamp", timestamp)
	h.Set("Signature", DokuSignature(d.cfg.ClientKey, requestID, timestamp, target, d.cfg.ServerKey, body))
	return h
}

type dokuCheckoutResponse struct {
	Message  []string `json:"message"`
	Response struct {
		Order struct {
			InvoiceNumber string `json:"invoice_number"`
		} `json:"order"`
		Payment struct {
			URL         string `json:"url"`
			TokenID     string `json:"token_id"`
			ExpiredDate string `json:"expired_date"`
		} `json:"payment"`
	} `json:"response"`
}

func dokuMethods(kind, bank string) []string {
	switch kind {
	case domain.MethodQRIS:
		return []string{"QRIS"}
	case domain.MethodBankTransfer:
		switch strings.ToLower(bank) {
		case "bri":
			return []string{"VIRTUAL_ACCOUNT_BRI"}
		case "mandiri":
			return []string{"VIRTUAL_ACCOUNT_BANK_MANDIRI"}
		case "bni":
			return []string{"VIRTUAL_ACCOUNT_BNI"}
		case "permata":
			return []string{"VIRTUAL_ACCOUNT_BANK_PERMATA"}
		case "cimb":
			return []string{"VIRTUAL_ACCOUNT_BANK_CIMB"}
		case "danamon":
			return []string{"VIRTUAL_ACCOUNT_BANK_DANAMON"}
		case "bsi":
			return []string{"VIRTUAL_ACCOUNT_BANK_SYARIAH_MANDIRI"}
		default:
			return []string{"VIRTUAL_ACCOUNT_BCA"}
		}
	default:
		return []string{"CREDIT_CARD"}
	}
}

func (d *Doku) checkout(ctx context.Context, kind string, charge Charge, ttl time.Duration) domain.PaymentIntent {
	payload := map[string]any{
		"order": map[string]any{
			"amount":         charge.Amount,
			"invoice_number": charge.Reference,
		},
		"payment": map[string]any{
			"payment_due_date":     int(ttl.Minutes()),
			"payment_method_types": dokuMethods(kind, charge.Bank),
		},
	}
	if c := charge.Customer; c.Name != "" || c.Email != "" || c.Phone != "" {
		payload["customer"] = map[string]any{"name": c.Name, "email": c.Email, "phone": c.Phone}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return d.fallback(kind, charge, err)
	}

	var resp dokuCheckoutResponse
	raw, err := d.client.doRaw(ctx, http.MethodPost, d.apiURL+dokuCheckoutPath, d.signedHeader(dokuCheckoutPath, body), bytes.NewReader(body), &resp)
	if err == nil && resp.Response.Payment.URL == "" {
		err = fmt.Errorf("doku returned no payment url: %s", strings.Join(resp.Message, "; "))
	}
	if err != nil {
		return d.fallback(kind, charge, err)
	}

	expiry, parseErr := time.ParseInLocation("20060102150405", resp.Response.Payment.ExpiredDate, jakarta)
	intent := domain.PaymentIntent{
		Provider:              d.name,
		Source:                domain.IntentSourceGateway,
		Method:                kind,
		PaymentURL:            resp.Response.Payment.URL,
		ExternalTransactionID: charge.Reference,
		ExpiredAt:             expiryOr(expiry, parseErr == nil, ttl),
		RawProviderResponse:   rawJSON(raw),
	}
	switch kind {
	case domain.MethodQRIS:
		intent.QRCodeURL, _ = QRDataURL(intent.PaymentURL)
	case domain.MethodBankTransfer:
		intent.Bank = strings.ToLower(charge.Bank)
		intent.Instructions = fmt.Sprintf("Open the checkout page to get the virtual account number and transfer %s.", formatRupiah(charge.Amount))
	}
	return intent
}

func (d *Doku) CreateQRIS(ctx context.Context, charge Charge) domain.PaymentIntent {
	return d.checkout(ctx, domain.MethodQRIS, charge, qrisTTL)
}

func (d *Doku) CreateBankTransfer(ctx context.Context, charge Charge) domain.PaymentIntent {
	return d.checkout(ctx, domain.MethodBankTransfer, charge, transferTTL)
}

func (d *Doku) CreateCardPayment(ctx context.Context, charge Charge) domain.PaymentIntent {
	return d.checkout(ctx, domain.MethodCard, charge, cardTTL)
}

type dokuStatusResponse struct {
	Order struct {
		InvoiceNumber string `json:"invoice_number"`
	} `json:"order"`
	Transaction struct {
		Status string `json:"status"`
	} `json:"transaction"`
}

func (d *Doku) VerifyPayment(ctx context.Context, externalID string) Verification {
	target := dokuStatusPath + url.PathEscape(externalID)
	var resp dokuStatusResponse
	raw, err := d.client.doRaw(ctx, http.MethodGet, d.apiURL+target, d.signedHeader(target, nil), nil, &resp)
	if err != nil {
		return d.unverified(externalID, err)
	}
	return Verification{
		Status:    NormalizeStatus(resp.Transaction.Status),
		RawStatus: resp.Transaction.Status,
		Source:    domain.IntentSourceGateway,
		Raw:       rawJSON(raw),
	}
}

// ParseCallback checks the notification signature over the callback path the
// provider posted to.
func (d *Doku) ParseCallback(header http.Header, path string, body []byte) (CallbackEvent, error) {
	want := DokuSignature(header.Get("Client-Id"), header.Get("Request-Id"), header.Get("Request-Timestamp"), path, d.cfg.ServerKey, body)
	if header.Get("Client-Id") != d.cfg.ClientKey || !hmac.Equal([]byte(header.Get("Signature")), []byte(want)) {
		return CallbackEvent{}, ErrInvalidSignature
	}
	var n dokuStatusResponse
	if err := json.Unmarshal(body, &n); err != nil || n.Order.InvoiceNumber == "" {
		return CallbackEvent{}, domain.Validation("callback", d.name, "invalid notification body")
	}
	return CallbackEvent{
		Provider:   d.name,
		ExternalID: n.Order.InvoiceNumber,
		Reference:  n.Order.InvoiceNumber,
		Status:     NormalizeStatus(n.Transaction.Status),
		RawStatus:  n.Transaction.Status,
		Payload:    rawJSON(body),
	}, nil
}
