package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salecore/internal/domain"
	"salecore/internal/gateway"
	"salecore/internal/service"
	"salecore/internal/store"
	"salecore/internal/store/memory"
)

const testPIN = "482913"

type testEnv struct {
	api    *API
	auth   *AuthManager
	repo   *memory.Store
	coffee domain.Product
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// newTestEnv wires the real service and auth manager over an in-memory store
// so handler tests exercise the complete request path.
func newTestEnv(t *testing.T, gwCfg gateway.Config) testEnv {
	t.Helper()
	repo := memory.New(store.Options{})
	coffee := repo.AddProduct(domain.Product{SKU: "KOPI", Name: "Kopi Bubuk 250g", Price: 10000}, 50)
	gw := gateway.New(gwCfg, quietLog())
	svc := service.New(repo, gw, nil, service.Options{}, quietLog())
	auth := NewAuthManager("test-secret-key", testPIN, "")
	return testEnv{api: New(svc, auth, "*", quietLog()), auth: auth, repo: repo, coffee: coffee}
}

func (e testEnv) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := e.auth.IssueToken(domain.Actor{ID: 3, Username: role + "-user", Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rec, req)
	return rec
}

func (e testEnv) createSale(t *testing.T, token string, channel domain.Channel) domain.Sale {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"channel":          channel,
		"tax_rate_percent": "11",
		"items":            []map[string]any{{"product_id": e.coffee.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Sale
}

func salePath(id int64, suffix string) string {
	return "/api/v1/sales/" + strconv.FormatInt(id, 10) + suffix
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, gateway.ProviderFallback, body["gateway"])
}

func TestSalesRequireAuth(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	rec := env.do(t, http.MethodGet, salePath(1, ""), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, salePath(1, ""), "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndFetchSale(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	tok := env.token(t, RoleCashier)
	sale := env.createSale(t, tok, domain.ChannelPOS)

	assert.Equal(t, int64(20000), sale.Subtotal)
	assert.Equal(t, int64(2200), sale.Tax)
	assert.Equal(t, int64(22200), sale.Total)
	assert.Equal(t, int64(3), sale.UserID)

	rec := env.do(t, http.MethodGet, salePath(sale.ID, ""), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sale.SequenceNumber, resp.Sale.SequenceNumber)
	require.Len(t, resp.Sale.Items, 1)
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	tok := env.token(t, RoleCashier)

	rec := env.do(t, http.MethodGet, salePath(999, ""), tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sales/abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sales", tok, map[string]any{"channel": "pos", "items": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sales", tok, map[string]any{
		"channel": "pos",
		"items":   []map[string]any{{"product_id": env.coffee.ID, "quantity": 51}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sales", tok, map[string]any{"channel": "pos", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sale := env.createSale(t, tok, domain.ChannelPOS)
	rec = env.do(t, http.MethodPatch, salePath(sale.ID, "/status"), tok, map[string]any{"status": "ready"})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCancelRequiresManagerPINForCashier(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	tok := env.token(t, RoleCashier)
	sale := env.createSale(t, tok, domain.ChannelPOS)

	rec := env.do(t, http.MethodPost, salePath(sale.ID, "/cancel"), tok, map[string]any{"reason": "salah input"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, salePath(sale.ID, "/cancel"), tok, map[string]any{"reason": "salah input", "manager_pin": testPIN})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.SaleStatusCancelled, resp.Sale.Status)

	product, err := env.repo.GetProduct(t.Context(), env.coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, product.StockQuantity)

	rec = env.do(t, http.MethodPost, salePath(sale.ID, "/cancel"), tok, map[string]any{"reason": "lagi"}, managerPINHeader, testPIN)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestManagerRefundsWithoutPIN(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	cashier := env.token(t, RoleCashier)
	sale := env.createSale(t, cashier, domain.ChannelPOS)

	manager := env.token(t, RoleManager)
	for _, status := range []string{"processing", "completed"} {
		rec := env.do(t, http.MethodPatch, salePath(sale.ID, "/status"), manager, map[string]any{"status": status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodPost, salePath(sale.ID, "/refund"), manager, map[string]any{"amount": sale.Total, "reason": "barang rusak"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.SaleStatusRefunded, resp.Sale.Status)
	assert.Equal(t, domain.PaymentStateRefunded, resp.Sale.PaymentStatus)
}

func TestPaymentStateUpdateIsManagerOnly(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	cashier := env.token(t, RoleCashier)
	sale := env.createSale(t, cashier, domain.ChannelStorefront)

	rec := env.do(t, http.MethodPatch, salePath(sale.ID, "/payment-status"), cashier, map[string]any{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, salePath(sale.ID, "/payment-status"), env.token(t, RoleAdmin), map[string]any{"status": "paid", "reference": "TRF-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGenerateVerifyAndConfirmPayment(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	tok := env.token(t, RoleCashier)
	sale := env.createSale(t, tok, domain.ChannelStorefront)

	rec := env.do(t, http.MethodPost, salePath(sale.ID, "/payments"), tok, map[string]any{"method": "qris"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Intent)
	assert.True(t, gateway.ValidQRIS(created.Intent.QRString))
	assert.Equal(t, domain.PaymentStatusPending, created.Payment.Status)

	rec = env.do(t, http.MethodGet, salePath(sale.ID, "/payments/latest"), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	paymentPath := "/api/v1/payments/" + strconv.FormatInt(created.Payment.ID, 10)
	rec = env.do(t, http.MethodPost, paymentPath+"/verify", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var verified struct {
		Payment      domain.Payment       `json:"payment"`
		Verification gateway.Verification `json:"verification"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.Equal(t, domain.PaymentStatusPending, verified.Verification.Status)

	rec = env.do(t, http.MethodPost, paymentPath+"/confirm", tok, map[string]any{"reference": "mutasi 12/01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, paymentPath, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched domain.PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, domain.PaymentStatusSuccess, fetched.Payment.Status)

	rec = env.do(t, http.MethodGet, salePath(sale.ID, ""), tok, nil)
	var saleResp domain.SaleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saleResp))
	assert.Equal(t, domain.PaymentStatePaid, saleResp.Sale.PaymentStatus)
}

func TestExpireSweepIsAdminOnly(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	rec := env.do(t, http.MethodPost, "/api/v1/payments/expire", env.token(t, RoleCashier), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/payments/expire", env.token(t, RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Expired)
}

func TestCallbackRoutes(t *testing.T) {
	env := newTestEnv(t, gateway.Config{Provider: gateway.ProviderMidtrans, ServerKey: "SB-Mid-server-test", BaseURL: "http://127.0.0.1:1"})

	rec := env.do(t, http.MethodPost, "/api/v1/callbacks/xendit", "", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/callbacks/midtrans", "", map[string]any{
		"order_id":           "TRX202501230001-1",
		"status_code":        "200",
		"gross_amount":       "22200.00",
		"transaction_status": "settlement",
		"signature_key":      "forged",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
}

func TestStockMovementAndLedger(t *testing.T) {
	env := newTestEnv(t, gateway.Config{})
	manager := env.token(t, RoleManager)

	rec := env.do(t, http.MethodPost, "/api/v1/stock-movements", env.token(t, RoleCashier), map[string]any{"product_id": env.coffee.ID, "delta": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/stock-movements", manager, map[string]any{"product_id": env.coffee.ID, "delta": 10, "movement_type": "in", "notes": "restock"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/products/"+strconv.FormatInt(env.coffee.ID, 10)+"/ledger", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger domain.ProductLedger
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	assert.Equal(t, 60, ledger.Product.StockQuantity)
	assert.Equal(t, 60, ledger.Balance)
	assert.Len(t, ledger.Movements, 2)
}
