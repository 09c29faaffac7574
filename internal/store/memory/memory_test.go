package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salecore/internal/domain"
	"salecore/internal/store"
)

func posSale(productID int64, qty ...int) domain.Sale {
	sale := domain.Sale{Channel: domain.ChannelPOS, Status: domain.SaleStatusPending}
	for _, q := range qty {
		sale.Items = append(sale.Items, domain.SaleItem{ProductID: productID, Quantity: q, UnitPrice: 1000, TotalPrice: int64(q) * 1000})
	}
	return sale
}

func TestCreateSaleMergesMovementsPerProduct(t *testing.T) {
	s := New(store.Options{})
	p := s.AddProduct(domain.Product{SKU: "A", Price: 1000}, 10)

	sale, err := s.CreateSale(context.Background(), posSale(p.ID, 2, 3))
	require.NoError(t, err)
	assert.True(t, sale.StockCommitted)

	moves, err := s.ListMovements(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, moves, 2, "opening stock plus one sale movement")
	assert.Equal(t, domain.MovementOut, moves[1].MovementType)
	assert.Equal(t, 5, moves[1].Quantity)
	assert.Equal(t, -5, moves[1].Effect())
	assert.Equal(t, sale.ID, moves[1].ReferenceID)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
}

func TestNegativeStockPolicy(t *testing.T) {
	strict := New(store.Options{})
	p := strict.AddProduct(domain.Product{SKU: "A", Price: 1000}, 1)
	_, err := strict.CreateSale(context.Background(), posSale(p.ID, 2))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	got, _ := strict.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 1, got.StockQuantity, "a rejected sale leaves stock untouched")

	backorder := New(store.Options{AllowNegativeStock: true})
	q := backorder.AddProduct(domain.Product{SKU: "B", Price: 1000}, 1)
	_, err = backorder.CreateSale(context.Background(), posSale(q.ID, 2))
	require.NoError(t, err)
	got, _ = backorder.GetProduct(context.Background(), q.ID)
	assert.Equal(t, -1, got.StockQuantity)
}

func TestSequenceDayFollowsBusinessTimezone(t *testing.T) {
	wib, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	s := New(store.Options{Location: wib})
	p := s.AddProduct(domain.Product{SKU: "A", Price: 1000}, 10)

	late := posSale(p.ID, 1)
	late.CreatedAt = time.Date(2025, 1, 22, 18, 0, 0, 0, time.UTC)
	first, err := s.CreateSale(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, "TRX202501230001", first.SequenceNumber)

	second, err := s.CreateSale(context.Background(), late)
	require.NoError(t, err)
	assert.Equal(t, "TRX202501230002", second.SequenceNumber)

	web := late
	web.Channel = domain.ChannelStorefront
	order, err := s.CreateSale(context.Background(), web)
	require.NoError(t, err)
	assert.Equal(t, "ORD202501230001", order.SequenceNumber, "counters are per prefix")
	assert.False(t, order.StockCommitted)
}

func TestLatestPaymentAndExpiry(t *testing.T) {
	s := New(store.Options{})
	p := s.AddProduct(domain.Product{SKU: "A", Price: 1000}, 10)
	sale, err := s.CreateSale(context.Background(), posSale(p.ID, 1))
	require.NoError(t, err)

	_, err = s.FindLatestPayment(context.Background(), sale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Now().UTC()
	old, err := s.CreatePayment(context.Background(), domain.Payment{SaleID: sale.ID, Amount: 1000, ExpiredAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	fresh, err := s.CreatePayment(context.Background(), domain.Payment{SaleID: sale.ID, Amount: 1000, ExpiredAt: now.Add(time.Hour), CreatedAt: now})
	require.NoError(t, err)

	latest, err := s.FindLatestPayment(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, latest.ID)

	n, err := s.ExpirePendingPayments(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expired, err := s.GetPayment(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusExpired, expired.Status)

	_, err = s.CreatePayment(context.Background(), domain.Payment{SaleID: 999})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPaymentSuccessMarksSalePaidOnce(t *testing.T) {
	s := New(store.Options{})
	p := s.AddProduct(domain.Product{SKU: "A", Price: 1000}, 10)
	sale, err := s.CreateSale(context.Background(), posSale(p.ID, 1))
	require.NoError(t, err)
	pay, err := s.CreatePayment(context.Background(), domain.Payment{SaleID: sale.ID, Amount: 1000, ExpiredAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	at := time.Date(2025, 1, 23, 3, 0, 0, 0, time.UTC)
	updated, err := s.UpdatePaymentStatus(context.Background(), store.PaymentUpdate{PaymentID: pay.ID, Status: domain.PaymentStatusSuccess, ExternalID: "ext-1", At: at})
	require.NoError(t, err)
	require.NotNil(t, updated.PaidAt)
	assert.Equal(t, at, *updated.PaidAt)

	got, err := s.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatePaid, got.PaymentStatus)
	assert.Equal(t, "ext-1", got.PaymentReference)

	found, err := s.FindPaymentByExternalID(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, pay.ID, found.ID)
}

func TestSuccessfulPaymentIgnoresLateFailure(t *testing.T) {
	s := New(store.Options{})
	p := s.AddProduct(domain.Product{SKU: "A", Price: 1000}, 10)
	sale, err := s.CreateSale(context.Background(), posSale(p.ID, 1))
	require.NoError(t, err)
	pay, err := s.CreatePayment(context.Background(), domain.Payment{SaleID: sale.ID, Amount: 1000, ExpiredAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = s.UpdatePaymentStatus(context.Background(), store.PaymentUpdate{PaymentID: pay.ID, Status: domain.PaymentStatusSuccess, ExternalID: "ext-2"})
	require.NoError(t, err)

	for _, late := range []domain.PaymentStatus{domain.PaymentStatusFailed, domain.PaymentStatusExpired, domain.PaymentStatusPending} {
		got, err := s.UpdatePaymentStatus(context.Background(), store.PaymentUpdate{PaymentID: pay.ID, Status: late, ExternalID: "ext-late"})
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusSuccess, got.Status, late)
		assert.Equal(t, "ext-2", got.ExternalTransactionID)
	}

	stored, err := s.GetPayment(context.Background(), pay.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSuccess, stored.Status)
	assert.NotNil(t, stored.PaidAt)

	got, err := s.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatePaid, got.PaymentStatus)
}
