package postgres

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"salecore/internal/domain"
	"salecore/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SALECORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SALECORE_TEST_DATABASE_URL to run postgres integration test")
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	if err := Migrate(databaseURL, logrus.NewEntry(log)); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, store.Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedProduct(t *testing.T, s *Store, stock int) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	sku := fmt.Sprintf("SKU-IT-%d", time.Now().UnixNano())
	if err := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (sku, name, price, stock_quantity, updated_at)
		VALUES ($1, 'Produk IT', 10000, 0, now())
		RETURNING id
	`, sku).Scan(&id); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	if _, err := s.ApplyMovement(ctx, domain.MovementInput{
		ProductID: id, Delta: stock, Type: domain.MovementIn, ReferenceType: domain.ReferenceAdjustment,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return id
}

func ledgerSum(t *testing.T, s *Store, productID int64) (int, int) {
	t.Helper()
	ctx := context.Background()
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	movements, err := s.ListMovements(ctx, productID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	sum := 0
	for _, m := range movements {
		sum += m.Effect()
	}
	return product.StockQuantity, sum
}

func TestCancelPOSSaleRestocksThroughLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 10)

	sale, err := s.CreateSale(ctx, domain.Sale{
		Channel:       domain.ChannelPOS,
		Status:        domain.SaleStatusPending,
		PaymentStatus: domain.PaymentStateUnpaid,
		PaymentMethod: domain.MethodQRIS,
		Subtotal:      20000,
		Total:         20000,
		Items:         []domain.SaleItem{{ProductID: productID, Quantity: 2, UnitPrice: 10000, TotalPrice: 20000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if qty, sum := ledgerSum(t, s, productID); qty != 8 || sum != 8 {
		t.Fatalf("expected stock 8 after sale, got qty=%d ledger=%d", qty, sum)
	}

	if _, err := s.CancelSale(ctx, sale.ID, "integration test", domain.SystemActor(), time.Now().UTC()); err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if _, err := s.CancelSale(ctx, sale.ID, "again", domain.SystemActor(), time.Now().UTC()); err == nil {
		t.Fatal("expected second cancel to fail")
	}
	if qty, sum := ledgerSum(t, s, productID); qty != 10 || sum != 10 {
		t.Fatalf("expected stock 10 after cancel, got qty=%d ledger=%d", qty, sum)
	}
}

func TestConcurrentCreatesGetDistinctSequenceNumbers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 1000)

	const n = 12
	var wg sync.WaitGroup
	numbers := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := s.CreateSale(ctx, domain.Sale{
				Channel:       domain.ChannelStorefront,
				Status:        domain.SaleStatusPending,
				PaymentStatus: domain.PaymentStateUnpaid,
				Subtotal:      10000,
				Total:         10000,
				Items:         []domain.SaleItem{{ProductID: productID, Quantity: 1, UnitPrice: 10000, TotalPrice: 10000}},
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- sale.SequenceNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("create sale: %v", err)
	}
	seen := map[string]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate sequence number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d numbers, got %d", n, len(seen))
	}
}

func TestExpirePendingPayments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 5)

	sale, err := s.CreateSale(ctx, domain.Sale{
		Channel:  domain.ChannelStorefront,
		Status:   domain.SaleStatusPending,
		Subtotal: 10000,
		Total:    10000,
		Items:    []domain.SaleItem{{ProductID: productID, Quantity: 1, UnitPrice: 10000, TotalPrice: 10000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	pending, err := s.CreatePayment(ctx, domain.Payment{SaleID: sale.ID, Method: domain.MethodQRIS, Amount: 10000, ExpiredAt: past})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	paid, err := s.CreatePayment(ctx, domain.Payment{SaleID: sale.ID, Method: domain.MethodQRIS, Amount: 10000, Status: domain.PaymentStatusSuccess, ExpiredAt: past})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if _, err := s.ExpirePendingPayments(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _ := s.GetPayment(ctx, pending.ID)
	if got.Status != domain.PaymentStatusExpired {
		t.Fatalf("expected pending payment to expire, got %s", got.Status)
	}
	got, _ = s.GetPayment(ctx, paid.ID)
	if got.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected success payment untouched, got %s", got.Status)
	}
	latest, err := s.FindLatestPayment(ctx, sale.ID)
	if err != nil || latest.ID != paid.ID {
		t.Fatalf("expected latest payment %d, got %+v err=%v", paid.ID, latest, err)
	}
}

func TestSuccessfulPaymentIgnoresLateFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 5)

	sale, err := s.CreateSale(ctx, domain.Sale{
		Channel:  domain.ChannelPOS,
		Status:   domain.SaleStatusPending,
		Subtotal: 10000,
		Total:    10000,
		Items:    []domain.SaleItem{{ProductID: productID, Quantity: 1, UnitPrice: 10000, TotalPrice: 10000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	payment, err := s.CreatePayment(ctx, domain.Payment{SaleID: sale.ID, Method: domain.MethodQRIS, Amount: 10000, ExpiredAt: time.Now().UTC().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := s.AttachIntent(ctx, payment.ID, domain.PaymentIntent{Provider: "fallback", ExternalTransactionID: "qr-it-1"}); err != nil {
		t.Fatalf("attach intent: %v", err)
	}
	if _, err := s.UpdatePaymentStatus(ctx, store.PaymentUpdate{PaymentID: payment.ID, Status: domain.PaymentStatusSuccess}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := s.UpdatePaymentStatus(ctx, store.PaymentUpdate{PaymentID: payment.ID, Status: domain.PaymentStatusFailed})
	if err != nil {
		t.Fatalf("late failure: %v", err)
	}
	if got.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected success to stick, got %s", got.Status)
	}
	stored, _ := s.GetPayment(ctx, payment.ID)
	if stored.Status != domain.PaymentStatusSuccess || stored.ExternalTransactionID != "qr-it-1" {
		t.Fatalf("unexpected stored payment %+v", stored)
	}
	saleNow, _ := s.GetSale(ctx, sale.ID)
	if saleNow.PaymentStatus != domain.PaymentStatePaid {
		t.Fatalf("expected sale paid, got %s", saleNow.PaymentStatus)
	}
}
