package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"salecore/internal/domain"
	"salecore/internal/store"
)

// Store is the in-process twin of the postgres store. One mutex stands in for
// the database transaction: every operation validates first and mutates last,
// so a failed call leaves nothing behind.
type Store struct {
	mu         sync.RWMutex
	opts       store.Options
	products   map[int64]*domain.Product
	movements  []domain.StockMovement
	sales      map[int64]*domain.Sale
	sequences  map[string]int64
	sequenceNo map[string]int64
	payments   map[int64]*domain.Payment
	settings   map[string]string
	nextID     map[string]int64
}

func New(opts store.Options) *Store {
	return &Store{
		opts:       opts,
		products:   map[int64]*domain.Product{},
		sales:      map[int64]*domain.Sale{},
		sequences:  map[string]int64{},
		sequenceNo: map[string]int64{},
		payments:   map[int64]*domain.Payment{},
		settings:   map[string]string{},
		nextID:     map[string]int64{},
	}
}

// NewSeeded returns a store with a small demo catalogue for local runs.
func NewSeeded(opts store.Options) *Store {
	s := New(opts)
	for _, p := range []struct {
		sku   string
		name  string
		price int64
		stock int
	}{
		{"KOPI-SUSU", "Kopi Susu Gula Aren", 18000, 120},
		{"TEH-MANIS", "Es Teh Manis", 8000, 200},
		{"ROTI-BKR", "Roti Bakar Coklat", 15000, 60},
		{"AIR-600", "Air Mineral 600ml", 5000, 300},
	} {
		s.AddProduct(domain.Product{SKU: p.sku, Name: p.name, Price: p.price}, p.stock)
	}
	return s
}

func (s *Store) id(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

// AddProduct registers a product and books its opening stock as an "in"
// movement so the ledger sum matches from the start.
func (s *Store) AddProduct(product domain.Product, openingStock int) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.ID = s.id("product")
	product.StockQuantity = 0
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = &product
	if openingStock > 0 {
		s.applyLocked(domain.MovementInput{
			ProductID:     product.ID,
			Delta:         openingStock,
			Type:          domain.MovementIn,
			ReferenceType: domain.ReferenceAdjustment,
			Notes:         "opening stock",
		}, product.UpdatedAt)
	}
	return *s.products[product.ID]
}

func (s *Store) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

func (s *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	out := *p
	return &out, nil
}

func (s *Store) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, productID int64) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockMovement, 0, 8)
	for _, m := range s.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ApplyMovement(_ context.Context, in domain.MovementInput) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMovementsLocked([]domain.MovementInput{in}); err != nil {
		return nil, err
	}
	m := s.applyLocked(in, time.Now().UTC())
	return &m, nil
}

func (s *Store) checkMovementsLocked(inputs []domain.MovementInput) error {
	pending := map[int64]int{}
	for _, in := range inputs {
		if in.Delta == 0 {
			return domain.Validation("stock_movement", nil, "delta must not be zero")
		}
		if !in.Type.Valid() {
			return domain.Validation("stock_movement", nil, "unknown movement type %q", in.Type)
		}
		p, ok := s.products[in.ProductID]
		if !ok {
			return domain.NotFound("product", in.ProductID)
		}
		pending[in.ProductID] += in.Delta
		if !s.opts.AllowNegativeStock && p.StockQuantity+pending[in.ProductID] < 0 {
			return domain.InsufficientStock(in.ProductID, p.StockQuantity, in.Delta)
		}
	}
	return nil
}

func (s *Store) applyLocked(in domain.MovementInput, at time.Time) domain.StockMovement {
	p := s.products[in.ProductID]
	p.StockQuantity += in.Delta
	p.UpdatedAt = at
	direction, qty := 1, in.Delta
	if in.Delta < 0 {
		direction, qty = -1, -in.Delta
	}
	m := domain.StockMovement{
		ID:            s.id("movement"),
		ProductID:     in.ProductID,
		MovementType:  in.Type,
		Quantity:      qty,
		Direction:     direction,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		UserID:        in.UserID,
		Notes:         in.Notes,
		CreatedAt:     at,
	}
	s.movements = append(s.movements, m)
	return m
}

func saleMovements(sale *domain.Sale, sign int, mt domain.MovementType, ref string, userID int64, notes string) []domain.MovementInput {
	deltas := sale.StockDeltas()
	out := make([]domain.MovementInput, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, domain.MovementInput{
			ProductID:     d.ProductID,
			Delta:         sign * d.Quantity,
			Type:          mt,
			ReferenceType: ref,
			ReferenceID:   sale.ID,
			UserID:        userID,
			Notes:         notes,
		})
	}
	return out
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Channel.Valid() {
		return nil, domain.Validation("sale", nil, "unknown channel %q", sale.Channel)
	}
	if len(sale.Items) == 0 {
		return nil, domain.Validation("sale", nil, "at least one item is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range sale.Items {
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, domain.NotFound("product", item.ProductID)
		}
	}

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt

	var moves []domain.MovementInput
	if sale.Channel == domain.ChannelPOS {
		moves = saleMovements(&sale, -1, domain.MovementOut, domain.ReferenceSale, sale.UserID, "")
		if err := s.checkMovementsLocked(moves); err != nil {
			return nil, err
		}
	}

	prefix := domain.SequencePrefix(sale.Channel)
	key := prefix + s.opts.SequenceDay(sale.CreatedAt)
	counter := s.sequences[key] + 1
	number := domain.FormatSequence(prefix, s.opts.SequenceDay(sale.CreatedAt), counter)
	if _, taken := s.sequenceNo[number]; taken {
		return nil, domain.Persistence("sale", nil, fmt.Errorf("duplicate sequence number %s", number))
	}

	sale.ID = s.id("sale")
	sale.SequenceNumber = number
	s.sequences[key] = counter
	s.sequenceNo[number] = sale.ID
	for i := range sale.Items {
		sale.Items[i].ID = s.id("sale_item")
		sale.Items[i].SaleID = sale.ID
	}
	if moves != nil {
		for i := range moves {
			moves[i].ReferenceID = sale.ID
			s.applyLocked(moves[i], now)
		}
		sale.StockCommitted = true
	}

	stored := cloneSale(&sale)
	s.sales[sale.ID] = stored
	return cloneSale(stored), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NotFound("sale", id)
	}
	return cloneSale(sale), nil
}

func (s *Store) CancelSale(_ context.Context, id int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NotFound("sale", id)
	}
	if err := sale.CheckTransition(domain.SaleStatusCancelled); err != nil {
		return nil, err
	}

	var moves []domain.MovementInput
	if sale.StockCommitted {
		moves = saleMovements(sale, 1, domain.MovementTransactionCancel, domain.ReferenceCancel, actor.ID, reason)
		if err := s.checkMovementsLocked(moves); err != nil {
			return nil, err
		}
	}
	for _, m := range moves {
		s.applyLocked(m, at)
	}

	sale.Status = domain.SaleStatusCancelled
	sale.StockCommitted = false
	sale.CancelledAt = &at
	sale.UpdatedAt = at
	sale.Notes = domain.AppendNote(sale.Notes, at, actor, "cancelled", reason)
	return cloneSale(sale), nil
}

func (s *Store) RefundSale(_ context.Context, id int64, amount int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NotFound("sale", id)
	}
	if err := sale.CheckTransition(domain.SaleStatusRefunded); err != nil {
		return nil, err
	}
	if amount <= 0 || amount > sale.Total {
		return nil, domain.Validation("sale", id, "refund amount %d outside 1..%d", amount, sale.Total)
	}

	var moves []domain.MovementInput
	if amount == sale.Total && sale.StockCommitted {
		moves = saleMovements(sale, 1, domain.MovementTransactionRefund, domain.ReferenceRefund, actor.ID, reason)
		if err := s.checkMovementsLocked(moves); err != nil {
			return nil, err
		}
	}
	for _, m := range moves {
		s.applyLocked(m, at)
	}
	if moves != nil {
		sale.StockCommitted = false
	}

	sale.Status = domain.SaleStatusRefunded
	sale.PaymentStatus = domain.PaymentStateRefunded
	sale.RefundedAmount = amount
	sale.RefundedAt = &at
	sale.UpdatedAt = at
	sale.Notes = domain.AppendNote(sale.Notes, at, actor, fmt.Sprintf("refunded %d", amount), reason)
	return cloneSale(sale), nil
}

func (s *Store) UpdateSaleStatus(_ context.Context, id int64, next domain.SaleStatus, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NotFound("sale", id)
	}
	if err := sale.CheckTransition(next); err != nil {
		return nil, err
	}

	if sale.CommitsStockOn(next) {
		moves := saleMovements(sale, -1, domain.MovementOut, domain.ReferenceSale, actor.ID, "")
		if err := s.checkMovementsLocked(moves); err != nil {
			return nil, err
		}
		for _, m := range moves {
			s.applyLocked(m, at)
		}
		sale.StockCommitted = true
	}

	sale.Status = next
	sale.UpdatedAt = at
	return cloneSale(sale), nil
}

func (s *Store) UpdateSalePaymentState(_ context.Context, id int64, state domain.PaymentState, reference string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, domain.NotFound("sale", id)
	}
	if sale.Status.Terminal() {
		return nil, domain.InvalidTransition("sale", id, string(sale.Status), "payment "+string(state))
	}
	setPaymentState(sale, state, reference, at)
	return cloneSale(sale), nil
}

func setPaymentState(sale *domain.Sale, state domain.PaymentState, reference string, at time.Time) {
	sale.PaymentStatus = state
	if reference != "" {
		sale.PaymentReference = reference
	}
	if state == domain.PaymentStatePaid && sale.PaidAt == nil {
		sale.PaidAt = &at
	}
	sale.UpdatedAt = at
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[payment.SaleID]; !ok {
		return nil, domain.NotFound("sale", payment.SaleID)
	}
	now := time.Now().UTC()
	payment.ID = s.id("payment")
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = payment.CreatedAt
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusPending
	}
	stored := clonePayment(&payment)
	s.payments[payment.ID] = stored
	return clonePayment(stored), nil
}

func (s *Store) GetPayment(_ context.Context, id int64) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, domain.NotFound("payment", id)
	}
	return clonePayment(p), nil
}

func (s *Store) FindLatestPayment(_ context.Context, saleID int64) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Payment
	for _, p := range s.payments {
		if p.SaleID != saleID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) || (p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.NotFound("payment", fmt.Sprintf("sale %d", saleID))
	}
	return clonePayment(latest), nil
}

func (s *Store) FindPaymentByExternalID(_ context.Context, externalID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.payments))
	for id, p := range s.payments {
		if externalID != "" && p.ExternalTransactionID == externalID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, domain.NotFound("payment", externalID)
	}
	return clonePayment(s.payments[slices.Max(ids)]), nil
}

func (s *Store) AttachIntent(_ context.Context, paymentID int64, intent domain.PaymentIntent) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, domain.NotFound("payment", paymentID)
	}
	store.ApplyIntent(p, intent, time.Now().UTC())
	return clonePayment(p), nil
}

func (s *Store) UpdatePaymentStatus(_ context.Context, update store.PaymentUpdate) (*domain.Payment, error) {
	if !update.Status.Valid() {
		return nil, domain.Validation("payment", update.PaymentID, "unknown status %q", update.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[update.PaymentID]
	if !ok {
		return nil, domain.NotFound("payment", update.PaymentID)
	}
	if store.PaymentSettled(p.Status, update.Status) {
		return clonePayment(p), nil
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.Status = update.Status
	if update.ExternalID != "" {
		p.ExternalTransactionID = update.ExternalID
	}
	if len(update.CallbackData) > 0 {
		p.CallbackData = append(json.RawMessage(nil), update.CallbackData...)
	}
	if update.Status == domain.PaymentStatusSuccess && p.PaidAt == nil {
		p.PaidAt = &at
	}
	p.UpdatedAt = at

	if sale, ok := s.sales[p.SaleID]; ok && store.PaymentMarksSalePaid(*sale, update.Status) {
		ref := p.ExternalTransactionID
		setPaymentState(sale, domain.PaymentStatePaid, ref, at)
	}
	return clonePayment(p), nil
}

func (s *Store) ExpirePendingPayments(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payments {
		if p.Status == domain.PaymentStatusPending && p.ExpiredAt.Before(now) {
			p.Status = domain.PaymentStatusExpired
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneSale(in *domain.Sale) *domain.Sale {
	out := *in
	out.Items = append([]domain.SaleItem(nil), in.Items...)
	return &out
}

func clonePayment(in *domain.Payment) *domain.Payment {
	out := *in
	out.CallbackData = append(json.RawMessage(nil), in.CallbackData...)
	return &out
}
