package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"salecore/internal/cache"
	"salecore/internal/domain"
	"salecore/internal/gateway"
	"salecore/internal/store"
)

const providerManual = "manual"

// PaymentReference is the id sent to providers for one payment attempt:
// the sale's sequence number and the payment id.
func PaymentReference(sequence string, paymentID int64) string {
	return fmt.Sprintf("%s-%d", sequence, paymentID)
}

// ParsePaymentReference splits a reference built by PaymentReference.
func ParsePaymentReference(ref string) (sequence string, paymentID int64, ok bool) {
	i := strings.LastIndex(ref, "-")
	if i <= 0 || i == len(ref)-1 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(ref[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return ref[:i], id, true
}

func checkPayable(sale *domain.Sale) error {
	if sale.Status.Terminal() {
		return domain.InvalidTransition("sale", sale.ID, string(sale.Status), "payment")
	}
	if sale.PaymentStatus == domain.PaymentStatePaid {
		return domain.InvalidTransition("sale", sale.ID, "paid", "payment")
	}
	return nil
}

// CreatePayment opens a pending payment row for the sale's total without
// asking any provider.
func (s *Service) CreatePayment(ctx context.Context, saleID int64, method string) (domain.Payment, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = domain.MethodCash
	}
	if !validSaleMethod(method) {
		return domain.Payment{}, domain.Validation("payment", nil, "unsupported payment method %q", method)
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := checkPayable(sale); err != nil {
		return domain.Payment{}, err
	}
	provider := s.gateway.Name()
	if method == domain.MethodCash {
		provider = providerManual
	}
	now := s.now()
	p, err := s.repo.CreatePayment(ctx, domain.Payment{
		SaleID:    sale.ID,
		Method:    method,
		Amount:    sale.Total,
		Status:    domain.PaymentStatusPending,
		Provider:  provider,
		ExpiredAt: now.Add(s.opts.PaymentTTL),
		CreatedAt: now,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return *p, nil
}

// GeneratePayment creates a payment attempt and asks the gateway for an intent.
// The gateway never fails the call: provider trouble yields a local stand-in.
func (s *Service) GeneratePayment(ctx context.Context, saleID int64, req domain.GeneratePaymentRequest) (domain.PaymentResponse, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	bank := strings.ToLower(strings.TrimSpace(req.Bank))
	switch method {
	case domain.MethodQRIS, domain.MethodCard:
	case domain.MethodBankTransfer:
		if _, ok := gateway.BankCodes[bank]; bank != "" && !ok {
			return domain.PaymentResponse{}, domain.Validation("payment", nil, "unsupported bank %q", req.Bank)
		}
	default:
		return domain.PaymentResponse{}, domain.Validation("payment", nil, "method must be qris, bank_transfer or card")
	}

	payment, err := s.CreatePayment(ctx, saleID, method)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	charge := gateway.Charge{
		OrderID:   sale.ID,
		Reference: PaymentReference(sale.SequenceNumber, payment.ID),
		Amount:    payment.Amount,
		Customer:  sale.Customer,
		Bank:      bank,
	}
	var intent domain.PaymentIntent
	switch method {
	case domain.MethodQRIS:
		intent = s.gateway.CreateQRIS(ctx, charge)
	case domain.MethodBankTransfer:
		intent = s.gateway.CreateBankTransfer(ctx, charge)
	default:
		intent = s.gateway.CreateCardPayment(ctx, charge)
	}

	attached, err := s.repo.AttachIntent(ctx, payment.ID, intent)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if _, err := s.repo.UpdateSalePaymentState(ctx, sale.ID, domain.PaymentStatePending, charge.Reference, s.now()); err != nil {
		s.log.WithError(err).WithField("sale_id", sale.ID).Warn("could not mark sale payment pending")
	}
	s.log.WithFields(logrus.Fields{
		"sale_id":    sale.ID,
		"payment_id": attached.ID,
		"method":     method,
		"provider":   intent.Provider,
		"source":     intent.Source,
	}).Info("payment intent generated")
	return domain.PaymentResponse{Payment: *attached, Intent: &intent}, nil
}

func (s *Service) GetPayment(ctx context.Context, id int64) (domain.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	return *p, nil
}

// FindLatestPayment returns the sale's most recent payment attempt.
func (s *Service) FindLatestPayment(ctx context.Context, saleID int64) (domain.Payment, error) {
	p, err := s.repo.FindLatestPayment(ctx, saleID)
	if err != nil {
		return domain.Payment{}, err
	}
	return *p, nil
}

// UpdatePaymentStatus records a status change; success also marks the sale
// paid in the same transaction.
func (s *Service) UpdatePaymentStatus(ctx context.Context, update store.PaymentUpdate) (domain.Payment, error) {
	if !update.Status.Valid() {
		return domain.Payment{}, domain.Validation("payment", update.PaymentID, "unknown status %q", update.Status)
	}
	if update.At.IsZero() {
		update.At = s.now()
	}
	p, err := s.repo.UpdatePaymentStatus(ctx, update)
	if err != nil {
		return domain.Payment{}, err
	}
	s.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"sale_id":    p.SaleID,
		"status":     p.Status,
	}).Info("payment status updated")
	return *p, nil
}

// CheckExpiredPayments flips every overdue pending payment to expired.
func (s *Service) CheckExpiredPayments(ctx context.Context) (domain.SweepResponse, error) {
	now := s.now()
	n, err := s.repo.ExpirePendingPayments(ctx, now)
	if err != nil {
		return domain.SweepResponse{}, err
	}
	if n > 0 {
		s.log.WithField("expired", n).Info("expired pending payments")
	}
	return domain.SweepResponse{Expired: n, At: now.Format("2006-01-02T15:04:05Z07:00")}, nil
}

// VerifyPayment asks the provider for the current status of a pending payment
// and records any final answer. Results are cached briefly per provider id.
func (s *Service) VerifyPayment(ctx context.Context, paymentID int64) (domain.Payment, gateway.Verification, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, gateway.Verification{}, err
	}
	if p.Status != domain.PaymentStatusPending || p.Provider == providerManual {
		return *p, gateway.Verification{Status: p.Status, Source: "record"}, nil
	}
	externalID := p.ExternalTransactionID
	if externalID == "" {
		return *p, gateway.Verification{Status: p.Status, Source: "record"}, nil
	}

	key := cache.StatusKey(p.Provider, externalID)
	v, hit := s.cachedVerification(ctx, key)
	if !hit {
		v = s.gateway.VerifyPayment(ctx, externalID)
		if v.Source == domain.IntentSourceGateway {
			if err := s.cache.SetStatus(ctx, key, v.Status, s.opts.StatusCacheTTL); err != nil {
				s.log.WithError(err).WithField("key", key).Warn("status cache write failed")
			}
		}
	}
	if v.Status == domain.PaymentStatusPending {
		return *p, v, nil
	}

	updated, err := s.UpdatePaymentStatus(ctx, store.PaymentUpdate{
		PaymentID:    p.ID,
		Status:       v.Status,
		CallbackData: v.Raw,
	})
	if err != nil {
		return domain.Payment{}, v, err
	}
	return updated, v, nil
}

func (s *Service) cachedVerification(ctx context.Context, key string) (gateway.Verification, bool) {
	status, ok, err := s.cache.GetStatus(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("status cache read failed")
		return gateway.Verification{}, false
	}
	if !ok {
		return gateway.Verification{}, false
	}
	return gateway.Verification{Status: status, Source: "cache"}, true
}

// HandleCallback authenticates a provider notification and applies it to the
// matching payment. Replays and notifications for settled payments are no-ops.
func (s *Service) HandleCallback(ctx context.Context, provider string, header http.Header, path string, body []byte) (domain.Payment, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != s.gateway.Name() {
		return domain.Payment{}, domain.NotFound("payment provider", provider)
	}
	parser, ok := s.gateway.(gateway.CallbackParser)
	if !ok {
		return domain.Payment{}, domain.NotFound("payment provider", provider)
	}
	ev, err := parser.ParseCallback(header, path, body)
	if err != nil {
		s.log.WithError(err).WithField("provider", provider).Warn("callback rejected")
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return domain.Payment{}, &domain.Error{Kind: domain.ErrValidation, Entity: "callback", ID: provider, Err: err}
		}
		return domain.Payment{}, err
	}

	p, err := s.paymentForEvent(ctx, ev)
	if err != nil {
		return domain.Payment{}, err
	}
	entry := s.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"provider":   provider,
		"status":     ev.Status,
		"raw_status": ev.RawStatus,
	})
	if p.Status == domain.PaymentStatusSuccess || ev.Status == domain.PaymentStatusPending || p.Status == ev.Status {
		entry.Info("callback acknowledged without change")
		return *p, nil
	}

	if ev.ExternalID != "" {
		if err := s.cache.SetStatus(ctx, cache.StatusKey(p.Provider, ev.ExternalID), ev.Status, s.opts.StatusCacheTTL); err != nil {
			entry.WithError(err).Warn("status cache write failed")
		}
	}
	updated, err := s.UpdatePaymentStatus(ctx, store.PaymentUpdate{
		PaymentID:    p.ID,
		Status:       ev.Status,
		ExternalID:   ev.ExternalID,
		CallbackData: ev.Payload,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	entry.Info("callback applied")
	return updated, nil
}

// paymentForEvent finds the payment by provider id first, then by the
// reference we sent, checking the reference belongs to the payment's sale.
func (s *Service) paymentForEvent(ctx context.Context, ev gateway.CallbackEvent) (*domain.Payment, error) {
	if ev.ExternalID != "" {
		p, err := s.repo.FindPaymentByExternalID(ctx, ev.ExternalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	sequence, id, ok := ParsePaymentReference(ev.Reference)
	if !ok {
		return nil, domain.NotFound("payment", ev.Reference)
	}
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	sale, err := s.repo.GetSale(ctx, p.SaleID)
	if err != nil {
		return nil, err
	}
	if sale.SequenceNumber != sequence {
		return nil, domain.NotFound("payment", ev.Reference)
	}
	return p, nil
}

// ConfirmManual lets a cashier confirm a payment the provider cannot report,
// such as a transfer to the store's own account.
func (s *Service) ConfirmManual(ctx context.Context, paymentID int64, req domain.ConfirmPaymentRequest) (domain.Payment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Payment{}, domain.Validation("payment", paymentID, "an authenticated actor is required")
	}
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if p.Status != domain.PaymentStatusPending {
		return domain.Payment{}, domain.InvalidTransition("payment", paymentID, string(p.Status), string(domain.PaymentStatusSuccess))
	}
	now := s.now()
	reference := strings.TrimSpace(req.Reference)
	payload, err := json.Marshal(map[string]any{
		"confirmed_by": actor.Username,
		"confirmed_at": now,
		"reference":    reference,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	update := store.PaymentUpdate{
		PaymentID:    paymentID,
		Status:       domain.PaymentStatusSuccess,
		CallbackData: payload,
		At:           now,
	}
	if p.ExternalTransactionID == "" {
		update.ExternalID = reference
	}
	return s.UpdatePaymentStatus(ctx, update)
}
