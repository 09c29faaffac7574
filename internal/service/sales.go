package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"salecore/internal/domain"
)

func validSaleMethod(method string) bool {
	switch method {
	case domain.MethodCash, domain.MethodQRIS, domain.MethodBankTransfer, domain.MethodCard:
		return true
	default:
		return false
	}
}

// CreateSale prices the items, fixes the totals and persists the sale with its
// items in one unit of work. POS sales take their stock immediately; a POS sale
// already paid at the counter is created completed.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	if !req.Channel.Valid() {
		return domain.Sale{}, domain.Validation("sale", nil, "channel must be storefront or pos")
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.MethodCash
		if req.Channel == domain.ChannelStorefront {
			req.PaymentMethod = domain.MethodQRIS
		}
	}
	if !validSaleMethod(req.PaymentMethod) {
		return domain.Sale{}, domain.Validation("sale", nil, "unsupported payment method %q", req.PaymentMethod)
	}
	switch req.PaymentStatus {
	case "":
		req.PaymentStatus = domain.PaymentStateUnpaid
	case domain.PaymentStateUnpaid, domain.PaymentStatePending:
	case domain.PaymentStatePaid:
		if req.Channel != domain.ChannelPOS {
			return domain.Sale{}, domain.Validation("sale", nil, "only counter sales can be created paid")
		}
	default:
		return domain.Sale{}, domain.Validation("sale", nil, "payment_status %q not allowed at creation", req.PaymentStatus)
	}

	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return domain.Sale{}, err
	}
	items, err := domain.BuildItems(req.Items, func(id int64) (int64, bool) {
		p, ok := products[id]
		return p.Price, ok
	})
	if err != nil {
		return domain.Sale{}, err
	}
	for _, item := range items {
		if _, ok := products[item.ProductID]; !ok {
			return domain.Sale{}, domain.NotFound("product", item.ProductID)
		}
	}
	totals, err := domain.ComputeTotals(items, req)
	if err != nil {
		return domain.Sale{}, err
	}

	actor := actorOrSystem(ctx)
	now := s.now()
	sale := domain.Sale{
		Channel:          req.Channel,
		Status:           domain.SaleStatusPending,
		PaymentStatus:    req.PaymentStatus,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		Subtotal:         totals.Subtotal,
		Discount:         totals.Discount,
		Tax:              totals.Tax,
		Shipping:         totals.Shipping,
		Total:            totals.Total,
		Customer:         req.Customer,
		UserID:           actor.ID,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        now,
		Items:            items,
	}
	if req.PaymentStatus == domain.PaymentStatePaid {
		sale.Status = domain.SaleStatusCompleted
		sale.PaidAt = &now
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.WithFields(logrus.Fields{
		"sale_id":  created.ID,
		"sequence": created.SequenceNumber,
		"channel":  created.Channel,
		"total":    created.Total,
	}).Info("sale created")
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) CancelSale(ctx context.Context, id int64, req domain.CancelSaleRequest) (domain.Sale, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Sale{}, domain.Validation("sale", id, "a cancellation reason is required")
	}
	actor := actorOrSystem(ctx)
	sale, err := s.repo.CancelSale(ctx, id, reason, actor, s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.WithFields(logrus.Fields{"sale_id": id, "actor": actor.Username}).Info("sale cancelled")
	return *sale, nil
}

func (s *Service) RefundSale(ctx context.Context, id int64, req domain.RefundSaleRequest) (domain.Sale, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Sale{}, domain.Validation("sale", id, "a refund reason is required")
	}
	if req.Amount <= 0 {
		return domain.Sale{}, domain.Validation("sale", id, "refund amount must be positive")
	}
	actor := actorOrSystem(ctx)
	sale, err := s.repo.RefundSale(ctx, id, req.Amount, reason, actor, s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.WithFields(logrus.Fields{"sale_id": id, "amount": req.Amount, "actor": actor.Username}).Info("sale refunded")
	return *sale, nil
}

// UpdateSaleStatus moves a sale forward through its lifecycle. Cancellation
// and refund carry side effects and have their own operations.
func (s *Service) UpdateSaleStatus(ctx context.Context, id int64, req domain.UpdateSaleStatusRequest) (domain.Sale, error) {
	switch {
	case !req.Status.Valid():
		return domain.Sale{}, domain.Validation("sale", id, "unknown status %q", req.Status)
	case req.Status == domain.SaleStatusCancelled:
		return domain.Sale{}, domain.Validation("sale", id, "use the cancel operation")
	case req.Status == domain.SaleStatusRefunded:
		return domain.Sale{}, domain.Validation("sale", id, "use the refund operation")
	}
	actor := actorOrSystem(ctx)
	sale, err := s.repo.UpdateSaleStatus(ctx, id, req.Status, actor, s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	s.log.WithFields(logrus.Fields{"sale_id": id, "status": sale.Status}).Info("sale status updated")
	return *sale, nil
}

func (s *Service) UpdateSalePaymentState(ctx context.Context, id int64, req domain.UpdatePaymentStateRequest) (domain.Sale, error) {
	if !req.Status.Valid() {
		return domain.Sale{}, domain.Validation("sale", id, "unknown payment status %q", req.Status)
	}
	if req.Status == domain.PaymentStateRefunded {
		return domain.Sale{}, domain.Validation("sale", id, "use the refund operation")
	}
	sale, err := s.repo.UpdateSalePaymentState(ctx, id, req.Status, strings.TrimSpace(req.Reference), s.now())
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}
