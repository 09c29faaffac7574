package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"salecore/internal/cache"
	"salecore/internal/domain"
	"salecore/internal/gateway"
	"salecore/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// actorOrSystem is the actor recorded in audit notes and movement rows.
func actorOrSystem(ctx context.Context) domain.Actor {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return domain.SystemActor()
}

type Options struct {
	// StatusCacheTTL bounds how long a provider verification result is reused.
	StatusCacheTTL time.Duration
	// PaymentTTL is the expiry of a bare pending payment row.
	PaymentTTL time.Duration
}

type Service struct {
	repo    store.Repository
	gateway gateway.Gateway
	cache   cache.StatusCache
	opts    Options
	log     *logrus.Entry
	now     func() time.Time
}

func New(repo store.Repository, gw gateway.Gateway, statusCache cache.StatusCache, opts Options, log *logrus.Entry) *Service {
	if statusCache == nil {
		statusCache = cache.NoopStatusCache{}
	}
	if opts.StatusCacheTTL <= 0 {
		opts.StatusCacheTTL = 30 * time.Second
	}
	if opts.PaymentTTL <= 0 {
		opts.PaymentTTL = 24 * time.Hour
	}
	return &Service{
		repo:    repo,
		gateway: gw,
		cache:   statusCache,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) GatewayName() string {
	return s.gateway.Name()
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// ProductLedger returns a product with its movement history and the balance
// the history adds up to.
func (s *Service) ProductLedger(ctx context.Context, productID int64) (domain.ProductLedger, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.ProductLedger{}, err
	}
	movements, err := s.repo.ListMovements(ctx, productID)
	if err != nil {
		return domain.ProductLedger{}, err
	}
	out := domain.ProductLedger{Product: *product, Movements: movements}
	for _, m := range movements {
		out.Balance += m.Effect()
	}
	if out.Balance != product.StockQuantity {
		s.log.WithFields(logrus.Fields{
			"product_id": productID,
			"stock":      product.StockQuantity,
			"ledger":     out.Balance,
		}).Warn("stock quantity does not match ledger")
	}
	return out, nil
}

// RecordMovement books a manual ledger entry. Cancel and refund movements are
// only written by the sale operations that own them.
func (s *Service) RecordMovement(ctx context.Context, req domain.StockMovementRequest) (domain.StockMovement, error) {
	if req.ProductID <= 0 {
		return domain.StockMovement{}, domain.Validation("stock_movement", nil, "product_id is required")
	}
	if req.Delta == 0 {
		return domain.StockMovement{}, domain.Validation("stock_movement", nil, "delta must not be zero")
	}
	if req.Type == "" {
		req.Type = domain.MovementAdjustment
	}
	switch req.Type {
	case domain.MovementIn:
		if req.Delta < 0 {
			return domain.StockMovement{}, domain.Validation("stock_movement", nil, "an in movement must add stock")
		}
	case domain.MovementOut:
		if req.Delta > 0 {
			return domain.StockMovement{}, domain.Validation("stock_movement", nil, "an out movement must remove stock")
		}
	case domain.MovementAdjustment:
	default:
		return domain.StockMovement{}, domain.Validation("stock_movement", nil, "movement type %q cannot be recorded manually", req.Type)
	}

	actor := actorOrSystem(ctx)
	m, err := s.repo.ApplyMovement(ctx, domain.MovementInput{
		ProductID:     req.ProductID,
		Delta:         req.Delta,
		Type:          req.Type,
		ReferenceType: domain.ReferenceAdjustment,
		UserID:        actor.ID,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	s.log.WithFields(logrus.Fields{
		"product_id": req.ProductID,
		"delta":      req.Delta,
		"type":       req.Type,
		"actor":      actor.Username,
	}).Info("stock movement recorded")
	return *m, nil
}
