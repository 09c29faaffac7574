package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"salecore/internal/domain"
	"salecore/internal/store/record"
)

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	rec, err := record.New(s.db, productsTable).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	p := productFromRecord(rec)
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, sku, name, price, stock_quantity, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, domain.Persistence("products", nil, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.UpdatedAt); err != nil {
			return nil, domain.Persistence("products", nil, err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("products", nil, err)
	}
	return out, nil
}

func (s *Store) ListMovements(ctx context.Context, productID int64) ([]domain.StockMovement, error) {
	recs, err := record.New(s.db, movementsTable).FindAll(ctx,
		record.Filter{"product_id": productID}, record.Order{Column: "id", Direction: "ASC"}, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockMovement, 0, len(recs))
	for _, rec := range recs {
		out = append(out, movementFromRecord(rec))
	}
	return out, nil
}

func (s *Store) ApplyMovement(ctx context.Context, in domain.MovementInput) (*domain.StockMovement, error) {
	var out *domain.StockMovement
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		m, err := s.applyMovement(ctx, tx, in, time.Now().UTC())
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("stock_movement", in.ProductID, err)
	}
	return out, nil
}

// applyMovement adjusts stock_quantity and appends the movement row inside the
// caller's transaction. The UPDATE takes the product row lock, so concurrent
// movements on one product queue behind each other.
func (s *Store) applyMovement(ctx context.Context, tx *sqlx.Tx, in domain.MovementInput, at time.Time) (*domain.StockMovement, error) {
	if in.Delta == 0 {
		return nil, domain.Validation("stock_movement", nil, "delta must not be zero")
	}
	if !in.Type.Valid() {
		return nil, domain.Validation("stock_movement", nil, "unknown movement type %q", in.Type)
	}

	var qty int
	err := tx.QueryRowxContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at = now()
		WHERE id = $2 AND ($3::boolean OR stock_quantity + $1 >= 0)
		RETURNING stock_quantity
	`, in.Delta, in.ProductID, s.opts.AllowNegativeStock).Scan(&qty)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var current int
		err := tx.QueryRowxContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, in.ProductID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("product", in.ProductID)
		}
		if err != nil {
			return nil, err
		}
		return nil, domain.InsufficientStock(in.ProductID, current, in.Delta)
	}

	m := domain.StockMovement{
		ProductID:     in.ProductID,
		MovementType:  in.Type,
		Quantity:      in.Delta,
		Direction:     1,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		UserID:        in.UserID,
		Notes:         in.Notes,
		CreatedAt:     at,
	}
	if in.Delta < 0 {
		m.Quantity, m.Direction = -in.Delta, -1
	}
	id, err := record.New(tx, movementsTable).Create(ctx, movementRecord(m))
	if err != nil {
		return nil, err
	}
	m.ID = id
	return &m, nil
}

func (s *Store) applySaleMovements(ctx context.Context, tx *sqlx.Tx, sale domain.Sale, sign int, mt domain.MovementType, ref string, userID int64, notes string, at time.Time) error {
	for _, d := range sale.StockDeltas() {
		_, err := s.applyMovement(ctx, tx, domain.MovementInput{
			ProductID:     d.ProductID,
			Delta:         sign * d.Quantity,
			Type:          mt,
			ReferenceType: ref,
			ReferenceID:   sale.ID,
			UserID:        userID,
			Notes:         notes,
		}, at)
		if err != nil {
			return err
		}
	}
	return nil
}
