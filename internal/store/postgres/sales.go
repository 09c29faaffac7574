package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"salecore/internal/domain"
	"salecore/internal/store"
	"salecore/internal/store/record"
)

var lockSaleQuery = fmt.Sprintf(`SELECT %s FROM sales WHERE id = $1 FOR UPDATE`, strings.Join(salesTable.Columns, ", "))

// CreateSale runs under READ COMMITTED: the sequence counter row lock already
// serializes creators for the same day, and a UNIQUE violation on the number
// retries the whole unit of work.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if !sale.Channel.Valid() {
		return nil, domain.Validation("sale", nil, "unknown channel %q", sale.Channel)
	}
	if len(sale.Items) == 0 {
		return nil, domain.Validation("sale", nil, "at least one item is required")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	var created domain.Sale
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		attempt := sale
		attempt.Items = append([]domain.SaleItem(nil), sale.Items...)

		number, err := s.nextSequence(ctx, tx, attempt.Channel, attempt.CreatedAt)
		if err != nil {
			return err
		}
		attempt.SequenceNumber = number
		attempt.StockCommitted = attempt.Channel == domain.ChannelPOS

		id, err := record.New(tx, salesTable).Create(ctx, saleRecord(attempt))
		if err != nil {
			return err
		}
		attempt.ID = id

		items := record.New(tx, saleItemsTable)
		for i := range attempt.Items {
			attempt.Items[i].SaleID = id
			itemID, err := items.Create(ctx, record.Record{
				"sale_id":     id,
				"product_id":  attempt.Items[i].ProductID,
				"quantity":    attempt.Items[i].Quantity,
				"unit_price":  attempt.Items[i].UnitPrice,
				"discount":    attempt.Items[i].Discount,
				"total_price": attempt.Items[i].TotalPrice,
			})
			if err != nil {
				return err
			}
			attempt.Items[i].ID = itemID
		}

		if attempt.Channel == domain.ChannelPOS {
			if err := s.applySaleMovements(ctx, tx, attempt, -1, domain.MovementOut, domain.ReferenceSale, attempt.UserID, "", attempt.CreatedAt); err != nil {
				return err
			}
		}
		created = attempt
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("sale", nil, err)
	}
	return &created, nil
}

func (s *Store) nextSequence(ctx context.Context, tx *sqlx.Tx, channel domain.Channel, at time.Time) (string, error) {
	prefix := domain.SequencePrefix(channel)
	day := s.opts.SequenceDay(at)
	var counter int64
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO sale_sequences (prefix, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day)
		DO UPDATE SET last_value = sale_sequences.last_value + 1
		RETURNING last_value
	`, prefix, day).Scan(&counter)
	if err != nil {
		return "", err
	}
	return domain.FormatSequence(prefix, day, counter), nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	rec, err := record.New(s.db, salesTable).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	sale := saleFromRecord(rec)
	items, err := loadItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func loadItems(ctx context.Context, db record.DBTX, saleID int64) ([]domain.SaleItem, error) {
	recs, err := record.New(db, saleItemsTable).FindAll(ctx,
		record.Filter{"sale_id": saleID}, record.Order{Column: "id"}, 0, 0)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, saleItemFromRecord(rec))
	}
	return items, nil
}

// lockSale selects the header FOR UPDATE and loads its items. Every status
// change re-checks the locked row, never a value read earlier.
func lockSale(ctx context.Context, tx *sqlx.Tx, id int64) (*domain.Sale, error) {
	rec := record.Record{}
	if err := tx.QueryRowxContext(ctx, lockSaleQuery, id).MapScan(rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("sale", id)
		}
		return nil, err
	}
	sale := saleFromRecord(rec)
	items, err := loadItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

// mutateSale locks the sale, lets fn change it and writes back the header
// fields fn touched.
func (s *Store) mutateSale(ctx context.Context, id int64, fn func(tx *sqlx.Tx, sale *domain.Sale) (record.Record, error)) (*domain.Sale, error) {
	var out *domain.Sale
	err := s.inTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		sale, err := lockSale(ctx, tx, id)
		if err != nil {
			return err
		}
		fields, err := fn(tx, sale)
		if err != nil {
			return err
		}
		if err := record.New(tx, salesTable).Update(ctx, id, fields); err != nil {
			return err
		}
		out = sale
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("sale", id, err)
	}
	return out, nil
}

func (s *Store) CancelSale(ctx context.Context, id int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	return s.mutateSale(ctx, id, func(tx *sqlx.Tx, sale *domain.Sale) (record.Record, error) {
		if err := sale.CheckTransition(domain.SaleStatusCancelled); err != nil {
			return nil, err
		}
		if sale.StockCommitted {
			if err := s.applySaleMovements(ctx, tx, *sale, 1, domain.MovementTransactionCancel, domain.ReferenceCancel, actor.ID, reason, at); err != nil {
				return nil, err
			}
		}
		sale.Status = domain.SaleStatusCancelled
		sale.StockCommitted = false
		sale.CancelledAt = &at
		sale.UpdatedAt = at
		sale.Notes = domain.AppendNote(sale.Notes, at, actor, "cancelled", reason)
		return record.Record{
			"status":          string(sale.Status),
			"stock_committed": false,
			"cancelled_at":    at,
			"notes":           sale.Notes,
			"updated_at":      at,
		}, nil
	})
}

func (s *Store) RefundSale(ctx context.Context, id int64, amount int64, reason string, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	return s.mutateSale(ctx, id, func(tx *sqlx.Tx, sale *domain.Sale) (record.Record, error) {
		if err := sale.CheckTransition(domain.SaleStatusRefunded); err != nil {
			return nil, err
		}
		if amount <= 0 || amount > sale.Total {
			return nil, domain.Validation("sale", id, "refund amount %d outside 1..%d", amount, sale.Total)
		}
		if amount == sale.Total && sale.StockCommitted {
			if err := s.applySaleMovements(ctx, tx, *sale, 1, domain.MovementTransactionRefund, domain.ReferenceRefund, actor.ID, reason, at); err != nil {
				return nil, err
			}
			sale.StockCommitted = false
		}
		sale.Status = domain.SaleStatusRefunded
		sale.PaymentStatus = domain.PaymentStateRefunded
		sale.RefundedAmount = amount
		sale.RefundedAt = &at
		sale.UpdatedAt = at
		sale.Notes = domain.AppendNote(sale.Notes, at, actor, fmt.Sprintf("refunded %d", amount), reason)
		return record.Record{
			"status":          string(sale.Status),
			"payment_status":  string(sale.PaymentStatus),
			"refunded_amount": amount,
			"refunded_at":     at,
			"stock_committed": sale.StockCommitted,
			"notes":           sale.Notes,
			"updated_at":      at,
		}, nil
	})
}

func (s *Store) UpdateSaleStatus(ctx context.Context, id int64, next domain.SaleStatus, actor domain.Actor, at time.Time) (*domain.Sale, error) {
	return s.mutateSale(ctx, id, func(tx *sqlx.Tx, sale *domain.Sale) (record.Record, error) {
		if err := sale.CheckTransition(next); err != nil {
			return nil, err
		}
		if sale.CommitsStockOn(next) {
			if err := s.applySaleMovements(ctx, tx, *sale, -1, domain.MovementOut, domain.ReferenceSale, actor.ID, "", at); err != nil {
				return nil, err
			}
			sale.StockCommitted = true
		}
		sale.Status = next
		sale.UpdatedAt = at
		return record.Record{
			"status":          string(next),
			"stock_committed": sale.StockCommitted,
			"updated_at":      at,
		}, nil
	})
}

func (s *Store) UpdateSalePaymentState(ctx context.Context, id int64, state domain.PaymentState, reference string, at time.Time) (*domain.Sale, error) {
	return s.mutateSale(ctx, id, func(_ *sqlx.Tx, sale *domain.Sale) (record.Record, error) {
		if sale.Status.Terminal() {
			return nil, domain.InvalidTransition("sale", id, string(sale.Status), "payment "+string(state))
		}
		return paymentStateFields(sale, state, reference, at), nil
	})
}

func paymentStateFields(sale *domain.Sale, state domain.PaymentState, reference string, at time.Time) record.Record {
	sale.PaymentStatus = state
	sale.UpdatedAt = at
	fields := record.Record{"payment_status": string(state), "updated_at": at}
	if reference != "" {
		sale.PaymentReference = reference
		fields["payment_reference"] = reference
	}
	if state == domain.PaymentStatePaid && sale.PaidAt == nil {
		sale.PaidAt = &at
		fields["paid_at"] = at
	}
	return fields
}

var _ store.SaleRepository = (*Store)(nil)
