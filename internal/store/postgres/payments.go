package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"salecore/internal/domain"
	"salecore/internal/store"
	"salecore/internal/store/record"
)

var lockPaymentQuery = fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, strings.Join(paymentsTable.Columns, ", "))

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = payment.CreatedAt
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusPending
	}
	id, err := record.New(s.db, paymentsTable).Create(ctx, paymentRecord(payment))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.NotFound("sale", payment.SaleID)
		}
		return nil, err
	}
	payment.ID = id
	return &payment, nil
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	rec, err := record.New(s.db, paymentsTable).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	p := paymentFromRecord(rec)
	return &p, nil
}

func (s *Store) FindLatestPayment(ctx context.Context, saleID int64) (*domain.Payment, error) {
	return s.findOnePayment(ctx, record.Filter{"sale_id": saleID}, fmt.Sprintf("sale %d", saleID))
}

func (s *Store) FindPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	if externalID == "" {
		return nil, domain.NotFound("payment", externalID)
	}
	return s.findOnePayment(ctx, record.Filter{"external_transaction_id": externalID}, externalID)
}

// findOnePayment returns the newest row matching filter. ids are BIGSERIAL so
// the highest id is the most recently created attempt.
func (s *Store) findOnePayment(ctx context.Context, filter record.Filter, label string) (*domain.Payment, error) {
	recs, err := record.New(s.db, paymentsTable).FindAll(ctx, filter, record.Order{Column: "id", Direction: "DESC"}, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.NotFound("payment", label)
	}
	p := paymentFromRecord(recs[0])
	return &p, nil
}

func (s *Store) AttachIntent(ctx context.Context, paymentID int64, intent domain.PaymentIntent) (*domain.Payment, error) {
	var out domain.Payment
	err := s.inTx(ctx, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		p, err := lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		store.ApplyIntent(&p, intent, time.Now().UTC())
		fields := paymentRecord(p)
		delete(fields, "sale_id")
		delete(fields, "created_at")
		delete(fields, "status")
		delete(fields, "paid_at")
		if err := record.New(tx, paymentsTable).Update(ctx, paymentID, fields); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("payment", paymentID, err)
	}
	return &out, nil
}

func lockPayment(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Payment, error) {
	rec := record.Record{}
	if err := tx.QueryRowxContext(ctx, lockPaymentQuery, id).MapScan(rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.NotFound("payment", id)
		}
		return domain.Payment{}, err
	}
	return paymentFromRecord(rec), nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, update store.PaymentUpdate) (*domain.Payment, error) {
	if !update.Status.Valid() {
		return nil, domain.Validation("payment", update.PaymentID, "unknown status %q", update.Status)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var out domain.Payment
	err := s.inTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		p, err := lockPayment(ctx, tx, update.PaymentID)
		if err != nil {
			return err
		}
		if store.PaymentSettled(p.Status, update.Status) {
			out = p
			return nil
		}

		fields := record.Record{"status": string(update.Status), "updated_at": at}
		p.Status = update.Status
		p.UpdatedAt = at
		if update.ExternalID != "" {
			p.ExternalTransactionID = update.ExternalID
			fields["external_transaction_id"] = update.ExternalID
		}
		if len(update.CallbackData) > 0 {
			p.CallbackData = update.CallbackData
			fields["callback_data"] = nullJSON(update.CallbackData)
		}
		if update.Status == domain.PaymentStatusSuccess && p.PaidAt == nil {
			p.PaidAt = &at
			fields["paid_at"] = at
		}
		if err := record.New(tx, paymentsTable).Update(ctx, p.ID, fields); err != nil {
			return err
		}

		if update.Status == domain.PaymentStatusSuccess {
			sale, err := lockSale(ctx, tx, p.SaleID)
			if err != nil {
				return err
			}
			if store.PaymentMarksSalePaid(*sale, update.Status) {
				saleFields := paymentStateFields(sale, domain.PaymentStatePaid, p.ExternalTransactionID, at)
				if err := record.New(tx, salesTable).Update(ctx, sale.ID, saleFields); err != nil {
					return err
				}
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("payment", update.PaymentID, err)
	}
	return &out, nil
}

func (s *Store) ExpirePendingPayments(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, updated_at = $3
		WHERE status = $2 AND expired_at < $3
	`, string(domain.PaymentStatusExpired), string(domain.PaymentStatusPending), now)
	if err != nil {
		return 0, domain.Persistence("payments", nil, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Persistence("payments", nil, err)
	}
	return n, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var (
	_ store.PaymentRepository = (*Store)(nil)
	_ store.Repository        = (*Store)(nil)
)
