package postgres

import (
	"salecore/internal/domain"
	"salecore/internal/store/record"
)

var productsTable = record.Table{
	Name:       "products",
	PrimaryKey: "id",
	Columns:    []string{"id", "sku", "name", "price", "stock_quantity", "updated_at"},
	// stock_quantity only moves through the ledger.
	Fillable: []string{"sku", "name", "price"},
}

var movementsTable = record.Table{
	Name:       "stock_movements",
	PrimaryKey: "id",
	Columns: []string{
		"id", "product_id", "movement_type", "quantity", "direction", "reference_type",
		"reference_id", "user_id", "notes", "created_at",
	},
	Fillable: []string{
		"product_id", "movement_type", "quantity", "direction", "reference_type",
		"reference_id", "user_id", "notes", "created_at",
	},
}

var salesTable = record.Table{
	Name:       "sales",
	PrimaryKey: "id",
	Columns: []string{
		"id", "channel", "sequence_number", "status", "payment_status", "payment_method",
		"payment_reference", "subtotal", "discount", "tax", "shipping", "total",
		"refunded_amount", "customer_name", "customer_email", "customer_phone",
		"customer_address", "user_id", "notes", "stock_committed", "paid_at",
		"cancelled_at", "refunded_at", "created_at", "updated_at",
	},
	Fillable: []string{
		"channel", "sequence_number", "status", "payment_status", "payment_method",
		"payment_reference", "subtotal", "discount", "tax", "shipping", "total",
		"refunded_amount", "customer_name", "customer_email", "customer_phone",
		"customer_address", "user_id", "notes", "stock_committed", "paid_at",
		"cancelled_at", "refunded_at", "created_at", "updated_at",
	},
}

var saleItemsTable = record.Table{
	Name:       "sale_items",
	PrimaryKey: "id",
	Columns:    []string{"id", "sale_id", "product_id", "quantity", "unit_price", "discount", "total_price"},
	Fillable:   []string{"sale_id", "product_id", "quantity", "unit_price", "discount", "total_price"},
}

var paymentsTable = record.Table{
	Name:       "payments",
	PrimaryKey: "id",
	Columns: []string{
		"id", "sale_id", "method", "amount", "status", "provider", "external_transaction_id",
		"qr_string", "qr_code_url", "payment_url", "va_number", "bank", "instructions",
		"expired_at", "paid_at", "callback_data", "created_at", "updated_at",
	},
	Fillable: []string{
		"sale_id", "method", "amount", "status", "provider", "external_transaction_id",
		"qr_string", "qr_code_url", "payment_url", "va_number", "bank", "instructions",
		"expired_at", "paid_at", "callback_data", "created_at", "updated_at",
	},
}

var settingsTable = record.Table{
	Name:       "settings",
	PrimaryKey: "key",
	Columns:    []string{"key", "value", "updated_at"},
	Fillable:   []string{"value"},
}

func productFromRecord(r record.Record) domain.Product {
	return domain.Product{
		ID:            r.Int64("id"),
		SKU:           r.String("sku"),
		Name:          r.String("name"),
		Price:         r.Int64("price"),
		StockQuantity: r.Int("stock_quantity"),
		UpdatedAt:     r.Time("updated_at"),
	}
}

func movementFromRecord(r record.Record) domain.StockMovement {
	return domain.StockMovement{
		ID:            r.Int64("id"),
		ProductID:     r.Int64("product_id"),
		MovementType:  domain.MovementType(r.String("movement_type")),
		Quantity:      r.Int("quantity"),
		Direction:     r.Int("direction"),
		ReferenceType: r.String("reference_type"),
		ReferenceID:   r.Int64("reference_id"),
		UserID:        r.Int64("user_id"),
		Notes:         r.String("notes"),
		CreatedAt:     r.Time("created_at"),
	}
}

func movementRecord(m domain.StockMovement) record.Record {
	return record.Record{
		"product_id":     m.ProductID,
		"movement_type":  string(m.MovementType),
		"quantity":       m.Quantity,
		"direction":      m.Direction,
		"reference_type": m.ReferenceType,
		"reference_id":   nullIfZero(m.ReferenceID),
		"user_id":        nullIfZero(m.UserID),
		"notes":          nullIfEmpty(m.Notes),
		"created_at":     m.CreatedAt,
	}
}

func saleFromRecord(r record.Record) domain.Sale {
	return domain.Sale{
		ID:               r.Int64("id"),
		Channel:          domain.Channel(r.String("channel")),
		SequenceNumber:   r.String("sequence_number"),
		Status:           domain.SaleStatus(r.String("status")),
		PaymentStatus:    domain.PaymentState(r.String("payment_status")),
		PaymentMethod:    r.String("payment_method"),
		PaymentReference: r.String("payment_reference"),
		Subtotal:         r.Int64("subtotal"),
		Discount:         r.Int64("discount"),
		Tax:              r.Int64("tax"),
		Shipping:         r.Int64("shipping"),
		Total:            r.Int64("total"),
		RefundedAmount:   r.Int64("refunded_amount"),
		Customer: domain.Customer{
			Name:    r.String("customer_name"),
			Email:   r.String("customer_email"),
			Phone:   r.String("customer_phone"),
			Address: r.String("customer_address"),
		},
		UserID:         r.Int64("user_id"),
		Notes:          r.String("notes"),
		StockCommitted: r.Bool("stock_committed"),
		PaidAt:         r.TimePtr("paid_at"),
		CancelledAt:    r.TimePtr("cancelled_at"),
		RefundedAt:     r.TimePtr("refunded_at"),
		CreatedAt:      r.Time("created_at"),
		UpdatedAt:      r.Time("updated_at"),
	}
}

func saleRecord(s domain.Sale) record.Record {
	return record.Record{
		"channel":           string(s.Channel),
		"sequence_number":   s.SequenceNumber,
		"status":            string(s.Status),
		"payment_status":    string(s.PaymentStatus),
		"payment_method":    s.PaymentMethod,
		"payment_reference": nullIfEmpty(s.PaymentReference),
		"subtotal":          s.Subtotal,
		"discount":          s.Discount,
		"tax":               s.Tax,
		"shipping":          s.Shipping,
		"total":             s.Total,
		"refunded_amount":   s.RefundedAmount,
		"customer_name":     nullIfEmpty(s.Customer.Name),
		"customer_email":    nullIfEmpty(s.Customer.Email),
		"customer_phone":    nullIfEmpty(s.Customer.Phone),
		"customer_address":  nullIfEmpty(s.Customer.Address),
		"user_id":           nullIfZero(s.UserID),
		"notes":             nullIfEmpty(s.Notes),
		"stock_committed":   s.StockCommitted,
		"paid_at":           nullTime(s.PaidAt),
		"created_at":        s.CreatedAt,
		"updated_at":        s.UpdatedAt,
	}
}

func saleItemFromRecord(r record.Record) domain.SaleItem {
	return domain.SaleItem{
		ID:         r.Int64("id"),
		SaleID:     r.Int64("sale_id"),
		ProductID:  r.Int64("product_id"),
		Quantity:   r.Int("quantity"),
		UnitPrice:  r.Int64("unit_price"),
		Discount:   r.Int64("discount"),
		TotalPrice: r.Int64("total_price"),
	}
}

func paymentFromRecord(r record.Record) domain.Payment {
	return domain.Payment{
		ID:                    r.Int64("id"),
		SaleID:                r.Int64("sale_id"),
		Method:                r.String("method"),
		Amount:                r.Int64("amount"),
		Status:                domain.PaymentStatus(r.String("status")),
		Provider:              r.String("provider"),
		ExternalTransactionID: r.String("external_transaction_id"),
		QRString:              r.String("qr_string"),
		QRCodeURL:             r.String("qr_code_url"),
		PaymentURL:            r.String("payment_url"),
		VANumber:              r.String("va_number"),
		Bank:                  r.String("bank"),
		Instructions:          r.String("instructions"),
		ExpiredAt:             r.Time("expired_at"),
		PaidAt:                r.TimePtr("paid_at"),
		CallbackData:          r.JSON("callback_data"),
		CreatedAt:             r.Time("created_at"),
		UpdatedAt:             r.Time("updated_at"),
	}
}

func paymentRecord(p domain.Payment) record.Record {
	return record.Record{
		"sale_id":                 p.SaleID,
		"method":                  p.Method,
		"amount":                  p.Amount,
		"status":                  string(p.Status),
		"provider":                p.Provider,
		"external_transaction_id": nullIfEmpty(p.ExternalTransactionID),
		"qr_string":               nullIfEmpty(p.QRString),
		"qr_code_url":             nullIfEmpty(p.QRCodeURL),
		"payment_url":             nullIfEmpty(p.PaymentURL),
		"va_number":               nullIfEmpty(p.VANumber),
		"bank":                    nullIfEmpty(p.Bank),
		"instructions":            nullIfEmpty(p.Instructions),
		"expired_at":              p.ExpiredAt,
		"paid_at":                 nullTime(p.PaidAt),
		"callback_data":           nullJSON(p.CallbackData),
		"created_at":              p.CreatedAt,
		"updated_at":              p.UpdatedAt,
	}
}
