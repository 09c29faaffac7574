package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusPending:    {SaleStatusProcessing, SaleStatusCancelled},
	SaleStatusProcessing: {SaleStatusReady, SaleStatusCompleted, SaleStatusCancelled},
	SaleStatusReady:      {SaleStatusCompleted, SaleStatusCancelled},
	SaleStatusCompleted:  {SaleStatusRefunded},
}

func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusProcessing, SaleStatusReady, SaleStatusCompleted, SaleStatusCancelled, SaleStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no forward status change is possible. A completed
// sale is terminal for everything except Refund.
func (s SaleStatus) Terminal() bool {
	return s == SaleStatusCompleted || s == SaleStatusCancelled || s == SaleStatusRefunded
}

// CanTransition applies the per-channel state machine. Storefront sales pass
// through ready between processing and completed; POS sales never use ready.
func CanTransition(channel Channel, from, to SaleStatus) bool {
	if channel == ChannelPOS && to == SaleStatusReady {
		return false
	}
	if channel == ChannelStorefront && from == SaleStatusProcessing && to == SaleStatusCompleted {
		return false
	}
	for _, next := range saleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidStateTransition error when next is not
// reachable from the current status.
func (s Sale) CheckTransition(next SaleStatus) error {
	if !CanTransition(s.Channel, s.Status, next) {
		return InvalidTransition("sale", s.ID, string(s.Status), string(next))
	}
	return nil
}

// CommitsStockOn reports whether moving to next is the point where the
// storefront sale takes its stock out of the ledger.
func (s Sale) CommitsStockOn(next SaleStatus) bool {
	return s.Channel == ChannelStorefront && !s.StockCommitted && s.Status == SaleStatusPending && next == SaleStatusProcessing
}

// StockDeltas merges the sale's items per product. Products are returned in
// ascending id order so concurrent writers lock rows in the same order.
func (s Sale) StockDeltas() []ProductQuantity {
	return MergeQuantities(s.Items)
}

type ProductQuantity struct {
	ProductID int64
	Quantity  int
}

func MergeQuantities(items []SaleItem) []ProductQuantity {
	byProduct := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, item := range items {
		if _, seen := byProduct[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		byProduct[item.ProductID] += item.Quantity
	}
	slices.Sort(order)
	out := make([]ProductQuantity, 0, len(order))
	for _, id := range order {
		out = append(out, ProductQuantity{ProductID: id, Quantity: byProduct[id]})
	}
	return out
}

// AppendNote adds one timestamped line to the sale's audit notes.
func AppendNote(existing string, at time.Time, actor Actor, action string, reason string) string {
	who := actor.Username
	if who == "" {
		who = "system"
	}
	line := fmt.Sprintf("[%s] %s by %s", at.Format("2006-01-02 15:04:05"), action, who)
	if reason = strings.TrimSpace(reason); reason != "" {
		line += ": " + reason
	}
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

type Totals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

// MaxAmount caps every rupiah amount a sale can carry. It leaves headroom so
// header sums of capped values stay inside int64.
const MaxAmount int64 = math.MaxInt64 / 8

// grossLine is quantity*unit price, or false when it would pass MaxAmount.
func grossLine(quantity int, unitPrice int64) (int64, bool) {
	if quantity <= 0 || unitPrice < 0 {
		return 0, false
	}
	if unitPrice > MaxAmount/int64(quantity) {
		return 0, false
	}
	return int64(quantity) * unitPrice, true
}

func addAmount(sum, v int64) (int64, bool) {
	if v < 0 || v > MaxAmount || sum > MaxAmount-v {
		return 0, false
	}
	return sum + v, true
}

// TaxFor applies a percentage rate to the taxable base and rounds half up to a
// whole rupiah.
func TaxFor(taxable int64, ratePercent decimal.Decimal) int64 {
	if taxable <= 0 || ratePercent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(taxable).Mul(ratePercent).Shift(-2).Round(0).IntPart()
}

// BuildItems resolves line prices and validates each line. priceOf supplies the
// catalogue price for lines that omit unit_price.
func BuildItems(inputs []SaleItemInput, priceOf func(productID int64) (int64, bool)) ([]SaleItem, error) {
	if len(inputs) == 0 {
		return nil, Validation("sale", nil, "at least one item is required")
	}
	items := make([]SaleItem, 0, len(inputs))
	for i, in := range inputs {
		if in.ProductID <= 0 {
			return nil, Validation("sale", nil, "item %d: product_id is required", i)
		}
		if in.Quantity <= 0 {
			return nil, Validation("sale", nil, "item %d: quantity must be positive", i)
		}
		var unitPrice int64
		if in.UnitPrice != nil {
			unitPrice = *in.UnitPrice
		} else {
			price, ok := priceOf(in.ProductID)
			if !ok {
				return nil, NotFound("product", in.ProductID)
			}
			unitPrice = price
		}
		if unitPrice < 0 {
			return nil, Validation("sale", nil, "item %d: unit_price must not be negative", i)
		}
		gross, ok := grossLine(in.Quantity, unitPrice)
		if !ok {
			return nil, Validation("sale", nil, "item %d: line amount exceeds %d", i, MaxAmount)
		}
		if in.Discount < 0 || in.Discount > gross {
			return nil, Validation("sale", nil, "item %d: discount out of range", i)
		}
		total := gross - in.Discount
		if in.TotalPrice != nil {
			if *in.TotalPrice < 0 || *in.TotalPrice > MaxAmount {
				return nil, Validation("sale", nil, "item %d: total_price out of range", i)
			}
			total = *in.TotalPrice
		}
		items = append(items, SaleItem{
			ProductID:  in.ProductID,
			Quantity:   in.Quantity,
			UnitPrice:  unitPrice,
			Discount:   in.Discount,
			TotalPrice: total,
		})
	}
	return items, nil
}

// ComputeTotals fixes the header amounts once, at creation. An explicit tax
// amount wins over the rate.
func ComputeTotals(items []SaleItem, req CreateSaleRequest) (Totals, error) {
	var t Totals
	for _, item := range items {
		sum, ok := addAmount(t.Subtotal, item.TotalPrice)
		if !ok {
			return Totals{}, Validation("sale", nil, "subtotal exceeds %d", MaxAmount)
		}
		t.Subtotal = sum
	}
	if req.Discount < 0 || req.Discount > t.Subtotal {
		return Totals{}, Validation("sale", nil, "discount out of range")
	}
	if req.Shipping < 0 || req.Shipping > MaxAmount {
		return Totals{}, Validation("sale", nil, "shipping out of range")
	}
	t.Discount = req.Discount
	t.Shipping = req.Shipping
	switch {
	case req.Tax != nil:
		if *req.Tax < 0 || *req.Tax > MaxAmount {
			return Totals{}, Validation("sale", nil, "tax out of range")
		}
		t.Tax = *req.Tax
	default:
		if req.TaxRatePercent.IsNegative() || req.TaxRatePercent.GreaterThan(decimal.NewFromInt(100)) {
			return Totals{}, Validation("sale", nil, "tax_rate_percent must be between 0 and 100")
		}
		t.Tax = TaxFor(t.Subtotal-t.Discount, req.TaxRatePercent)
	}
	t.Total = t.Subtotal - t.Discount + t.Tax + t.Shipping
	return t, nil
}

const (
	PrefixStorefront = "ORD"
	PrefixPOS        = "TRX"
)

func SequencePrefix(channel Channel) string {
	if channel == ChannelStorefront {
		return PrefixStorefront
	}
	return PrefixPOS
}

// SequenceDay is the calendar day, in the business timezone, that scopes the
// sequence counter.
func SequenceDay(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format("20060102")
}

// FormatSequence renders PREFIX + YYYYMMDD + zero-padded counter. Counters past
// 9999 widen the number instead of wrapping.
func FormatSequence(prefix string, day string, counter int64) string {
	return fmt.Sprintf("%s%s%04d", prefix, day, counter)
}
