package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/storefront/internal/money"
)

var ErrValidation = errors.New("validation")

// Item is one cart line. Catalog fields are copied in when the product is
// added and are not refreshed afterwards.
type Item struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Store keeps at most one line per product id, in insertion order.
// It is not safe for concurrent use; each request builds its own.
type Store struct {
	items []Item
}

func New() *Store { return &Store{} }

// FromItems builds a store by adding each line in order, so repeated product
// ids are merged. Lines with a non-positive quantity are rejected.
func FromItems(items []Item) (*Store, error) {
	s := New()
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, fmt.Errorf("%w: items[%d]: product_id required", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d]: quantity must be > 0", ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d]: price must be >= 0", ErrValidation, i)
		}
		s.add(it)
	}
	return s, nil
}

// Add puts one unit of the product into the cart, merging with an existing line.
func (s *Store) Add(p Item) {
	p.Quantity = 1
	s.add(p)
}

func (s *Store) add(p Item) {
	if idx := s.index(p.ProductID); idx >= 0 {
		s.items[idx].Quantity += p.Quantity
		return
	}
	s.items = append(s.items, p)
}

// UpdateQuantity sets the quantity of a line; n <= 0 removes it.
func (s *Store) UpdateQuantity(productID string, n int) {
	idx := s.index(productID)
	if idx < 0 {
		return
	}
	if n <= 0 {
		s.removeAt(idx)
		return
	}
	s.items[idx].Quantity = n
}

func (s *Store) Remove(productID string) {
	if idx := s.index(productID); idx >= 0 {
		s.removeAt(idx)
	}
}

func (s *Store) Clear() { s.items = nil }

func (s *Store) Len() int { return len(s.items) }

func (s *Store) IsEmpty() bool { return len(s.items) == 0 }

// Items returns a copy of the lines.
func (s *Store) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range s.items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Totals computes the checkout amounts. Tax is applied to the subtotal and
// every component is rounded to two places before summing.
func (s *Store) Totals(taxRate, shipping decimal.Decimal) Totals {
	sub := money.Round(s.Subtotal())
	tax := money.Round(sub.Mul(taxRate))
	ship := money.Round(shipping)
	return Totals{
		Subtotal: sub,
		Tax:      tax,
		Shipping: ship,
		Total:    sub.Add(tax).Add(ship),
	}
}

func (s *Store) index(productID string) int {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(idx int) {
	s.items = append(s.items[:idx], s.items[idx+1:]...)
}
