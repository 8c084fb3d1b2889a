package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/storefront/internal/logging"
	"github.com/Skotchmaster/storefront/internal/models"
	"github.com/Skotchmaster/storefront/internal/repo"
	"github.com/Skotchmaster/storefront/internal/util"
)

const searchLimit = 50

// OrderSearcher looks orders up in the search index.
type OrderSearcher interface {
	SearchOrders(ctx context.Context, transactionID, email string, size int) ([]models.Order, error)
}

type OrderService struct {
	Repo   *repo.GormRepo
	Search OrderSearcher
}

type OrderPage struct {
	Total  int64
	Page   int
	Size   int
	Orders []models.Order
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, page, size int) (*OrderPage, error) {
	p := util.Paginate(page, size)
	total, orders, err := s.Repo.ListOrders(ctx, userID, p.Size, p.Offset)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Total: total, Page: p.Page, Size: p.Size, Orders: orders}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID uuid.UUID, orderID string) (*models.Order, error) {
	o, err := s.Repo.GetUserOrder(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, err
	}
	return o, nil
}

// GetBilling returns the saved billing details used to pre-fill the form.
func (s *OrderService) GetBilling(ctx context.Context, userID uuid.UUID) (*models.BillingInfo, error) {
	b, err := s.Repo.FindBillingByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: billing", ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

// SearchOrders finds orders by transaction id or billing email. The search
// index is tried first; the database answers when it is missing or down.
func (s *OrderService) SearchOrders(ctx context.Context, transactionID, email string) ([]models.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	email = strings.TrimSpace(email)
	if transactionID == "" && email == "" {
		return nil, fmt.Errorf("%w: transaction_id or email required", ErrValidation)
	}
	if s.Search != nil {
		orders, err := s.Search.SearchOrders(ctx, transactionID, email, searchLimit)
		if err == nil {
			return orders, nil
		}
		logging.FromContext(ctx).Warn("order_search_fallback", "svc", "orders", "error", err)
	}
	return s.Repo.FindOrders(ctx, transactionID, email, searchLimit)
}
