package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/storefront/internal/models"
)

// InsertOrder inserts a new order and fails with ErrDuplicate when the
// order id is already taken.
func (r *GormRepo) InsertOrder(ctx context.Context, o *models.Order) error {
	if err := r.DB.WithContext(ctx).Create(o).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: order %s", ErrDuplicate, o.OrderID)
		}
		return err
	}
	return nil
}

// UpsertOrder inserts the order or, when the order id exists, applies the
// later payment status. Transaction id and payment label are only replaced
// by non-empty values. It reports whether the row was inserted.
func (r *GormRepo) UpsertOrder(ctx context.Context, o *models.Order) (*models.Order, bool, error) {
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(o)
	if res.Error != nil {
		return nil, false, res.Error
	}
	created := res.RowsAffected > 0

	if !created {
		err := r.DB.WithContext(ctx).Model(&models.Order{}).
			Where("order_id = ?", o.OrderID).
			Updates(map[string]any{
				"payment_status": o.PaymentStatus,
				"transaction_id": gorm.Expr("COALESCE(NULLIF(?, ''), transaction_id)", o.TransactionID),
				"payment_label":  gorm.Expr("COALESCE(NULLIF(?, ''), payment_label)", o.PaymentLabel),
			}).Error
		if err != nil {
			return nil, false, err
		}
	}

	saved, err := r.GetOrder(ctx, o.OrderID)
	if err != nil {
		return nil, false, err
	}
	return saved, created, nil
}

// UpdateOrderStatus corrects the status of an existing order. It reports
// whether a row was changed.
func (r *GormRepo) UpdateOrderStatus(ctx context.Context, orderID, status string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Update("payment_status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepo) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.DB.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormRepo) GetUserOrder(ctx context.Context, userID uuid.UUID, orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.DB.WithContext(ctx).Where("order_id = ? AND user_id = ?", orderID, userID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormRepo) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) (int64, []models.Order, error) {
	q := func() *gorm.DB {
		return r.DB.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := q().Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var orders []models.Order
	if err := q().Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return 0, nil, err
	}
	return total, orders, nil
}

// FindOrders looks orders up by transaction id or billing email. It backs
// the admin search when the search index is not configured.
func (r *GormRepo) FindOrders(ctx context.Context, transactionID, email string, limit int) ([]models.Order, error) {
	q := r.DB.WithContext(ctx).Model(&models.Order{})
	if transactionID != "" {
		q = q.Where("transaction_id = ? OR order_id = ?", transactionID, transactionID)
	}
	if email != "" {
		q = q.Where("LOWER(billing_email) = LOWER(?)", email)
	}
	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
