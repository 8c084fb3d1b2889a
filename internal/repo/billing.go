package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/Skotchmaster/storefront/internal/models"
)

var billingUpdateColumns = []string{"name", "email", "address", "city", "state", "zip_code", "country", "updated_at"}

// UpsertBilling writes the user's billing row in one statement and returns
// the stored row. A user never has more than one row.
func (r *GormRepo) UpsertBilling(ctx context.Context, b *models.BillingInfo) (*models.BillingInfo, error) {
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(billingUpdateColumns),
		}).
		Create(b).Error
	if err != nil {
		return nil, err
	}
	return r.FindBillingByUser(ctx, b.UserID)
}

func (r *GormRepo) FindBillingByUser(ctx context.Context, userID uuid.UUID) (*models.BillingInfo, error) {
	var b models.BillingInfo
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}
