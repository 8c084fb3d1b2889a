package repo

import (
	"context"

	"github.com/Skotchmaster/storefront/internal/models"
)

// MarkWebhookProcessed records the event. It returns false when the event
// was already recorded.
func (r *GormRepo) MarkWebhookProcessed(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	if err := r.DB.WithContext(ctx).Create(ev).Error; err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ForgetWebhook removes the record so that a redelivery is processed again.
func (r *GormRepo) ForgetWebhook(ctx context.Context, eventID string) error {
	return r.DB.WithContext(ctx).Where("event_id = ?", eventID).Delete(&models.WebhookEvent{}).Error
}
