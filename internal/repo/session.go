package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/storefront/internal/models"
)

var (
	ErrIllegalTransition = errors.New("illegal session transition")
	// ErrStaleSession means the row changed state after it was read.
	ErrStaleSession = errors.New("stale session")
)

func (r *GormRepo) CreateSession(ctx context.Context, s *models.CheckoutSession) error {
	if err := r.DB.WithContext(ctx).Create(s).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: session %s", ErrDuplicate, s.ID)
		}
		return err
	}
	return nil
}

func (r *GormRepo) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormRepo) GetUserSession(ctx context.Context, userID uuid.UUID, id string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	if err := r.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindSessionByIdempotencyKey returns the newest session a user opened with key.
func (r *GormRepo) FindSessionByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormRepo) FindSessionByProviderRef(ctx context.Context, ref string) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	if err := r.DB.WithContext(ctx).Where("provider_ref = ?", ref).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ClaimSession takes a short lease on a session so that only one confirm
// runs at a time. It returns the refreshed row, or ok=false when another
// caller holds the lease.
func (r *GormRepo) ClaimSession(ctx context.Context, id string, now time.Time, ttl time.Duration) (*models.CheckoutSession, bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ? AND (lease_until IS NULL OR lease_until < ?)", id, now).
		Updates(map[string]any{
			"lease_until": now.Add(ttl),
			"attempts":    gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// TransitionSession moves s to state `to` and writes every field of s, as
// long as the stored state still equals the state s was read in. The lease
// is released.
func (r *GormRepo) TransitionSession(ctx context.Context, s *models.CheckoutSession, to models.SessionState) error {
	prev := s.State
	if prev != to && !prev.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, prev, to)
	}
	s.State = to
	s.LeaseUntil = nil

	res := r.DB.WithContext(ctx).Model(s).
		Where("state = ?", prev).
		Select("*").Omit("created_at").
		Updates(s)
	if res.Error != nil {
		s.State = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.State = prev
		return fmt.Errorf("%w: %s", ErrStaleSession, s.ID)
	}
	return nil
}

// ReleaseSession drops the confirm lease without changing state.
func (r *GormRepo) ReleaseSession(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Update("lease_until", nil).Error
}

// ListStuckSessions returns sessions whose payment was confirmed but whose
// order was never written, oldest first.
func (r *GormRepo) ListStuckSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.CheckoutSession, error) {
	var out []models.CheckoutSession
	err := r.DB.WithContext(ctx).
		Where("state = ? AND updated_at < ?", models.StateConfirmed, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
