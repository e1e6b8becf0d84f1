package repository

import (
	"context"
	"errors"
	"time"

	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
)

type ReferralRepository struct {
	*pg.DB
}

func NewReferralRepository(db *pg.DB) *ReferralRepository {
	return &ReferralRepository{
		db,
	}
}

func (r *ReferralRepository) Create(ctx context.Context, ref *model.Referral) (*model.Referral, error) {
	entity := toReferralEntity(ref)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toReferralModel(entity), nil
}

func (r *ReferralRepository) GetByID(ctx context.Context, id int64) (*model.Referral, error) {
	var entity ReferralEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toReferralModel(&entity), nil
}

func (r *ReferralRepository) GetByUBRN(ctx context.Context, ubrn string) (*model.Referral, error) {
	var entity ReferralEntity
	err := r.Read(ctx).Where("ubrn = ?", ubrn).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toReferralModel(&entity), nil
}

func (r *ReferralRepository) List(ctx context.Context, f model.ReferralFilter) ([]*model.Referral, int64, error) {
	q := r.Read(ctx).Model(&ReferralEntity{}).Where("active = ?", true)

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.UBRN != nil && *f.UBRN != "" {
		q = q.Where("ubrn = ?", *f.UBRN)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ReferralEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toReferralModels(entities), total, nil
}

// ListContactDue returns active referrals sitting in one of the given
// statuses, oldest first, for the notification queue to pick up.
func (r *ReferralRepository) ListContactDue(ctx context.Context, statuses []model.ReferralStatus, limit int) ([]*model.Referral, error) {
	if limit <= 0 {
		limit = 200
	}
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	var entities []*ReferralEntity
	err := r.Read(ctx).
		Where("active = ? AND status IN ?", true, values).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toReferralModels(entities), nil
}

// UpdateStatus persists the outcome of a state-machine transition together
// with the contact counter and audit fields.
func (r *ReferralRepository) UpdateStatus(ctx context.Context, ref *model.Referral) error {
	result := r.Write(ctx).
		Model(&ReferralEntity{}).
		Where("id = ?", ref.ID).
		Updates(map[string]interface{}{
			"status":             string(ref.Status),
			"status_reason":      ref.StatusReason,
			"number_of_contacts": ref.NumberOfContacts,
			"modified_at":        time.Now(),
			"modified_by":        ref.ModifiedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ReferralRepository) AssignProvider(ctx context.Context, id int64, providerID int64, modifiedBy string) error {
	result := r.Write(ctx).
		Model(&ReferralEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"provider_id": providerID,
			"modified_at": time.Now(),
			"modified_by": modifiedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes a referral; rows are never removed.
func (r *ReferralRepository) Deactivate(ctx context.Context, id int64, modifiedBy string) error {
	result := r.Write(ctx).
		Model(&ReferralEntity{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{
			"active":      false,
			"modified_at": time.Now(),
			"modified_by": modifiedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
