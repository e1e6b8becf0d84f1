package repository

import (
	"context"
	"errors"
	"time"

	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JobLeaseRepository struct {
	*pg.DB
}

func NewJobLeaseRepository(db *pg.DB) *JobLeaseRepository {
	return &JobLeaseRepository{
		db,
	}
}

// Acquire claims the named lease until now+ttl. It is the same
// claim-if-still-in-expected-state update as the token pool: an existing row
// is only taken over when its held_until has passed, and a fresh row is
// inserted with DO NOTHING so exactly one of two racing callers wins.
func (r *JobLeaseRepository) Acquire(ctx context.Context, jobName, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	until := now.Add(ttl)

	result := r.Write(ctx).
		Model(&JobLeaseEntity{}).
		Where("job_name = ? AND held_until <= ?", jobName, now).
		Updates(map[string]interface{}{
			"held_by":    holder,
			"held_until": until,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	// No reclaimable row. Either the lease is held, or the row does not
	// exist yet; try to create it and let the conflict clause lose the race.
	entity := &JobLeaseEntity{
		JobName:   jobName,
		HeldBy:    holder,
		HeldUntil: until,
	}
	insert := r.Write(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if insert.Error != nil {
		if errors.Is(insert.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, insert.Error
	}
	return insert.RowsAffected == 1, nil
}

// Release ends the lease by moving held_until into the past. Only the current
// holder may release, so a slow run that lost its lease to expiry cannot
// release the next run's claim.
func (r *JobLeaseRepository) Release(ctx context.Context, jobName, holder string) error {
	return r.Write(ctx).
		Model(&JobLeaseEntity{}).
		Where("job_name = ? AND held_by = ?", jobName, holder).
		Update("held_until", time.Now()).Error
}

func (r *JobLeaseRepository) Get(ctx context.Context, jobName string) (*model.JobLease, error) {
	var entity JobLeaseEntity
	err := r.Read(ctx).Where("job_name = ?", jobName).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toJobLeaseModel(&entity), nil
}
