package repository

import (
	"context"
	"time"

	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/pg"
)

type LinkTokenRepository struct {
	*pg.DB
}

func NewLinkTokenRepository(db *pg.DB) *LinkTokenRepository {
	return &LinkTokenRepository{
		db,
	}
}

// InsertBatch appends freshly generated token values to the pool, all unused.
// The unique index on value turns a generation collision into an insert
// error instead of a silently shared token.
func (r *LinkTokenRepository) InsertBatch(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	entities := make([]*LinkTokenEntity, len(values))
	for i, v := range values {
		entities[i] = &LinkTokenEntity{Value: v}
	}
	return r.Write(ctx).Create(&entities).Error
}

// Candidates returns up to limit unused tokens. Callers must still Claim each
// one; a candidate is only a hint and may be taken by a concurrent caller.
func (r *LinkTokenRepository) Candidates(ctx context.Context, limit int) ([]*model.LinkToken, error) {
	if limit <= 0 {
		limit = 1
	}
	var entities []*LinkTokenEntity
	err := r.Read(ctx).
		Where("is_used = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	tokens := make([]*model.LinkToken, len(entities))
	for i, e := range entities {
		tokens[i] = toLinkTokenModel(e)
	}
	return tokens, nil
}

// Claim atomically flips one token from unused to used. It returns false when
// a concurrent caller won the row; the caller should retry with a different
// candidate.
func (r *LinkTokenRepository) Claim(ctx context.Context, id int64) (bool, error) {
	result := r.Write(ctx).
		Model(&LinkTokenEntity{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Release returns claimed tokens to the pool. Only the all-or-nothing batch
// path uses this, to unwind a partial claim before failing.
func (r *LinkTokenRepository) Release(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.Write(ctx).
		Model(&LinkTokenEntity{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_used": false,
			"used_at": nil,
		}).Error
}

func (r *LinkTokenRepository) CountUnused(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).
		Model(&LinkTokenEntity{}).
		Where("is_used = ?", false).
		Count(&count).Error
	return count, err
}

func (r *LinkTokenRepository) CountUsed(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).
		Model(&LinkTokenEntity{}).
		Where("is_used = ?", true).
		Count(&count).Error
	return count, err
}
