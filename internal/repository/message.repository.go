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
	// ErrAlreadySent signals that a sent_at claim lost: the row was already
	// dispatched by another run.
	ErrAlreadySent = errors.New("message already sent")
)

type OutboundMessageRepository struct {
	*pg.DB
}

func NewOutboundMessageRepository(db *pg.DB) *OutboundMessageRepository {
	return &OutboundMessageRepository{
		db,
	}
}

func (r *OutboundMessageRepository) Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error) {
	entity := toOutboundMessageEntity(msg)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toOutboundMessageModel(entity), nil
}

func (r *OutboundMessageRepository) GetByID(ctx context.Context, id int64) (*model.OutboundMessage, error) {
	var entity OutboundMessageEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toOutboundMessageModel(&entity), nil
}

// GetByProviderReference resolves a delivery callback reference to the sent
// message it belongs to.
func (r *OutboundMessageRepository) GetByProviderReference(ctx context.Context, reference string) (*model.OutboundMessage, error) {
	var entity OutboundMessageEntity
	err := r.Read(ctx).Where("provider_reference = ?", reference).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toOutboundMessageModel(&entity), nil
}

// ListUnsent returns pending rows oldest first. Rows with sent_at set are
// never returned, which is what makes dispatch idempotent at message level.
func (r *OutboundMessageRepository) ListUnsent(ctx context.Context, limit int) ([]*model.OutboundMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	var entities []*OutboundMessageEntity
	err := r.Read(ctx).
		Where("sent_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toOutboundMessageModels(entities), nil
}

// HasUnsent reports whether the referral already has a pending message of the
// given type, so the queue does not enqueue it twice.
func (r *OutboundMessageRepository) HasUnsent(ctx context.Context, referralID int64, messageType model.MessageType) (bool, error) {
	var count int64
	err := r.Read(ctx).
		Model(&OutboundMessageEntity{}).
		Where("referral_id = ? AND message_type = ? AND sent_at IS NULL", referralID, string(messageType)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *OutboundMessageRepository) ListByReferral(ctx context.Context, referralID int64) ([]*model.OutboundMessage, error) {
	var entities []*OutboundMessageEntity
	err := r.Read(ctx).
		Where("referral_id = ?", referralID).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toOutboundMessageModels(entities), nil
}

// MarkSent records a successful dispatch. The sent_at IS NULL predicate makes
// this a claim: only one concurrent dispatcher can win it, so SentAt moves
// from null to a value exactly once.
func (r *OutboundMessageRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time, providerReference string) error {
	result := r.Write(ctx).
		Model(&OutboundMessageEntity{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]interface{}{
			"sent_at":            sentAt,
			"provider_reference": providerReference,
			"last_error":         "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadySent
	}
	return nil
}

// RecordFailure stores the gateway error against the row and leaves sent_at
// null so the next run retries it.
func (r *OutboundMessageRepository) RecordFailure(ctx context.Context, id int64, errorMessage string) error {
	result := r.Write(ctx).
		Model(&OutboundMessageEntity{}).
		Where("id = ? AND sent_at IS NULL", id).
		Update("last_error", errorMessage)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadySent
	}
	return nil
}

// ApplyOutcome records the delivery outcome reported by the gateway.
func (r *OutboundMessageRepository) ApplyOutcome(ctx context.Context, id int64, outcome model.DeliveryOutcome, receivedAt time.Time) error {
	result := r.Write(ctx).
		Model(&OutboundMessageEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome":     string(outcome),
			"received_at": receivedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
