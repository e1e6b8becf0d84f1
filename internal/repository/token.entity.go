package repository

import (
	"time"

	"github.com/careroute/referral-engine/internal/model"
)

type LinkTokenEntity struct {
	ID        int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Value     string     `gorm:"column:value;not null;uniqueIndex"`
	IsUsed    bool       `gorm:"column:is_used;not null;default:false;index"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (LinkTokenEntity) TableName() string {
	return "link_tokens"
}

func toLinkTokenModel(e *LinkTokenEntity) *model.LinkToken {
	if e == nil {
		return nil
	}
	return &model.LinkToken{
		ID:        e.ID,
		Value:     e.Value,
		IsUsed:    e.IsUsed,
		UsedAt:    e.UsedAt,
		CreatedAt: e.CreatedAt,
	}
}
