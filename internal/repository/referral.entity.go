package repository

import (
	"time"

	"github.com/careroute/referral-engine/internal/model"
)

type ReferralEntity struct {
	ID               int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UBRN             string    `gorm:"column:ubrn;not null;uniqueIndex"`
	Status           string    `gorm:"column:status;not null;index"`
	StatusReason     string    `gorm:"column:status_reason"`
	Source           string    `gorm:"column:source;not null"`
	Mobile           string    `gorm:"column:mobile"`
	MobileValid      bool      `gorm:"column:mobile_valid;not null;default:false"`
	Telephone        string    `gorm:"column:telephone"`
	Email            string    `gorm:"column:email"`
	EmailValid       bool      `gorm:"column:email_valid;not null;default:false"`
	NumberOfContacts int       `gorm:"column:number_of_contacts;not null;default:0"`
	ProviderID       *int64    `gorm:"column:provider_id;index"`
	Active           bool      `gorm:"column:active;not null;default:true"`
	ModifiedAt       time.Time `gorm:"column:modified_at;autoUpdateTime"`
	ModifiedBy       string    `gorm:"column:modified_by"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ReferralEntity) TableName() string {
	return "referrals"
}

func toReferralEntity(r *model.Referral) *ReferralEntity {
	if r == nil {
		return nil
	}
	return &ReferralEntity{
		ID:               r.ID,
		UBRN:             r.UBRN,
		Status:           string(r.Status),
		StatusReason:     r.StatusReason,
		Source:           string(r.Source),
		Mobile:           r.Mobile,
		MobileValid:      r.MobileValid,
		Telephone:        r.Telephone,
		Email:            r.Email,
		EmailValid:       r.EmailValid,
		NumberOfContacts: r.NumberOfContacts,
		ProviderID:       r.ProviderID,
		Active:           r.Active,
		ModifiedAt:       r.ModifiedAt,
		ModifiedBy:       r.ModifiedBy,
		CreatedAt:        r.CreatedAt,
	}
}

func toReferralModel(e *ReferralEntity) *model.Referral {
	if e == nil {
		return nil
	}
	return &model.Referral{
		ID:               e.ID,
		UBRN:             e.UBRN,
		Status:           model.ReferralStatus(e.Status),
		StatusReason:     e.StatusReason,
		Source:           model.ReferralSource(e.Source),
		Mobile:           e.Mobile,
		MobileValid:      e.MobileValid,
		Telephone:        e.Telephone,
		Email:            e.Email,
		EmailValid:       e.EmailValid,
		NumberOfContacts: e.NumberOfContacts,
		ProviderID:       e.ProviderID,
		Active:           e.Active,
		ModifiedAt:       e.ModifiedAt,
		ModifiedBy:       e.ModifiedBy,
		CreatedAt:        e.CreatedAt,
	}
}

func toReferralModels(entities []*ReferralEntity) []*model.Referral {
	if entities == nil {
		return nil
	}
	models := make([]*model.Referral, len(entities))
	for i, e := range entities {
		models[i] = toReferralModel(e)
	}
	return models
}
