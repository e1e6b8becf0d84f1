package repository

import (
	"encoding/json"
	"time"

	"github.com/careroute/referral-engine/internal/model"
)

type OutboundMessageEntity struct {
	ID                int64      `gorm:"primaryKey;autoIncrement;column:id"`
	ReferralID        int64      `gorm:"column:referral_id;not null;index"`
	MessageType       string     `gorm:"column:message_type;not null"`
	TemplateID        string     `gorm:"column:template_id;not null"`
	Personalisation   string     `gorm:"column:personalisation;not null;default:'{}'"`
	Address           string     `gorm:"column:address;not null"`
	ServiceUserLinkID string     `gorm:"column:service_user_link_id;not null;uniqueIndex"`
	ProviderReference string     `gorm:"column:provider_reference;index"`
	SentAt            *time.Time `gorm:"column:sent_at;index"`
	Outcome           string     `gorm:"column:outcome"`
	ReceivedAt        *time.Time `gorm:"column:received_at"`
	LastError         string     `gorm:"column:last_error"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboundMessageEntity) TableName() string {
	return "outbound_messages"
}

func toOutboundMessageEntity(m *model.OutboundMessage) *OutboundMessageEntity {
	if m == nil {
		return nil
	}
	personalisation := "{}"
	if len(m.Personalisation) > 0 {
		if b, err := json.Marshal(m.Personalisation); err == nil {
			personalisation = string(b)
		}
	}
	return &OutboundMessageEntity{
		ID:                m.ID,
		ReferralID:        m.ReferralID,
		MessageType:       string(m.MessageType),
		TemplateID:        m.TemplateID,
		Personalisation:   personalisation,
		Address:           m.Address,
		ServiceUserLinkID: m.ServiceUserLinkID,
		ProviderReference: m.ProviderReference,
		SentAt:            m.SentAt,
		Outcome:           m.Outcome,
		ReceivedAt:        m.ReceivedAt,
		LastError:         m.LastError,
		CreatedAt:         m.CreatedAt,
	}
}

func toOutboundMessageModel(e *OutboundMessageEntity) *model.OutboundMessage {
	if e == nil {
		return nil
	}
	var personalisation model.Personalisation
	if e.Personalisation != "" {
		_ = json.Unmarshal([]byte(e.Personalisation), &personalisation)
	}
	return &model.OutboundMessage{
		ID:                e.ID,
		ReferralID:        e.ReferralID,
		MessageType:       model.MessageType(e.MessageType),
		TemplateID:        e.TemplateID,
		Personalisation:   personalisation,
		Address:           e.Address,
		ServiceUserLinkID: e.ServiceUserLinkID,
		ProviderReference: e.ProviderReference,
		SentAt:            e.SentAt,
		Outcome:           e.Outcome,
		ReceivedAt:        e.ReceivedAt,
		LastError:         e.LastError,
		CreatedAt:         e.CreatedAt,
	}
}

func toOutboundMessageModels(entities []*OutboundMessageEntity) []*model.OutboundMessage {
	if entities == nil {
		return nil
	}
	models := make([]*model.OutboundMessage, len(entities))
	for i, e := range entities {
		models[i] = toOutboundMessageModel(e)
	}
	return models
}
