package model

import "time"

type MessageType string

const (
	MessageTypeSMS   MessageType = "sms"
	MessageTypeEmail MessageType = "email"
)

// Personalisation is the key/value content merged into a notification
// template by the gateway.
type Personalisation map[string]string

// OutboundMessage is a queued or sent notification owned by a referral.
// ServiceUserLinkID is the opaque token embedded in the message body so a
// later click or callback can be correlated back to this row; it is unique
// across all messages ever created. SentAt moves from null to a value exactly
// once.
type OutboundMessage struct {
	ID                int64           `json:"id"`
	ReferralID        int64           `json:"referral_id"`
	MessageType       MessageType     `json:"message_type"`
	TemplateID        string          `json:"template_id"`
	Personalisation   Personalisation `json:"personalisation"`
	Address           string          `json:"address"`
	ServiceUserLinkID string          `json:"service_user_link_id"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	Outcome           string          `json:"outcome,omitempty"`
	ReceivedAt        *time.Time      `json:"received_at,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (m *OutboundMessage) Sent() bool {
	return m.SentAt != nil
}

// MessageFilter controls outbound message list queries.
type MessageFilter struct {
	ReferralID  *int64
	MessageType *MessageType
	Unsent      bool // only rows with sent_at IS NULL
	Limit       int
	Offset      int
}
