package model

import "time"

// DeliveryOutcome is a delivery status as reported by the gateway. Unknown
// strings are rejected before any state is touched.
type DeliveryOutcome string

const (
	OutcomeDelivered        DeliveryOutcome = "delivered"
	OutcomeSending          DeliveryOutcome = "sending"
	OutcomePermanentFailure DeliveryOutcome = "permanent-failure"
	OutcomeTemporaryFailure DeliveryOutcome = "temporary-failure"
	OutcomeTechnicalFailure DeliveryOutcome = "technical-failure"
)

func ParseDeliveryOutcome(s string) (DeliveryOutcome, bool) {
	switch DeliveryOutcome(s) {
	case OutcomeDelivered, OutcomeSending, OutcomePermanentFailure,
		OutcomeTemporaryFailure, OutcomeTechnicalFailure:
		return DeliveryOutcome(s), true
	}
	return "", false
}

// PermanentFailure reports whether the outcome means the recipient can never
// be reached at this address.
func (o DeliveryOutcome) PermanentFailure() bool {
	return o == OutcomePermanentFailure
}

// DeliveryCallback is the transient payload the gateway posts after a send.
// It is matched against a sent OutboundMessage and never persisted itself.
type DeliveryCallback struct {
	Reference   string     `json:"reference"`
	To          string     `json:"to"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
