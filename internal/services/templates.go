package services

import (
	"fmt"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
)

const CodeTemplateNotFound = "TemplateNotFound"

// Template binds a referral status and source to the gateway template that
// contacts the service user from that status, and to the status the referral
// advances to once the message has actually been handed to the gateway.
type Template struct {
	ID          string
	MessageType model.MessageType
	// Next is the status the referral moves to after a successful send.
	Next model.ReferralStatus
}

type templateKey struct {
	status model.ReferralStatus
	source model.ReferralSource
}

// TemplateRegistry resolves which notifications are due for a referral in a
// contactable status. FailedToContact resolves to two templates because the
// last-chance contact goes out over both channels where addresses allow.
type TemplateRegistry struct {
	templates map[templateKey][]Template
}

func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[templateKey][]Template)}

	for _, source := range []model.ReferralSource{model.SourceEreferrals, model.SourceGpDirect} {
		prefix := string(source)
		r.register(model.StatusNew, source, Template{
			ID:          prefix + "-first-text",
			MessageType: model.MessageTypeSMS,
			Next:        model.StatusTextMessage1,
		})
		r.register(model.StatusTextMessage1, source, Template{
			ID:          prefix + "-second-text",
			MessageType: model.MessageTypeSMS,
			Next:        model.StatusTextMessage2,
		})
		r.register(model.StatusFailedToContact, source,
			Template{
				ID:          prefix + "-final-text",
				MessageType: model.MessageTypeSMS,
				Next:        model.StatusFailedToContactTextMessage,
			},
			Template{
				ID:          prefix + "-final-email",
				MessageType: model.MessageTypeEmail,
				Next:        model.StatusFailedToContactEmailMessage,
			})
	}

	return r
}

func (r *TemplateRegistry) register(status model.ReferralStatus, source model.ReferralSource, templates ...Template) {
	key := templateKey{status: status, source: source}
	r.templates[key] = append(r.templates[key], templates...)
}

// Resolve returns the templates due from the given status and source.
func (r *TemplateRegistry) Resolve(status model.ReferralStatus, source model.ReferralSource) ([]Template, error) {
	templates, ok := r.templates[templateKey{status: status, source: source}]
	if !ok || len(templates) == 0 {
		return nil, apperr.New(apperr.KindNotFound, CodeTemplateNotFound,
			fmt.Sprintf("no template registered for status %s and source %s", status, source))
	}
	return templates, nil
}

// ContactableStatuses lists every status the registry can notify from, in
// queue scan order.
func (r *TemplateRegistry) ContactableStatuses() []model.ReferralStatus {
	return []model.ReferralStatus{
		model.StatusNew,
		model.StatusTextMessage1,
		model.StatusFailedToContact,
	}
}
