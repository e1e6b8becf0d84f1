// Package services holds the engine's business operations: admitting
// referrals, queueing and dispatching notifications, and reconciling
// delivery callbacks. Repositories are consumed through interfaces declared
// here so each operation can be tested against mocks.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/prom"
)

type ReferralRepository interface {
	Create(ctx context.Context, ref *model.Referral) (*model.Referral, error)
	GetByID(ctx context.Context, id int64) (*model.Referral, error)
	GetByUBRN(ctx context.Context, ubrn string) (*model.Referral, error)
	List(ctx context.Context, f model.ReferralFilter) ([]*model.Referral, int64, error)
	ListContactDue(ctx context.Context, statuses []model.ReferralStatus, limit int) ([]*model.Referral, error)
	UpdateStatus(ctx context.Context, ref *model.Referral) error
	AssignProvider(ctx context.Context, id int64, providerID int64, modifiedBy string) error
	Deactivate(ctx context.Context, id int64, modifiedBy string) error
}

type OutboundMessageRepository interface {
	Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error)
	GetByProviderReference(ctx context.Context, reference string) (*model.OutboundMessage, error)
	ListUnsent(ctx context.Context, limit int) ([]*model.OutboundMessage, error)
	HasUnsent(ctx context.Context, referralID int64, messageType model.MessageType) (bool, error)
	ListByReferral(ctx context.Context, referralID int64) ([]*model.OutboundMessage, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, providerReference string) error
	RecordFailure(ctx context.Context, id int64, errorMessage string) error
	ApplyOutcome(ctx context.Context, id int64, outcome model.DeliveryOutcome, receivedAt time.Time) error
}

// TokenSource hands out link tokens for queued messages.
type TokenSource interface {
	TakeOne(ctx context.Context, retries int) (*model.LinkToken, error)
}

// QueueReport summarises one queueing run.
type QueueReport struct {
	Examined int                       `json:"examined"`
	Queued   map[model.MessageType]int `json:"queued"`
	Skipped  int                       `json:"skipped"`
}

type QueueService struct {
	referralRepo ReferralRepo
	messageRepo  OutboundMessageRepository
	tokens       TokenSource
	registry     *TemplateRegistry
	baseURL      string
	batchSize    int
	claimRetries int
}

// ReferralRepo is the subset of ReferralRepository the queue needs.
type ReferralRepo interface {
	ListContactDue(ctx context.Context, statuses []model.ReferralStatus, limit int) ([]*model.Referral, error)
}

func NewQueueService(
	referralRepo ReferralRepo,
	messageRepo OutboundMessageRepository,
	tokens TokenSource,
	registry *TemplateRegistry,
	baseURL string,
	batchSize int,
	claimRetries int,
) *QueueService {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &QueueService{
		referralRepo: referralRepo,
		messageRepo:  messageRepo,
		tokens:       tokens,
		registry:     registry,
		baseURL:      baseURL,
		batchSize:    batchSize,
		claimRetries: claimRetries,
	}
}

// Enqueue turns every referral currently due a contact into unsent outbound
// message rows. The operation is idempotent: a referral that already has an
// unsent message of a given type is passed over, so running it twice before a
// dispatch cannot double-message anyone. A referral whose status and source
// have no registered template is skipped and reported, never fatal.
func (s *QueueService) Enqueue(ctx context.Context) (*QueueReport, error) {
	report := &QueueReport{Queued: make(map[model.MessageType]int)}

	referrals, err := s.referralRepo.ListContactDue(ctx, s.registry.ContactableStatuses(), s.batchSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "QueueScanFailed", "failed to list referrals due a contact", err)
	}
	report.Examined = len(referrals)

	for _, ref := range referrals {
		templates, err := s.registry.Resolve(ref.Status, ref.Source)
		if err != nil {
			if apperr.CodeOf(err) == CodeTemplateNotFound {
				logger.Warn("referral skipped, no template", "referral_id", ref.ID, "status", string(ref.Status), "source", string(ref.Source))
				report.Skipped++
				continue
			}
			return report, err
		}

		for _, tmpl := range templates {
			queued, err := s.enqueueOne(ctx, ref, tmpl)
			if err != nil {
				return report, err
			}
			if queued {
				report.Queued[tmpl.MessageType]++
				prom.IncCounterVec(prom.SystemNotifications, prom.MetricMessagesQueued, string(tmpl.MessageType))
			}
		}
	}

	logger.Info("queueing run complete",
		"examined", report.Examined,
		"queued_sms", report.Queued[model.MessageTypeSMS],
		"queued_email", report.Queued[model.MessageTypeEmail],
		"skipped", report.Skipped)
	return report, nil
}

func (s *QueueService) enqueueOne(ctx context.Context, ref *model.Referral, tmpl Template) (bool, error) {
	address := s.addressFor(ref, tmpl.MessageType)
	if address == "" {
		return false, nil
	}

	pending, err := s.messageRepo.HasUnsent(ctx, ref.ID, tmpl.MessageType)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnexpected, "QueueCheckFailed",
			fmt.Sprintf("failed to check pending messages for referral %d", ref.ID), err)
	}
	if pending {
		return false, nil
	}

	token, err := s.tokens.TakeOne(ctx, s.claimRetries)
	if err != nil {
		return false, err
	}

	msg := &model.OutboundMessage{
		ReferralID:        ref.ID,
		MessageType:       tmpl.MessageType,
		TemplateID:        tmpl.ID,
		Address:           address,
		ServiceUserLinkID: token.Value,
		Personalisation: model.Personalisation{
			"ubrn": ref.UBRN,
			"link": s.baseURL + "/r/" + token.Value,
		},
	}
	if _, err := s.messageRepo.Create(ctx, msg); err != nil {
		return false, apperr.Wrap(apperr.KindUnexpected, "QueueWriteFailed",
			fmt.Sprintf("failed to queue %s message for referral %d", tmpl.MessageType, ref.ID), err)
	}
	return true, nil
}

func (s *QueueService) addressFor(ref *model.Referral, messageType model.MessageType) string {
	switch messageType {
	case model.MessageTypeSMS:
		if ref.MobileValid {
			return ref.Mobile
		}
	case model.MessageTypeEmail:
		if ref.EmailValid {
			return ref.Email
		}
	}
	return ""
}
