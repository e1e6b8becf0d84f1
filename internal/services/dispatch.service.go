package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	gateway "github.com/careroute/referral-engine/internal/gateways"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/prom"
	"github.com/careroute/referral-engine/pkg/worker"
	"github.com/pkg/errors"
)

// DispatchReport summarises one dispatch run.
type DispatchReport struct {
	Examined int                       `json:"examined"`
	Sent     map[model.MessageType]int `json:"sent"`
	Failed   map[model.MessageType]int `json:"failed"`

	mu sync.Mutex
}

func (r *DispatchReport) sent(t model.MessageType) {
	r.mu.Lock()
	r.Sent[t]++
	r.mu.Unlock()
}

func (r *DispatchReport) failed(t model.MessageType) {
	r.mu.Lock()
	r.Failed[t]++
	r.mu.Unlock()
}

type DispatchService struct {
	referralRepo ReferralRepository
	messageRepo  OutboundMessageRepository
	machine      *referral.Machine
	gateway      gateway.NotifyGateway
	registry     *TemplateRegistry
	batchSize    int
	workers      int
}

func NewDispatchService(
	referralRepo ReferralRepository,
	messageRepo OutboundMessageRepository,
	machine *referral.Machine,
	gw gateway.NotifyGateway,
	registry *TemplateRegistry,
	batchSize int,
	workers int,
) *DispatchService {
	if batchSize <= 0 {
		batchSize = 200
	}
	if workers <= 0 {
		workers = 1
	}
	return &DispatchService{
		referralRepo: referralRepo,
		messageRepo:  messageRepo,
		machine:      machine,
		gateway:      gw,
		registry:     registry,
		batchSize:    batchSize,
		workers:      workers,
	}
}

// DispatchPending drains the unsent message queue through the gateway. One
// message failing only marks that row and moves on; the run itself succeeds.
// Sending and recording are arranged so a rerun cannot deliver a message
// twice: the sent_at claim loses cleanly if another run got there first.
func (s *DispatchService) DispatchPending(ctx context.Context) (*DispatchReport, error) {
	report := &DispatchReport{
		Sent:   make(map[model.MessageType]int),
		Failed: make(map[model.MessageType]int),
	}

	messages, err := s.messageRepo.ListUnsent(ctx, s.batchSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "DispatchScanFailed", "failed to list unsent messages", err)
	}
	report.Examined = len(messages)
	if len(messages) == 0 {
		return report, nil
	}

	jobs := make([]interface{}, len(messages))
	for i, m := range messages {
		jobs[i] = m
	}

	pool := worker.NewPool(s.workers, func(_ int, job interface{}) {
		msg := job.(*model.OutboundMessage)
		if err := s.dispatchOne(ctx, msg); err != nil {
			report.failed(msg.MessageType)
			prom.IncCounterVec(prom.SystemNotifications, prom.MetricMessagesFailed, string(msg.MessageType))
			logger.Warn("message dispatch failed",
				"message_id", msg.ID,
				"referral_id", msg.ReferralID,
				"type", string(msg.MessageType),
				"error", err)
			return
		}
		report.sent(msg.MessageType)
		prom.IncCounterVec(prom.SystemNotifications, prom.MetricMessagesSent, string(msg.MessageType))
	})
	pool.Run(jobs)

	logger.Info("dispatch run complete",
		"examined", report.Examined,
		"sent_sms", report.Sent[model.MessageTypeSMS],
		"sent_email", report.Sent[model.MessageTypeEmail],
		"failed_sms", report.Failed[model.MessageTypeSMS],
		"failed_email", report.Failed[model.MessageTypeEmail])
	return report, nil
}

func (s *DispatchService) dispatchOne(ctx context.Context, msg *model.OutboundMessage) error {
	ref, err := s.referralRepo.GetByID(ctx, msg.ReferralID)
	if err != nil {
		failure := errors.Wrap(err, "failed to load referral")
		s.recordFailure(ctx, msg, failure)
		return failure
	}

	next, ok := s.nextStatus(ref, msg.MessageType)
	if !ok {
		// the referral moved on since this message was queued; never send
		failure := fmt.Errorf("referral %d in status %s no longer expects a %s message",
			ref.ID, ref.Status, msg.MessageType)
		s.recordFailure(ctx, msg, failure)
		return failure
	}

	resp, err := s.gateway.Send(ctx, msg.MessageType, &gateway.SendRequest{
		ClientReference: fmt.Sprintf("msg-%d", msg.ID),
		To:              msg.Address,
		TemplateID:      msg.TemplateID,
		Personalisation: msg.Personalisation,
	})
	if err != nil {
		s.recordFailure(ctx, msg, err)
		return err
	}

	if err := s.messageRepo.MarkSent(ctx, msg.ID, time.Now(), resp.Reference); err != nil {
		if errors.Is(err, repository.ErrAlreadySent) {
			// concurrent run won the claim and owns the status advance
			logger.Info("message already marked sent", "message_id", msg.ID)
			return nil
		}
		return errors.Wrap(err, "failed to mark message sent")
	}

	s.advanceReferral(ctx, ref, next, msg)
	return nil
}

// nextStatus maps the referral's current status and the message channel to
// the status that records this contact attempt.
func (s *DispatchService) nextStatus(ref *model.Referral, messageType model.MessageType) (model.ReferralStatus, bool) {
	templates, err := s.registry.Resolve(ref.Status, ref.Source)
	if err != nil {
		return "", false
	}
	for _, tmpl := range templates {
		if tmpl.MessageType == messageType {
			return tmpl.Next, true
		}
	}
	return "", false
}

// advanceReferral moves the referral to its post-contact status and bumps the
// contact count. Failures here never fail the dispatch: the message is sent
// and recorded, and the next queueing run sees the stale status and corrects
// nothing worse than an extra log line.
func (s *DispatchService) advanceReferral(ctx context.Context, ref *model.Referral, next model.ReferralStatus, msg *model.OutboundMessage) {
	prev, err := s.machine.Transition(ref, next, fmt.Sprintf("%s notification sent", msg.MessageType))
	if err != nil {
		logger.Warn("referral did not advance after send",
			"referral_id", ref.ID, "status", string(ref.Status), "target", string(next), "error", err)
		return
	}

	ref.NumberOfContacts++
	ref.ModifiedBy = "dispatcher"
	if err := s.referralRepo.UpdateStatus(ctx, ref); err != nil {
		logger.Error("failed to persist referral advance",
			"referral_id", ref.ID, "from", string(prev), "to", string(next), "error", err)
		return
	}
	logger.Info("referral advanced", "referral_id", ref.ID, "from", string(prev), "to", string(next))
}

func (s *DispatchService) recordFailure(ctx context.Context, msg *model.OutboundMessage, failure error) {
	if err := s.messageRepo.RecordFailure(ctx, msg.ID, failure.Error()); err != nil {
		logger.Error("failed to record message failure", "message_id", msg.ID, "error", err)
	}
}
