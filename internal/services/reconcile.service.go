package services

import (
	"context"
	"fmt"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/prom"
	"github.com/pkg/errors"
)

const (
	CodeCallIdDoesNotExist      = "CallIdDoesNotExist"
	CodeTelephoneNumberMismatch = "TelephoneNumberMismatch"
	CodeStatusIsUnknown         = "StatusIsUnknown"

	callbackMarkerTTL = 72 * time.Hour
)

// CallbackMarker is the processed-callback cache. Satisfied by the redis
// adapter; tests use miniredis behind the same adapter.
type CallbackMarker interface {
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)
	Exist(key string) (int64, error)
}

type ReconcileService struct {
	referralRepo ReferralRepository
	messageRepo  OutboundMessageRepository
	machine      *referral.Machine
	marker       CallbackMarker
}

func NewReconcileService(
	referralRepo ReferralRepository,
	messageRepo OutboundMessageRepository,
	machine *referral.Machine,
	marker CallbackMarker,
) *ReconcileService {
	return &ReconcileService{
		referralRepo: referralRepo,
		messageRepo:  messageRepo,
		machine:      machine,
		marker:       marker,
	}
}

// Reconcile applies one gateway delivery callback to the message it refers
// to. The gateway redelivers callbacks at least once, so the whole operation
// must be repeat-safe: a callback seen before, or one older than what is
// already recorded, is acknowledged as a harmless no-op. Only a callback that
// could never be valid is rejected.
func (s *ReconcileService) Reconcile(ctx context.Context, cb *model.DeliveryCallback) error {
	outcome, ok := model.ParseDeliveryOutcome(cb.Status)
	if !ok {
		return apperr.WithField(apperr.KindValidation, CodeStatusIsUnknown,
			fmt.Sprintf("unknown delivery status %q", cb.Status), "status", cb.Status)
	}

	markerKey := fmt.Sprintf("callback:%s:%s", cb.Reference, outcome)
	if s.marker != nil {
		if seen, err := s.marker.Exist(markerKey); err == nil && seen > 0 {
			logger.Info("callback already processed", "reference", cb.Reference, "status", string(outcome))
			return nil
		}
	}

	msg, err := s.messageRepo.GetByProviderReference(ctx, cb.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, CodeCallIdDoesNotExist,
				fmt.Sprintf("no sent message with reference %s", cb.Reference))
		}
		return apperr.Wrap(apperr.KindUnexpected, "CallbackLookupFailed", "failed to look up callback reference", err)
	}

	if cb.To != "" && cb.To != msg.Address {
		return apperr.WithField(apperr.KindValidation, CodeTelephoneNumberMismatch,
			"callback recipient does not match the message", "to", cb.To)
	}

	if s.stale(msg, outcome) {
		logger.Info("stale callback ignored",
			"reference", cb.Reference, "recorded", msg.Outcome, "reported", string(outcome))
		s.mark(markerKey)
		return nil
	}

	receivedAt := time.Now()
	if cb.CompletedAt != nil {
		receivedAt = *cb.CompletedAt
	}
	if err := s.messageRepo.ApplyOutcome(ctx, msg.ID, outcome, receivedAt); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "CallbackApplyFailed", "failed to record delivery outcome", err)
	}
	prom.IncCounterVec(prom.SystemCallbacks, prom.MetricCallbacksReceived, string(outcome))

	if outcome.PermanentFailure() {
		s.escalate(ctx, msg)
	}

	s.mark(markerKey)
	logger.Info("delivery outcome recorded",
		"reference", cb.Reference, "message_id", msg.ID, "outcome", string(outcome))
	return nil
}

// stale reports whether the callback carries older news than what is already
// recorded on the message. Terminal outcomes never regress to transient ones.
func (s *ReconcileService) stale(msg *model.OutboundMessage, outcome model.DeliveryOutcome) bool {
	if msg.Outcome == "" {
		return false
	}
	recorded := model.DeliveryOutcome(msg.Outcome)
	if recorded == outcome {
		return true
	}
	switch recorded {
	case model.OutcomeDelivered, model.OutcomePermanentFailure:
		return true
	}
	return false
}

// escalate routes the referral to a staff phone call after a permanent
// delivery failure. The referral may already have moved somewhere the edge
// does not exist from; that is a benign race, not an error.
func (s *ReconcileService) escalate(ctx context.Context, msg *model.OutboundMessage) {
	ref, err := s.referralRepo.GetByID(ctx, msg.ReferralID)
	if err != nil {
		logger.Error("failed to load referral for escalation", "referral_id", msg.ReferralID, "error", err)
		return
	}

	prev, err := s.machine.Transition(ref, model.StatusRmcCall,
		fmt.Sprintf("permanent %s delivery failure", msg.MessageType))
	if err != nil {
		logger.Info("no escalation from current status",
			"referral_id", ref.ID, "status", string(ref.Status))
		return
	}

	ref.ModifiedBy = "reconciler"
	if err := s.referralRepo.UpdateStatus(ctx, ref); err != nil {
		logger.Error("failed to persist escalation",
			"referral_id", ref.ID, "from", string(prev), "error", err)
		return
	}
	logger.Info("referral escalated to call", "referral_id", ref.ID, "from", string(prev))
}

func (s *ReconcileService) mark(key string) {
	if s.marker == nil {
		return
	}
	if _, err := s.marker.SetNX(key, []byte("1"), callbackMarkerTTL); err != nil {
		logger.Warn("failed to mark callback processed", "key", key, "error", err)
	}
}
