package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var markerConnSeq int

func testMarker(t *testing.T) CallbackMarker {
	t.Helper()
	mr := miniredis.RunT(t)
	markerConnSeq++
	adapter, err := redis.NewRedisAdapter(
		fmt.Sprintf("reconcile-test-%d", markerConnSeq),
		"test",
		&redis.Options{Addrs: []string{mr.Addr()}},
	)
	require.NoError(t, err)
	return adapter
}

func sentMessage(id, referralID int64) *model.OutboundMessage {
	sentAt := time.Now().Add(-time.Minute)
	return &model.OutboundMessage{
		ID:                id,
		ReferralID:        referralID,
		MessageType:       model.MessageTypeSMS,
		Address:           "+447700900123",
		ProviderReference: fmt.Sprintf("prov-%d", id),
		SentAt:            &sentAt,
	}
}

func newReconcileService(refRepo ReferralRepository, msgRepo OutboundMessageRepository, marker CallbackMarker) *ReconcileService {
	return NewReconcileService(refRepo, msgRepo, referral.NewMachine(), marker)
}

func TestReconcileService_Reconcile_RecordsOutcome(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(refRepo, msgRepo, testMarker(t))

	msg := sentMessage(10, 1)
	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(msg, nil)
	msgRepo.On("ApplyOutcome", ctx, int64(10), model.OutcomeDelivered, mock.Anything).Return(nil)

	err := svc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-10",
		To:        "+447700900123",
		Status:    "delivered",
	})
	require.NoError(t, err)
	msgRepo.AssertExpectations(t)
}

func TestReconcileService_Reconcile_AtLeastOnceSafe(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(refRepo, msgRepo, testMarker(t))

	msg := sentMessage(10, 1)
	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(msg, nil).Once()
	msgRepo.On("ApplyOutcome", ctx, int64(10), model.OutcomeDelivered, mock.Anything).Return(nil).Once()

	cb := &model.DeliveryCallback{Reference: "prov-10", To: "+447700900123", Status: "delivered"}
	require.NoError(t, svc.Reconcile(ctx, cb))

	// redelivery short-circuits on the processed marker
	require.NoError(t, svc.Reconcile(ctx, cb))
	msgRepo.AssertExpectations(t)
}

func TestReconcileService_Reconcile_UnknownStatus(t *testing.T) {
	ctx := context.Background()
	svc := newReconcileService(new(MockReferralRepository), new(MockOutboundMessageRepository), testMarker(t))

	err := svc.Reconcile(ctx, &model.DeliveryCallback{Reference: "prov-10", Status: "vanished"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, CodeStatusIsUnknown, apperr.CodeOf(err))
}

func TestReconcileService_Reconcile_UnknownReference(t *testing.T) {
	ctx := context.Background()
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(new(MockReferralRepository), msgRepo, testMarker(t))

	msgRepo.On("GetByProviderReference", ctx, "prov-404").Return(nil, repository.ErrNotFound)

	err := svc.Reconcile(ctx, &model.DeliveryCallback{Reference: "prov-404", Status: "delivered"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Equal(t, CodeCallIdDoesNotExist, apperr.CodeOf(err))
}

func TestReconcileService_Reconcile_RecipientMismatch(t *testing.T) {
	ctx := context.Background()
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(new(MockReferralRepository), msgRepo, testMarker(t))

	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(sentMessage(10, 1), nil)

	err := svc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-10",
		To:        "+447700999999",
		Status:    "delivered",
	})
	require.Error(t, err)
	assert.Equal(t, CodeTelephoneNumberMismatch, apperr.CodeOf(err))
	msgRepo.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileService_Reconcile_StaleCallbackIsNoOp(t *testing.T) {
	ctx := context.Background()
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(new(MockReferralRepository), msgRepo, testMarker(t))

	msg := sentMessage(10, 1)
	msg.Outcome = string(model.OutcomeDelivered)
	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(msg, nil)

	// "sending" arriving after "delivered" is old news, not an error
	err := svc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-10",
		To:        "+447700900123",
		Status:    "sending",
	})
	require.NoError(t, err)
	msgRepo.AssertNotCalled(t, "ApplyOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileService_Reconcile_PermanentFailureEscalates(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(refRepo, msgRepo, testMarker(t))

	msg := sentMessage(10, 1)
	ref := dueReferral(1, model.StatusTextMessage1)
	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(msg, nil)
	msgRepo.On("ApplyOutcome", ctx, int64(10), model.OutcomePermanentFailure, mock.Anything).Return(nil)
	refRepo.On("GetByID", ctx, int64(1)).Return(ref, nil)
	refRepo.On("UpdateStatus", ctx, mock.MatchedBy(func(r *model.Referral) bool {
		return r.Status == model.StatusRmcCall
	})).Return(nil)

	err := svc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-10",
		To:        "+447700900123",
		Status:    "permanent-failure",
	})
	require.NoError(t, err)
	refRepo.AssertExpectations(t)
}

func TestReconcileService_Reconcile_EscalationRaceIsBenign(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	svc := newReconcileService(refRepo, msgRepo, testMarker(t))

	msg := sentMessage(10, 1)
	ref := dueReferral(1, model.StatusComplete) // moved on, no edge to RmcCall
	msgRepo.On("GetByProviderReference", ctx, "prov-10").Return(msg, nil)
	msgRepo.On("ApplyOutcome", ctx, int64(10), model.OutcomePermanentFailure, mock.Anything).Return(nil)
	refRepo.On("GetByID", ctx, int64(1)).Return(ref, nil)

	err := svc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-10",
		To:        "+447700900123",
		Status:    "permanent-failure",
	})
	require.NoError(t, err, "a referral that moved on makes escalation a no-op")
	refRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}
