package services

import (
	"context"
	"testing"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dueReferral(id int64, status model.ReferralStatus) *model.Referral {
	return &model.Referral{
		ID:          id,
		UBRN:        "000000000001",
		Status:      status,
		Source:      model.SourceEreferrals,
		Mobile:      "+447700900123",
		MobileValid: true,
		Email:       "pat@example.org",
		EmailValid:  true,
		Active:      true,
	}
}

func newQueueService(refRepo ReferralRepo, msgRepo OutboundMessageRepository, tokens TokenSource) *QueueService {
	return NewQueueService(refRepo, msgRepo, tokens, NewTemplateRegistry(), "https://connect.example", 100, 3)
}

func TestQueueService_Enqueue_NewReferral(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	ref := dueReferral(1, model.StatusNew)
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{ref}, nil)
	msgRepo.On("HasUnsent", ctx, int64(1), model.MessageTypeSMS).Return(false, nil)
	tokens.On("TakeOne", ctx, 3).Return(&model.LinkToken{ID: 9, Value: "tok-abc", IsUsed: true}, nil)
	msgRepo.On("Create", ctx, mock.MatchedBy(func(m *model.OutboundMessage) bool {
		return m.ReferralID == 1 &&
			m.MessageType == model.MessageTypeSMS &&
			m.TemplateID == "ereferrals-first-text" &&
			m.Address == "+447700900123" &&
			m.ServiceUserLinkID == "tok-abc" &&
			m.Personalisation["link"] == "https://connect.example/r/tok-abc" &&
			m.Personalisation["ubrn"] == "000000000001"
	})).Return(&model.OutboundMessage{ID: 5}, nil)

	report, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Queued[model.MessageTypeSMS])
	assert.Equal(t, 0, report.Queued[model.MessageTypeEmail])
	assert.Equal(t, 0, report.Skipped)
	msgRepo.AssertExpectations(t)
	tokens.AssertExpectations(t)
}

func TestQueueService_Enqueue_FailedToContactUsesBothChannels(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	ref := dueReferral(2, model.StatusFailedToContact)
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{ref}, nil)
	msgRepo.On("HasUnsent", ctx, int64(2), model.MessageTypeSMS).Return(false, nil)
	msgRepo.On("HasUnsent", ctx, int64(2), model.MessageTypeEmail).Return(false, nil)
	tokens.On("TakeOne", ctx, 3).Return(&model.LinkToken{Value: "tok-1"}, nil).Once()
	tokens.On("TakeOne", ctx, 3).Return(&model.LinkToken{Value: "tok-2"}, nil).Once()
	msgRepo.On("Create", ctx, mock.Anything).Return(&model.OutboundMessage{}, nil).Twice()

	report, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Queued[model.MessageTypeSMS])
	assert.Equal(t, 1, report.Queued[model.MessageTypeEmail])
	msgRepo.AssertExpectations(t)
}

func TestQueueService_Enqueue_InvalidAddressChannelSkipped(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	ref := dueReferral(3, model.StatusFailedToContact)
	ref.EmailValid = false
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{ref}, nil)
	msgRepo.On("HasUnsent", ctx, int64(3), model.MessageTypeSMS).Return(false, nil)
	tokens.On("TakeOne", ctx, 3).Return(&model.LinkToken{Value: "tok-1"}, nil)
	msgRepo.On("Create", ctx, mock.Anything).Return(&model.OutboundMessage{}, nil).Once()

	report, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Queued[model.MessageTypeSMS])
	assert.Equal(t, 0, report.Queued[model.MessageTypeEmail])
	msgRepo.AssertNotCalled(t, "HasUnsent", ctx, int64(3), model.MessageTypeEmail)
}

func TestQueueService_Enqueue_IdempotentPerReferral(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	ref := dueReferral(4, model.StatusNew)
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{ref}, nil)
	msgRepo.On("HasUnsent", ctx, int64(4), model.MessageTypeSMS).Return(true, nil)

	report, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Queued[model.MessageTypeSMS])
	msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	tokens.AssertNotCalled(t, "TakeOne", mock.Anything, mock.Anything)
}

func TestQueueService_Enqueue_TemplateNotFoundSkips(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	orphan := dueReferral(5, model.StatusNew)
	orphan.Source = model.ReferralSource("unknown-source")
	fine := dueReferral(6, model.StatusNew)
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{orphan, fine}, nil)
	msgRepo.On("HasUnsent", ctx, int64(6), model.MessageTypeSMS).Return(false, nil)
	tokens.On("TakeOne", ctx, 3).Return(&model.LinkToken{Value: "tok-1"}, nil)
	msgRepo.On("Create", ctx, mock.Anything).Return(&model.OutboundMessage{}, nil).Once()

	report, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped, "referral without a template is skipped, not fatal")
	assert.Equal(t, 1, report.Queued[model.MessageTypeSMS])
}

func TestQueueService_Enqueue_TokenExhaustionAborts(t *testing.T) {
	ctx := context.Background()
	refRepo := new(MockReferralRepository)
	msgRepo := new(MockOutboundMessageRepository)
	tokens := new(MockTokenSource)

	ref := dueReferral(7, model.StatusNew)
	refRepo.On("ListContactDue", ctx, mock.Anything, 100).Return([]*model.Referral{ref}, nil)
	msgRepo.On("HasUnsent", ctx, int64(7), model.MessageTypeSMS).Return(false, nil)
	tokens.On("TakeOne", ctx, 3).Return(nil,
		apperr.New(apperr.KindNotFound, "PoolExhaustedOrContended", "token pool is exhausted"))

	_, err := newQueueService(refRepo, msgRepo, tokens).Enqueue(ctx)
	require.Error(t, err)
	assert.Equal(t, "PoolExhaustedOrContended", apperr.CodeOf(err))
	msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
