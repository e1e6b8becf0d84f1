package services

import (
	"context"
	"time"

	gateway "github.com/careroute/referral-engine/internal/gateways"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockReferralRepository struct {
	mock.Mock
}

func (m *MockReferralRepository) Create(ctx context.Context, ref *model.Referral) (*model.Referral, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Referral), args.Error(1)
}

func (m *MockReferralRepository) GetByID(ctx context.Context, id int64) (*model.Referral, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Referral), args.Error(1)
}

func (m *MockReferralRepository) GetByUBRN(ctx context.Context, ubrn string) (*model.Referral, error) {
	args := m.Called(ctx, ubrn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Referral), args.Error(1)
}

func (m *MockReferralRepository) List(ctx context.Context, f model.ReferralFilter) ([]*model.Referral, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Referral), args.Get(1).(int64), args.Error(2)
}

func (m *MockReferralRepository) ListContactDue(ctx context.Context, statuses []model.ReferralStatus, limit int) ([]*model.Referral, error) {
	args := m.Called(ctx, statuses, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Referral), args.Error(1)
}

func (m *MockReferralRepository) UpdateStatus(ctx context.Context, ref *model.Referral) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockReferralRepository) AssignProvider(ctx context.Context, id int64, providerID int64, modifiedBy string) error {
	args := m.Called(ctx, id, providerID, modifiedBy)
	return args.Error(0)
}

func (m *MockReferralRepository) Deactivate(ctx context.Context, id int64, modifiedBy string) error {
	args := m.Called(ctx, id, modifiedBy)
	return args.Error(0)
}

type MockOutboundMessageRepository struct {
	mock.Mock
}

func (m *MockOutboundMessageRepository) Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboundMessage), args.Error(1)
}

func (m *MockOutboundMessageRepository) GetByProviderReference(ctx context.Context, reference string) (*model.OutboundMessage, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OutboundMessage), args.Error(1)
}

func (m *MockOutboundMessageRepository) ListUnsent(ctx context.Context, limit int) ([]*model.OutboundMessage, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboundMessage), args.Error(1)
}

func (m *MockOutboundMessageRepository) HasUnsent(ctx context.Context, referralID int64, messageType model.MessageType) (bool, error) {
	args := m.Called(ctx, referralID, messageType)
	return args.Bool(0), args.Error(1)
}

func (m *MockOutboundMessageRepository) ListByReferral(ctx context.Context, referralID int64) ([]*model.OutboundMessage, error) {
	args := m.Called(ctx, referralID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.OutboundMessage), args.Error(1)
}

func (m *MockOutboundMessageRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time, providerReference string) error {
	args := m.Called(ctx, id, sentAt, providerReference)
	return args.Error(0)
}

func (m *MockOutboundMessageRepository) RecordFailure(ctx context.Context, id int64, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

func (m *MockOutboundMessageRepository) ApplyOutcome(ctx context.Context, id int64, outcome model.DeliveryOutcome, receivedAt time.Time) error {
	args := m.Called(ctx, id, outcome, receivedAt)
	return args.Error(0)
}

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) TakeOne(ctx context.Context, retries int) (*model.LinkToken, error) {
	args := m.Called(ctx, retries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.LinkToken), args.Error(1)
}

type MockNotifyGateway struct {
	mock.Mock
}

func (m *MockNotifyGateway) Send(ctx context.Context, messageType model.MessageType, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, messageType, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

func (m *MockNotifyGateway) GetStatus(ctx context.Context, reference string) (*gateway.StatusResponse, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.StatusResponse), args.Error(1)
}
