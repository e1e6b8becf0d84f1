package services

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	gatewaypkg "github.com/careroute/referral-engine/internal/gateways"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/internal/referral"
	"github.com/careroute/referral-engine/internal/repository"
	"github.com/careroute/referral-engine/internal/tokens"
	"github.com/careroute/referral-engine/pkg/pg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// pipelineDB builds the same single-connection in-memory database the
// repository tests use, wired behind pg.DB.
func pipelineDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&repository.ReferralEntity{},
		&repository.OutboundMessageEntity{},
		&repository.LinkTokenEntity{},
		&repository.JobLeaseEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	v := reflect.ValueOf(pgDB).Elem()
	for _, name := range []string{"read", "write"} {
		field := v.FieldByName(name)
		field = reflect.NewAt(field.Type(), field.Addr().UnsafePointer()).Elem()
		field.Set(reflect.ValueOf(db))
	}
	return pgDB
}

// TestPipeline walks one referral through the whole engine against a real
// database: intake, two queue-and-dispatch rounds, delivery callbacks, and
// the operator moves that hand the referral to a provider.
func TestPipeline(t *testing.T) {
	ctx := context.Background()
	db := pipelineDB(t)

	refRepo := repository.NewReferralRepository(db)
	msgRepo := repository.NewOutboundMessageRepository(db)
	tokenRepo := repository.NewLinkTokenRepository(db)

	machine := referral.NewMachine()
	registry := NewTemplateRegistry()
	allocator := tokens.NewAllocator(tokenRepo)

	gw := new(MockNotifyGateway)
	var sendSeq int
	gw.On("Send", mock.Anything, model.MessageTypeSMS, mock.Anything).
		Return(&gatewaypkg.SendResponse{Reference: "prov-ref-1", Status: "created"}, nil).
		Once().
		Run(func(mock.Arguments) { sendSeq++ })
	gw.On("Send", mock.Anything, model.MessageTypeSMS, mock.Anything).
		Return(&gatewaypkg.SendResponse{Reference: "prov-ref-2", Status: "created"}, nil).
		Once().
		Run(func(mock.Arguments) { sendSeq++ })

	referralSvc := NewReferralService(refRepo, msgRepo, machine)
	queueSvc := NewQueueService(refRepo, msgRepo, allocator, registry, "https://connect.example", 100, 3)
	dispatchSvc := NewDispatchService(refRepo, msgRepo, machine, gw, registry, 100, 2)
	reconcileSvc := NewReconcileService(refRepo, msgRepo, machine, testMarker(t))

	require.NoError(t, allocator.GenerateBatch(ctx, 10))

	// intake
	created, err := referralSvc.Create(ctx, model.ReferralCreateRequest{
		UBRN:   "000000000042",
		Source: model.SourceEreferrals,
		Mobile: "07700 900123",
		Email:  "pat@example.org",
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusNew, created.Status)

	// first contact round
	queueReport, err := queueSvc.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queueReport.Queued[model.MessageTypeSMS])

	// reruns before dispatch queue nothing more
	queueReport, err = queueSvc.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queueReport.Queued[model.MessageTypeSMS])

	dispatchReport, err := dispatchSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatchReport.Sent[model.MessageTypeSMS])

	ref, err := referralSvc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTextMessage1, ref.Status)
	assert.Equal(t, 1, ref.NumberOfContacts)

	// delivery confirmation, redelivered once
	firstMsgs, err := referralSvc.Messages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, firstMsgs, 1)
	cb := &model.DeliveryCallback{Reference: "prov-ref-1", To: firstMsgs[0].Address, Status: "delivered"}
	require.NoError(t, reconcileSvc.Reconcile(ctx, cb))
	require.NoError(t, reconcileSvc.Reconcile(ctx, cb))

	// second contact round
	queueReport, err = queueSvc.Enqueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, queueReport.Queued[model.MessageTypeSMS])

	dispatchReport, err = dispatchSvc.DispatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dispatchReport.Sent[model.MessageTypeSMS])

	ref, err = referralSvc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTextMessage2, ref.Status)
	assert.Equal(t, 2, ref.NumberOfContacts)
	assert.Equal(t, 2, sendSeq)

	// the second text bounces for good; the referral escalates to a call
	msgs, err := referralSvc.Messages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	var second *model.OutboundMessage
	for _, m := range msgs {
		if m.ProviderReference == "prov-ref-2" {
			second = m
		}
	}
	require.NotNil(t, second)
	require.NoError(t, reconcileSvc.Reconcile(ctx, &model.DeliveryCallback{
		Reference: "prov-ref-2",
		To:        second.Address,
		Status:    "permanent-failure",
	}))

	ref, err = referralSvc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRmcCall, ref.Status)

	// operator reaches the service user and hands over to a provider
	_, err = referralSvc.AssignProvider(ctx, created.ID, 7, "operator-1")
	require.NoError(t, err)
	_, err = referralSvc.ChangeStatus(ctx, created.ID, model.StatusProviderAwaitingStart, "provider chosen", "operator-1")
	require.NoError(t, err)
	_, err = referralSvc.ChangeStatus(ctx, created.ID, model.StatusProviderStarted, "", "provider-7")
	require.NoError(t, err)
	_, err = referralSvc.ChangeStatus(ctx, created.ID, model.StatusProviderCompleted, "", "provider-7")
	require.NoError(t, err)
	_, err = referralSvc.ChangeStatus(ctx, created.ID, model.StatusComplete, "course completed", "operator-1")
	require.NoError(t, err)

	// terminal: no further contact is ever queued
	queueReport, err = queueSvc.Enqueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queueReport.Examined+queueReport.Queued[model.MessageTypeSMS])

	// every message carries a distinct link token
	msgs, err = referralSvc.Messages(ctx, created.ID)
	require.NoError(t, err)
	links := make(map[string]bool)
	for _, m := range msgs {
		require.NotEmpty(t, m.ServiceUserLinkID)
		assert.False(t, links[m.ServiceUserLinkID], "link token %s reused", m.ServiceUserLinkID)
		links[m.ServiceUserLinkID] = true
	}

	unused, err := allocator.Unused(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10-int64(len(msgs)), unused, fmt.Sprintf("%d messages means %d tokens claimed", len(msgs), len(msgs)))
}
