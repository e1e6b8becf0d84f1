package repository

import (
	"context"
	"testing"
	"time"

	"github.com/careroute/referral-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessage(t *testing.T, repo *OutboundMessageRepository, referralID int64, linkID string) *model.OutboundMessage {
	t.Helper()
	msg, err := repo.Create(context.Background(), &model.OutboundMessage{
		ReferralID:        referralID,
		MessageType:       model.MessageTypeSMS,
		TemplateID:        "tpl-first-text",
		Personalisation:   model.Personalisation{"link": "https://connect.example/" + linkID},
		Address:           "+447700900123",
		ServiceUserLinkID: linkID,
	})
	require.NoError(t, err)
	return msg
}

func TestOutboundMessageRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, repo, 1, "link-0001")
	assert.NotZero(t, msg.ID)
	assert.Nil(t, msg.SentAt)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "tpl-first-text", got.TemplateID)
	assert.Equal(t, "https://connect.example/link-0001", got.Personalisation["link"])
}

func TestOutboundMessageRepository_ListUnsent(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	first := seedMessage(t, repo, 1, "link-1001")
	seedMessage(t, repo, 2, "link-1002")

	require.NoError(t, repo.MarkSent(ctx, first.ID, time.Now(), "prov-ref-1"))

	unsent, err := repo.ListUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, "link-1002", unsent[0].ServiceUserLinkID)
}

func TestOutboundMessageRepository_MarkSent_ExactlyOnce(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, repo, 1, "link-2001")

	require.NoError(t, repo.MarkSent(ctx, msg.ID, time.Now(), "prov-ref-2"))

	// second claim must lose: sent_at only ever moves from null once
	err := repo.MarkSent(ctx, msg.ID, time.Now(), "prov-ref-other")
	assert.ErrorIs(t, err, ErrAlreadySent)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "prov-ref-2", got.ProviderReference)
}

func TestOutboundMessageRepository_HasUnsent(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, repo, 5, "link-3001")

	has, err := repo.HasUnsent(ctx, 5, model.MessageTypeSMS)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasUnsent(ctx, 5, model.MessageTypeEmail)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.MarkSent(ctx, msg.ID, time.Now(), "prov-ref-3"))
	has, err = repo.HasUnsent(ctx, 5, model.MessageTypeSMS)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestOutboundMessageRepository_RecordFailure(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, repo, 1, "link-4001")

	require.NoError(t, repo.RecordFailure(ctx, msg.ID, "gateway timeout"))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SentAt, "failure must leave the row pending for retry")
	assert.Equal(t, "gateway timeout", got.LastError)
}

func TestOutboundMessageRepository_Callbacks(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOutboundMessageRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, repo, 1, "link-5001")
	require.NoError(t, repo.MarkSent(ctx, msg.ID, time.Now(), "prov-ref-5"))

	t.Run("lookup by provider reference", func(t *testing.T) {
		got, err := repo.GetByProviderReference(ctx, "prov-ref-5")
		require.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := repo.GetByProviderReference(ctx, "prov-ref-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("apply outcome", func(t *testing.T) {
		require.NoError(t, repo.ApplyOutcome(ctx, msg.ID, model.OutcomeDelivered, time.Now()))
		got, err := repo.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, string(model.OutcomeDelivered), got.Outcome)
		assert.NotNil(t, got.ReceivedAt)
	})
}
