// Package tokens issues globally unique service-user link tokens from a
// pre-generated pool. Uniqueness does not rely on coordination between
// callers: every take is an atomic claim on one pool row, so concurrent
// allocators can never be handed the same token.
package tokens

import (
	"context"
	"math/rand"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/internal/model"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/google/uuid"
)

const (
	CodePoolExhaustedOrContended = "PoolExhaustedOrContended"

	claimBackoffBase = 2 * time.Millisecond
)

// TokenRepository is the pool storage. Claim must be an atomic
// "flip-if-still-unused" update.
type TokenRepository interface {
	InsertBatch(ctx context.Context, values []string) error
	Candidates(ctx context.Context, limit int) ([]*model.LinkToken, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, ids []int64) error
	CountUnused(ctx context.Context) (int64, error)
}

type Allocator struct {
	repo TokenRepository
}

func NewAllocator(repo TokenRepository) *Allocator {
	return &Allocator{repo: repo}
}

// GenerateBatch appends count fresh unused tokens to the pool. Values are
// random UUIDs, so generation collisions are negligible; the pool's unique
// index turns any residual collision into an insert error rather than a
// shared token.
func (a *Allocator) GenerateBatch(ctx context.Context, count int) error {
	if count <= 0 {
		return apperr.New(apperr.KindValidation, "InvalidCount", "count must be positive")
	}
	values := make([]string, count)
	for i := range values {
		values[i] = uuid.NewString()
	}
	if err := a.repo.InsertBatch(ctx, values); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "TokenGenerationFailed", "failed to extend token pool", err)
	}
	logger.Info("token pool extended", "count", count)
	return nil
}

// TakeOne claims one unused token. A lost race against a concurrent caller
// retries with a different candidate up to retries times before giving up.
func (a *Allocator) TakeOne(ctx context.Context, retries int) (*model.LinkToken, error) {
	if retries < 0 {
		retries = 0
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := claimBackoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// widen the candidate window on every retry so contending callers
		// spread over different rows instead of racing the head of the pool
		candidates, err := a.repo.Candidates(ctx, attempt+3)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnexpected, "TokenLookupFailed", "failed to read token pool", err)
		}
		if len(candidates) == 0 {
			break
		}

		candidate := candidates[rand.Intn(len(candidates))]
		won, err := a.repo.Claim(ctx, candidate.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnexpected, "TokenClaimFailed", "failed to claim token", err)
		}
		if won {
			candidate.IsUsed = true
			return candidate, nil
		}
	}

	return nil, apperr.New(apperr.KindNotFound, CodePoolExhaustedOrContended,
		"token pool is exhausted or too contended")
}

// TakeBatch returns exactly count distinct tokens or none at all. A partial
// claim is unwound back into the pool before the failure is reported.
func (a *Allocator) TakeBatch(ctx context.Context, count, retries int) ([]*model.LinkToken, error) {
	if count <= 0 {
		return nil, apperr.New(apperr.KindValidation, "InvalidCount", "count must be positive")
	}

	claimed := make([]*model.LinkToken, 0, count)
	for len(claimed) < count {
		token, err := a.TakeOne(ctx, retries)
		if err != nil {
			a.unwind(ctx, claimed)
			return nil, err
		}
		claimed = append(claimed, token)
	}
	return claimed, nil
}

func (a *Allocator) unwind(ctx context.Context, claimed []*model.LinkToken) {
	if len(claimed) == 0 {
		return
	}
	ids := make([]int64, len(claimed))
	for i, tok := range claimed {
		ids[i] = tok.ID
	}
	if err := a.repo.Release(ctx, ids); err != nil {
		// tokens stuck in used state are lost capacity, not a correctness
		// issue; the pool is refilled ahead of demand
		logger.Error("failed to unwind partially claimed tokens", "count", len(ids), "error", err)
	}
}

// Unused reports the remaining pool capacity.
func (a *Allocator) Unused(ctx context.Context) (int64, error) {
	return a.repo.CountUnused(ctx)
}
