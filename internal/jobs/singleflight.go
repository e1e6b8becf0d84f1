// Package jobs serialises the batch jobs that must never run twice at once.
// The guard is a database lease with an expiry rather than an in-process
// mutex, so it holds across every instance of the service and cannot be
// wedged by a crashed run.
package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/careroute/referral-engine/pkg/prom"
	"github.com/google/uuid"
)

const CodeProcessAlreadyRunning = "ProcessAlreadyRunning"

type LeaseRepository interface {
	Acquire(ctx context.Context, jobName, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobName, holder string) error
}

type SingleFlightGuard struct {
	leases   LeaseRepository
	ttl      time.Duration
	hostname string
}

func NewSingleFlightGuard(leases LeaseRepository, ttl time.Duration) *SingleFlightGuard {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &SingleFlightGuard{
		leases:   leases,
		ttl:      ttl,
		hostname: hostname,
	}
}

// RunExclusive runs work under the named lease. A second caller while the
// lease is held gets a ProcessAlreadyRunning conflict without running work.
// The lease is released on every exit path, including a panic in work; if
// the holder crashes outright, the lease expires after the ttl and the next
// run reclaims it.
func (g *SingleFlightGuard) RunExclusive(ctx context.Context, jobName string, work func(ctx context.Context) error) error {
	holder := fmt.Sprintf("%s/%s", g.hostname, uuid.NewString())

	acquired, err := g.leases.Acquire(ctx, jobName, holder, g.ttl)
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "LeaseAcquireFailed",
			fmt.Sprintf("failed to acquire lease for job %s", jobName), err)
	}
	if !acquired {
		prom.IncCounterVec(prom.SystemJobs, prom.MetricJobsRejected, jobName)
		logger.Info("job rejected, already running", "job", jobName)
		return apperr.New(apperr.KindConflict, CodeProcessAlreadyRunning,
			fmt.Sprintf("job %s is already running", jobName))
	}

	logger.Info("job lease acquired", "job", jobName, "holder", holder, "ttl", g.ttl.String())
	defer func() {
		if releaseErr := g.leases.Release(ctx, jobName, holder); releaseErr != nil {
			// the lease still expires after the ttl, so a failed release
			// only delays the next run
			logger.Error("failed to release job lease", "job", jobName, "holder", holder, "error", releaseErr)
		}
	}()

	return work(ctx)
}
