package handlers

import (
	"context"

	"github.com/careroute/referral-engine/internal/services"
	xhttp "github.com/careroute/referral-engine/pkg/http"
	"github.com/fasthttp/router"
)

const (
	JobQueueMessages = "queue-messages"
	JobSendMessages  = "send-messages"
)

type QueueService interface {
	Enqueue(ctx context.Context) (*services.QueueReport, error)
}

type DispatchService interface {
	DispatchPending(ctx context.Context) (*services.DispatchReport, error)
}

// ExclusiveRunner serialises a named job across every instance of the
// service.
type ExclusiveRunner interface {
	RunExclusive(ctx context.Context, jobName string, work func(ctx context.Context) error) error
}

type AdminHandler struct {
	queue    QueueService
	dispatch DispatchService
	guard    ExclusiveRunner
}

func RegisterAdminRoutes(e *router.Group, h *AdminHandler) {
	e.POST("/admin/QueueMessages", h.QueueMessages)
	e.POST("/admin/SendMessages", h.SendMessages)
}

func NewAdminHandler(queue QueueService, dispatch DispatchService, guard ExclusiveRunner) *AdminHandler {
	return &AdminHandler{
		queue:    queue,
		dispatch: dispatch,
		guard:    guard,
	}
}

// QueueMessages runs one queueing pass. A second request while a pass is in
// flight gets 409 without doing any work.
func (h *AdminHandler) QueueMessages(ctx *xhttp.RequestCtx) {
	var report *services.QueueReport
	err := h.guard.RunExclusive(ctx, JobQueueMessages, func(runCtx context.Context) error {
		var runErr error
		report, runErr = h.queue.Enqueue(runCtx)
		return runErr
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}

// SendMessages drains the unsent queue through the gateway, also under the
// single-flight guard.
func (h *AdminHandler) SendMessages(ctx *xhttp.RequestCtx) {
	var report *services.DispatchReport
	err := h.guard.RunExclusive(ctx, JobSendMessages, func(runCtx context.Context) error {
		var runErr error
		report, runErr = h.dispatch.DispatchPending(runCtx)
		return runErr
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}
