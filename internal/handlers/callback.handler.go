package handlers

import (
	"context"

	"github.com/careroute/referral-engine/internal/model"
	xhttp "github.com/careroute/referral-engine/pkg/http"
	"github.com/fasthttp/router"
)

type ReconcileService interface {
	Reconcile(ctx context.Context, cb *model.DeliveryCallback) error
}

type CallbackHandler struct {
	svc ReconcileService
}

func RegisterCallbackRoutes(e *router.Group, h *CallbackHandler) {
	e.POST("/Callback", h.Callback)
}

func NewCallbackHandler(svc ReconcileService) *CallbackHandler {
	return &CallbackHandler{svc: svc}
}

// Callback receives a delivery status from the gateway. The gateway retries
// on anything but 2xx, so only genuinely invalid callbacks are rejected;
// duplicates and stale reports are acknowledged.
func (h *CallbackHandler) Callback(ctx *xhttp.RequestCtx) {
	var cb model.DeliveryCallback
	if err := readJSON(ctx, &cb); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidBody", "invalid JSON: "+err.Error())
		return
	}
	if cb.Reference == "" {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidBody", "reference is required")
		return
	}

	if err := h.svc.Reconcile(ctx, &cb); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "ok"})
}
