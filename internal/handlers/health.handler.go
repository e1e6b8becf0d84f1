package handlers

import (
	xhttp "github.com/careroute/referral-engine/pkg/http"
	"github.com/fasthttp/router"
)

type HealthChecker interface {
	Healthy() error
}

type HealthHandler struct {
	check HealthChecker
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(check HealthChecker) *HealthHandler {
	return &HealthHandler{check: check}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	if h.check != nil {
		if err := h.check.Healthy(); err != nil {
			writeError(ctx, xhttp.StatusInternalServerError, "Unhealthy", err.Error())
			return
		}
	}
	ctx.Response.SetBodyString("success")
}
