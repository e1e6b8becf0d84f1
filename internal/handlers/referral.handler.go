package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/careroute/referral-engine/internal/model"
	xhttp "github.com/careroute/referral-engine/pkg/http"
	"github.com/fasthttp/router"
)

type ReferralService interface {
	Create(ctx context.Context, p model.ReferralCreateRequest) (*model.Referral, error)
	Get(ctx context.Context, id int64) (*model.Referral, error)
	List(ctx context.Context, f model.ReferralFilter) ([]*model.Referral, int64, error)
	Messages(ctx context.Context, id int64) ([]*model.OutboundMessage, error)
	ChangeStatus(ctx context.Context, id int64, target model.ReferralStatus, reason, modifiedBy string) (*model.Referral, error)
	AssignProvider(ctx context.Context, id int64, providerID int64, modifiedBy string) (*model.Referral, error)
	Deactivate(ctx context.Context, id int64, modifiedBy string) error
}

type ReferralHandler struct {
	svc ReferralService
}

func RegisterReferralRoutes(e *router.Group, h *ReferralHandler) {
	e.POST("/referrals", h.CreateReferral)
	e.GET("/referrals", h.ListReferrals)
	e.GET("/referrals/{id}", h.GetReferral)
	e.GET("/referrals/{id}/messages", h.ListReferralMessages)
	e.PUT("/referrals/{id}/status", h.ChangeStatus)
	e.PUT("/referrals/{id}/provider", h.AssignProvider)
	e.DELETE("/referrals/{id}", h.DeactivateReferral)
}

func NewReferralHandler(svc ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

type createReferralRequest struct {
	UBRN      string `json:"ubrn"`
	Source    string `json:"source"`
	Mobile    string `json:"mobile"`
	Telephone string `json:"telephone"`
	Email     string `json:"email"`
}

type changeStatusRequest struct {
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	ModifiedBy string `json:"modified_by"`
}

type assignProviderRequest struct {
	ProviderID int64  `json:"provider_id"`
	ModifiedBy string `json:"modified_by"`
}

type listReferralsResponse struct {
	Items []*model.Referral `json:"items"`
	Total int64             `json:"total"`
}

func (h *ReferralHandler) CreateReferral(ctx *xhttp.RequestCtx) {
	var req createReferralRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidBody", "invalid JSON: "+err.Error())
		return
	}

	created, err := h.svc.Create(ctx, model.ReferralCreateRequest{
		UBRN:      req.UBRN,
		Source:    model.ReferralSource(req.Source),
		Mobile:    req.Mobile,
		Telephone: req.Telephone,
		Email:     req.Email,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, created)
}

func (h *ReferralHandler) GetReferral(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidId", "id must be a positive integer")
		return
	}

	ref, err := h.svc.Get(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, ref)
}

func (h *ReferralHandler) ListReferrals(ctx *xhttp.RequestCtx) {
	var f model.ReferralFilter

	if v := query(ctx, "status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				f.Statuses = append(f.Statuses, model.ReferralStatus(part))
			}
		}
	}
	if v := query(ctx, "ubrn"); v != "" {
		f.UBRN = &v
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listReferralsResponse{Items: items, Total: total})
}

func (h *ReferralHandler) ListReferralMessages(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidId", "id must be a positive integer")
		return
	}

	msgs, err := h.svc.Messages(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": msgs})
}

func (h *ReferralHandler) ChangeStatus(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidId", "id must be a positive integer")
		return
	}
	var req changeStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidBody", "invalid JSON: "+err.Error())
		return
	}
	if req.ModifiedBy == "" {
		req.ModifiedBy = "api"
	}

	updated, err := h.svc.ChangeStatus(ctx, id, model.ReferralStatus(req.Status), req.Reason, req.ModifiedBy)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, updated)
}

func (h *ReferralHandler) AssignProvider(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidId", "id must be a positive integer")
		return
	}
	var req assignProviderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidBody", "invalid JSON: "+err.Error())
		return
	}
	if req.ProviderID <= 0 {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidProvider", "provider_id must be a positive integer")
		return
	}
	if req.ModifiedBy == "" {
		req.ModifiedBy = "api"
	}

	updated, err := h.svc.AssignProvider(ctx, id, req.ProviderID, req.ModifiedBy)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, updated)
}

func (h *ReferralHandler) DeactivateReferral(ctx *xhttp.RequestCtx) {
	id, ok := pathInt64(ctx, "id")
	if !ok {
		writeError(ctx, xhttp.StatusBadRequest, "InvalidId", "id must be a positive integer")
		return
	}

	if err := h.svc.Deactivate(ctx, id, "api"); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "deactivated"})
}
