package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/careroute/referral-engine/internal/apperr"
	xhttp "github.com/careroute/referral-engine/pkg/http"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusFromError maps an error kind to its transport status. This is the
// only place business errors meet HTTP codes.
func statusFromError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return xhttp.StatusNotFound
	case apperr.KindValidation:
		return xhttp.StatusBadRequest
	case apperr.KindConflict, apperr.KindStale:
		return xhttp.StatusConflict
	default:
		return xhttp.StatusInternalServerError
	}
}

func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	body := errorBody{Code: "Unexpected", Message: "internal error"}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Code = e.Code
		body.Fields = e.Fields
		if e.Kind != apperr.KindUnexpected {
			body.Message = e.Message
		}
	}
	writeJSON(ctx, statusFromError(err), map[string]errorBody{"error": body})
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, code, msg string) {
	writeJSON(ctx, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, bool) {
	v, ok := ctx.UserValue(name).(string)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
