package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// badRequest is a malformed or incomplete request body or query.
type badRequest struct {
	code string
	msg  string
}

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error {
	return &badRequest{code: "BAD_REQUEST", msg: msg}
}

// fail maps err to a status and {code,message} body. Unknown errors are
// logged and reported as INTERNAL without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, code, msg)
}

func classify(err error) (status int, code, msg string) {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, br.code, br.msg
	case errors.Is(err, checkout.ErrSessionNotFound):
		return http.StatusNotFound, string(checkout.CodeSessionNotFound), "Checkout session not found"
	case errors.Is(err, checkout.ErrSessionNotActive):
		return http.StatusConflict, string(checkout.CodeInvalidSessionStatus), "Checkout session is not active"
	case errors.Is(err, checkout.ErrMethodUnavailable):
		return http.StatusNotFound, "METHOD_NOT_FOUND", "Method not found or disabled"
	case errors.Is(err, checkout.ErrBasketRequired):
		return http.StatusBadRequest, "BAD_REQUEST", "basketId is required"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "METHOD_NOT_FOUND", "Method not found"
	case errors.Is(err, catalog.ErrInvalidMethod):
		return http.StatusBadRequest, "INVALID_METHOD", err.Error()
	case errors.Is(err, catalog.ErrMethodDisabled),
		errors.Is(err, catalog.ErrLastMethod),
		errors.Is(err, catalog.ErrDefaultMethod):
		return http.StatusConflict, "METHOD_CONFLICT", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal server error"
	}
}
