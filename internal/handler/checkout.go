package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

type startRequest struct {
	BasketID   string `validate:"required"`
	CustomerID string
	GuestEmail string `validate:"omitempty,email"`
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "basketId":
			return str(d, &req.BasketID)
		case "customerId":
			return str(d, &req.CustomerID)
		case "guestEmail":
			return str(d, &req.GuestEmail)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(w, r, invalid("basketId is required and guestEmail must be a valid email"))
		return
	}

	s, err := h.sessions.Start(r.Context(), req.BasketID, req.CustomerID, req.GuestEmail)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, func(e *jx.Encoder) { encodeSession(e, s) })
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, s, err)
}

func (h *Handler) setAddress(
	set func(s Sessions, ctx context.Context, id string, a address.Address) (*checkout.Session, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := decodeAddress(w, r)
		if err != nil {
			fail(w, r, err)
			return
		}
		s, err := set(h.sessions, r.Context(), chi.URLParam(r, "id"), a)
		h.writeSession(w, r, s, err)
	}
}

func (h *Handler) setMethod(
	set func(s Sessions, ctx context.Context, id, methodID string) (*checkout.Session, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var methodID string
		err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
			if key == "methodId" {
				return str(d, &methodID)
			}
			return d.Skip()
		})
		if err == nil && methodID == "" {
			err = invalid("methodId is required")
		}
		if err != nil {
			fail(w, r, err)
			return
		}
		s, err := set(h.sessions, r.Context(), chi.URLParam(r, "id"), methodID)
		h.writeSession(w, r, s, err)
	}
}

func (h *Handler) recalculateTotals(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.CalculateOrderTotals(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, s, err)
}

func (h *Handler) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Abandon(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, s, err)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, s *checkout.Session, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, s) })
}

// validateSession always returns the punch-list; an unknown session is 404.
func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.sessions.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Has(checkout.CodeSessionNotFound) {
		status = http.StatusNotFound
	}
	respond(w, status, func(e *jx.Encoder) { encodeValidation(e, res) })
}

func (h *Handler) completeCheckout(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	switch {
	case res.Success:
	case hasCode(res.Errors, checkout.CodeSessionNotFound):
		status = http.StatusNotFound
	case hasCode(res.Errors, checkout.CodeOrderCreationFailed):
		status = http.StatusInternalServerError
	default:
		status = http.StatusUnprocessableEntity
	}
	respond(w, status, func(e *jx.Encoder) { encodeOrderResult(e, res) })
}

func hasCode(errs []checkout.ValidationError, code checkout.ErrorCode) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (h *Handler) cleanupExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.CleanupExpired(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("expired")
		e.Int64(n)
		e.ObjEnd()
	})
}
