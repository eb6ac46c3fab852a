package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// taxQuote computes the basket's tax for the jurisdiction in the query
// without touching any session.
func (h *Handler) taxQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	j := tax.Jurisdiction{
		Country:    strings.TrimSpace(q.Get("country")),
		Region:     strings.TrimSpace(q.Get("region")),
		PostalCode: strings.TrimSpace(q.Get("postalCode")),
	}
	if j.Country == "" {
		fail(w, r, invalid("country is required"))
		return
	}

	bt, err := h.taxes.CalculateBasketTax(r.Context(), chi.URLParam(r, "basketId"), j, q.Get("customerId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeBasketTax(e, bt) })
}
