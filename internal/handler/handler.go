// Package handler exposes checkout, method catalog and tax quote operations
// over HTTP with a chi router and go-faster/jx codecs.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

// Sessions is the checkout session surface. *checkout.Manager implements it.
type Sessions interface {
	Start(ctx context.Context, basketID, customerID, guestEmail string) (*checkout.Session, error)
	Get(ctx context.Context, id string) (*checkout.Session, error)
	SetShippingAddress(ctx context.Context, id string, a address.Address) (*checkout.Session, error)
	SetBillingAddress(ctx context.Context, id string, a address.Address) (*checkout.Session, error)
	SetShippingMethod(ctx context.Context, id, methodID string) (*checkout.Session, error)
	SetPaymentMethod(ctx context.Context, id, methodID string) (*checkout.Session, error)
	CalculateOrderTotals(ctx context.Context, id string) (*checkout.Session, error)
	Validate(ctx context.Context, id string) (*checkout.ValidationResult, error)
	Abandon(ctx context.Context, id string) (*checkout.Session, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// Orders completes sessions. *checkout.Coordinator implements it.
type Orders interface {
	Complete(ctx context.Context, sessionID string) (*checkout.OrderCreationResult, error)
}

// Methods manages the method catalog. *catalog.Service implements it.
type Methods interface {
	ListEnabled(ctx context.Context, kind catalog.Kind) ([]catalog.Method, error)
	Create(ctx context.Context, kind catalog.Kind, m catalog.Method) (*catalog.Method, error)
	SetDefault(ctx context.Context, kind catalog.Kind, id string) error
	Delete(ctx context.Context, kind catalog.Kind, id string) error
}

// Authenticator resolves API keys. *auth.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Handler serves the checkout API.
type Handler struct {
	sessions Sessions
	orders   Orders
	methods  Methods
	taxes    tax.Calculator
	auth     Authenticator
	validate *validator.Validate
}

// NewHandler creates a Handler.
func NewHandler(sessions Sessions, orders Orders, methods Methods, taxes tax.Calculator, auth Authenticator) *Handler {
	return &Handler{
		sessions: sessions,
		orders:   orders,
		methods:  methods,
		taxes:    taxes,
		auth:     auth,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Mount registers the API routes under /api on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", h.startCheckout)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getSession)
				r.Put("/shipping-address", h.setAddress((Sessions).SetShippingAddress))
				r.Put("/billing-address", h.setAddress((Sessions).SetBillingAddress))
				r.Put("/shipping-method", h.setMethod((Sessions).SetShippingMethod))
				r.Put("/payment-method", h.setMethod((Sessions).SetPaymentMethod))
				r.Post("/totals", h.recalculateTotals)
				r.Get("/validation", h.validateSession)
				r.Post("/complete", h.completeCheckout)
				r.Post("/abandon", h.abandonCheckout)
			})
		})

		for _, kind := range []catalog.Kind{catalog.KindShipping, catalog.KindPayment} {
			r.Get("/"+string(kind)+"-methods", h.listMethods(kind))
		}
		r.Get("/tax/baskets/{basketId}", h.taxQuote)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/checkout/cleanup", h.cleanupExpired)
			for _, kind := range []catalog.Kind{catalog.KindShipping, catalog.KindPayment} {
				prefix := "/" + string(kind) + "-methods"
				r.Post(prefix, h.createMethod(kind))
				r.Put(prefix+"/{methodId}/default", h.setDefaultMethod(kind))
				r.Delete(prefix+"/{methodId}", h.deleteMethod(kind))
			}
		})
	})
}

// Router returns a chi router serving the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
