package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

func (h *Handler) listMethods(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		methods, err := h.methods.ListEnabled(r.Context(), kind)
		if err != nil {
			fail(w, r, err)
			return
		}
		respond(w, http.StatusOK, func(e *jx.Encoder) {
			e.ArrStart()
			for _, m := range methods {
				encodeMethod(e, m)
			}
			e.ArrEnd()
		})
	}
}

type createMethodRequest struct {
	ID          string `validate:"required,max=64"`
	Name        string `validate:"required,max=200"`
	Description string
	Type        string
	IsDefault   bool
	IsEnabled   bool
	SortOrder   int `validate:"gte=0"`
}

func (h *Handler) createMethod(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := createMethodRequest{IsEnabled: true}
		m := catalog.Method{}
		err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				return str(d, &req.ID)
			case "name":
				return str(d, &req.Name)
			case "description":
				return str(d, &req.Description)
			case "type":
				return str(d, &req.Type)
			case "price":
				return money(d, &m.Price)
			case "isDefault":
				v, err := d.Bool()
				req.IsDefault = v
				return err
			case "isEnabled":
				v, err := d.Bool()
				req.IsEnabled = v
				return err
			case "sortOrder":
				v, err := d.Int()
				req.SortOrder = v
				return err
			default:
				return d.Skip()
			}
		})
		if err != nil {
			fail(w, r, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			fail(w, r, invalid("id and name are required and sortOrder must not be negative"))
			return
		}

		m.ID = req.ID
		m.Name = req.Name
		m.Description = req.Description
		m.Type = req.Type
		m.IsDefault = req.IsDefault
		m.IsEnabled = req.IsEnabled
		m.SortOrder = req.SortOrder

		created, err := h.methods.Create(r.Context(), kind, m)
		if err != nil {
			fail(w, r, err)
			return
		}
		respond(w, http.StatusCreated, func(e *jx.Encoder) { encodeMethod(e, *created) })
	}
}

func (h *Handler) setDefaultMethod(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.methods.SetDefault(r.Context(), kind, chi.URLParam(r, "methodId")); err != nil {
			fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) deleteMethod(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.methods.Delete(r.Context(), kind, chi.URLParam(r, "methodId")); err != nil {
			fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
