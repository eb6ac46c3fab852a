package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/tax"
)

const maxBodyBytes = 64 << 10

// decodeBody decodes the JSON object in r's body, calling field for each key.
// Unknown keys must be skipped by field.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return invalid("request body too large or unreadable")
	}
	if len(b) == 0 {
		return invalid("request body is required")
	}
	d := jx.DecodeBytes(b)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		var br *badRequest
		if errors.As(err, &br) {
			return err
		}
		return invalid("malformed JSON: " + err.Error())
	}
	return nil
}

// str decodes a string, treating null as empty.
func str(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	*dst = strings.TrimSpace(v)
	return nil
}

// money decodes a JSON number or numeric string.
func money(d *jx.Decoder, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		raw = n.String()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		raw = v
	default:
		return invalid("price must be a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return invalid("price must be a number")
	}
	*dst = v
	return nil
}

func decodeAddress(w http.ResponseWriter, r *http.Request) (address.Address, error) {
	var a address.Address
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "firstName":
			return str(d, &a.FirstName)
		case "lastName":
			return str(d, &a.LastName)
		case "company":
			return str(d, &a.Company)
		case "addressLine1":
			return str(d, &a.AddressLine1)
		case "addressLine2":
			return str(d, &a.AddressLine2)
		case "city":
			return str(d, &a.City)
		case "region":
			return str(d, &a.Region)
		case "postalCode":
			return str(d, &a.PostalCode)
		case "country":
			return str(d, &a.Country)
		case "phone":
			return str(d, &a.Phone)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return a, err
	}
	if missing := a.MissingFields(); len(missing) > 0 {
		return a, &badRequest{code: "INVALID_ADDRESS", msg: "address is missing " + strings.Join(missing, ", ")}
	}
	return a, nil
}

func encodeMoney(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptStr(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	if v == "" {
		e.Null()
		return
	}
	e.Str(v)
}

func encodeAddress(e *jx.Encoder, field string, a *address.Address) {
	e.FieldStart(field)
	if a == nil {
		e.Null()
		return
	}
	e.ObjStart()
	for _, f := range []struct{ name, value string }{
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"company", a.Company},
		{"addressLine1", a.AddressLine1},
		{"addressLine2", a.AddressLine2},
		{"city", a.City},
		{"region", a.Region},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if f.value == "" {
			continue
		}
		e.FieldStart(f.name)
		e.Str(f.value)
	}
	e.ObjEnd()
}

func encodeSession(e *jx.Encoder, s *checkout.Session) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("basketId")
	e.Str(s.BasketID)
	encodeOptStr(e, "customerId", s.CustomerID)
	encodeOptStr(e, "guestEmail", s.GuestEmail)
	encodeAddress(e, "shippingAddress", s.ShippingAddress)
	encodeAddress(e, "billingAddress", s.BillingAddress)
	encodeOptStr(e, "shippingMethodId", s.ShippingMethodID)
	encodeOptStr(e, "paymentMethodId", s.PaymentMethodID)
	encodeMoney(e, "subtotal", s.Totals.Subtotal)
	encodeMoney(e, "taxAmount", s.Totals.Tax)
	encodeMoney(e, "shippingAmount", s.Totals.Shipping)
	encodeMoney(e, "discountAmount", s.Totals.Discount)
	encodeMoney(e, "total", s.Totals.Total)
	e.FieldStart("taxDegraded")
	e.Bool(s.Totals.TaxDegraded)
	e.FieldStart("status")
	e.Str(string(s.Status))
	encodeTime(e, "expiresAt", s.ExpiresAt)
	e.FieldStart("completedAt")
	if s.CompletedAt == nil {
		e.Null()
	} else {
		e.Str(s.CompletedAt.UTC().Format(time.RFC3339))
	}
	encodeTime(e, "createdAt", s.CreatedAt)
	encodeTime(e, "updatedAt", s.UpdatedAt)
	e.ObjEnd()
}

func encodeErrors(e *jx.Encoder, errs []checkout.ValidationError) {
	e.FieldStart("errors")
	e.ArrStart()
	for _, ve := range errs {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(string(ve.Code))
		e.FieldStart("message")
		e.Str(ve.Message)
		if ve.Field != "" {
			e.FieldStart("field")
			e.Str(ve.Field)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeValidation(e *jx.Encoder, res *checkout.ValidationResult) {
	e.ObjStart()
	e.FieldStart("isValid")
	e.Bool(res.IsValid)
	encodeErrors(e, res.Errors)
	e.ObjEnd()
}

func encodeOrderResult(e *jx.Encoder, res *checkout.OrderCreationResult) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(res.Success)
	if res.Success {
		e.FieldStart("orderId")
		e.Str(res.OrderID)
	} else {
		encodeErrors(e, res.Errors)
	}
	e.ObjEnd()
}

func encodeMethod(e *jx.Encoder, m catalog.Method) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(m.ID)
	e.FieldStart("kind")
	e.Str(string(m.Kind))
	e.FieldStart("name")
	e.Str(m.Name)
	if m.Description != "" {
		e.FieldStart("description")
		e.Str(m.Description)
	}
	encodeMoney(e, "price", m.Price)
	if m.Type != "" {
		e.FieldStart("type")
		e.Str(m.Type)
	}
	e.FieldStart("isDefault")
	e.Bool(m.IsDefault)
	e.FieldStart("isEnabled")
	e.Bool(m.IsEnabled)
	e.FieldStart("sortOrder")
	e.Int(m.SortOrder)
	e.ObjEnd()
}

func encodeBreakdown(e *jx.Encoder, entries []tax.BreakdownEntry) {
	e.FieldStart("breakdown")
	e.ArrStart()
	for _, b := range entries {
		e.ObjStart()
		e.FieldStart("taxRateId")
		e.Str(b.TaxRateID)
		e.FieldStart("name")
		e.Str(b.Name)
		e.FieldStart("rate")
		e.Num(jx.Num(b.Rate.String()))
		encodeMoney(e, "amount", b.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeBasketTax(e *jx.Encoder, bt *tax.BasketTax) {
	e.ObjStart()
	encodeMoney(e, "subtotal", bt.Subtotal)
	encodeMoney(e, "taxAmount", bt.TaxAmount)
	encodeMoney(e, "total", bt.Total)
	e.FieldStart("exempt")
	e.Bool(bt.Exempt)
	encodeBreakdown(e, bt.Breakdown)
	e.FieldStart("lineItemTaxes")
	e.ArrStart()
	for _, l := range bt.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		encodeMoney(e, "subtotal", l.Subtotal)
		encodeMoney(e, "taxAmount", l.TaxAmount)
		encodeMoney(e, "total", l.Total)
		e.FieldStart("exempt")
		e.Bool(l.Exempt)
		encodeBreakdown(e, l.Breakdown)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// respond encodes with enc and writes the result.
func respond(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	enc(e)
	writeJSON(w, status, e.Bytes())
}
