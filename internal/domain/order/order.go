package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
)

// Status is the fulfilment state of an order.
type Status string

// StatusPending is the state every order is created in.
const StatusPending Status = "pending"

// Order is an order produced from a completed checkout session. Addresses and
// monetary amounts are copied verbatim from the session.
type Order struct {
	ID               string
	SessionID        string
	BasketID         string
	CustomerID       string
	GuestEmail       string
	Status           Status
	ShippingAddress  address.Address
	BillingAddress   address.Address
	ShippingMethodID string
	PaymentMethodID  string
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	ShippingAmount   decimal.Decimal
	DiscountAmount   decimal.Decimal
	Total            decimal.Decimal
	CreatedAt        time.Time
}

// Item is a single order line.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}
