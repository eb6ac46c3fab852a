package checkout

import "github.com/go-faster/errors"

var (
	// ErrSessionNotFound is returned when no session has the requested id.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrSessionNotActive is returned when a mutation targets a session that
	// is completed, abandoned or expired.
	ErrSessionNotActive = errors.New("checkout session is not active")
	// ErrActiveSessionExists is returned by Store.Create when the basket
	// already has an active session.
	ErrActiveSessionExists = errors.New("basket already has an active checkout session")
	// ErrMethodUnavailable is returned when a shipping or payment method does
	// not exist or is disabled.
	ErrMethodUnavailable = errors.New("method not found or disabled")
	// ErrBasketRequired is returned when a session is started without a basket.
	ErrBasketRequired = errors.New("basket id is required")
)

// ErrorCode identifies a validation or commit failure.
type ErrorCode string

const (
	CodeSessionNotFound        ErrorCode = "SESSION_NOT_FOUND"
	CodeInvalidSessionStatus   ErrorCode = "INVALID_SESSION_STATUS"
	CodeSessionExpired         ErrorCode = "SESSION_EXPIRED"
	CodeMissingCustomerInfo    ErrorCode = "MISSING_CUSTOMER_INFO"
	CodeMissingShippingAddress ErrorCode = "MISSING_SHIPPING_ADDRESS"
	CodeMissingBillingAddress  ErrorCode = "MISSING_BILLING_ADDRESS"
	CodeMissingShippingMethod  ErrorCode = "MISSING_SHIPPING_METHOD"
	CodeMissingPaymentMethod   ErrorCode = "MISSING_PAYMENT_METHOD"
	CodeEmptyBasket            ErrorCode = "EMPTY_BASKET"
	CodeOrderCreationFailed    ErrorCode = "ORDER_CREATION_FAILED"
)

// ValidationError is a single failed check. Field is empty when the failure
// is not tied to one session field.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Field   string
}

// ValidationResult holds every failed check of a session.
type ValidationResult struct {
	IsValid bool
	Errors  []ValidationError
}

// Has reports whether the result contains an error with the given code.
func (r *ValidationResult) Has(code ErrorCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (r *ValidationResult) add(code ErrorCode, field, msg string) {
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: msg, Field: field})
}
