package service

import (
	"errors"
	"net/http"

	"github.com/PierreRoudaut/checkout-api/cache"
)

// ErrorKind identifies an expected, caller-facing failure.
type ErrorKind string

const (
	InvalidQuantity  ErrorKind = "invalid_quantity"
	InvalidProduct   ErrorKind = "invalid_product"
	DuplicateName    ErrorKind = "duplicate_name"
	ProductNotFound  ErrorKind = "product_not_found"
	QuantityExceeded ErrorKind = "quantity_exceeded"
	CartNotFound     ErrorKind = "cart_not_found"
	ProductNotInCart ErrorKind = "product_not_in_cart"
)

// OpError is a recoverable operation failure carrying a machine-checkable kind.
// The HTTP layer translates it with StatusCode; the services themselves know
// nothing about HTTP.
type OpError struct {
	Kind    ErrorKind
	Message string
}

func (e *OpError) Error() string { return e.Message }

// StatusCode maps the kind to its boundary class. ProductNotFound is 404 on
// every path (a single policy, see DESIGN.md).
func (e *OpError) StatusCode() int {
	switch e.Kind {
	case ProductNotFound, CartNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func opErr(kind ErrorKind, msg string) *OpError {
	return &OpError{Kind: kind, Message: msg}
}

// reservationError translates cache sentinels into operation errors.
func reservationError(err error) error {
	switch {
	case errors.Is(err, cache.ErrProductNotFound):
		return opErr(ProductNotFound, "Product does not exist")
	case errors.Is(err, cache.ErrQuantityExceeded):
		return opErr(QuantityExceeded, "Quantity too large requested")
	default:
		return err
	}
}
