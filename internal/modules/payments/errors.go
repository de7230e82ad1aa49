package payments

import (
	"errors"

	"rentbridge.com/app/internal/shared/apperr"
)

var (
	ErrPaymentNotFound = apperr.NotFoundErr("Payment not found.")
	ErrLeaseNotFound   = apperr.NotFoundErr("Lease not found.")
	ErrLeaseNotActive  = apperr.ConflictErr("Lease is not approved.")
	ErrPaymentExists   = apperr.ConflictErr("A payment already exists for this lease.")
	ErrAlreadyPaid     = apperr.ConflictErr("Payment already completed.")
	ErrNotInEscrow     = apperr.ConflictErr("Payment is not held in escrow.")
	ErrForbidden       = apperr.ForbiddenErr("Forbidden.")
)

// Reconciler failures. These make the webhook answer 5xx so the processor redelivers.
var (
	ErrMissingPaymentRef = errors.New("webhook metadata missing paymentId")
	ErrBadPaymentRef     = errors.New("webhook metadata paymentId is not a valid id")
)

func invalidAmount(field string) error {
	return apperr.InvalidErr("Invalid amount.", map[string]string{field: "must be greater than 0 with at most 2 decimal places"})
}

// Forbid turns a missing payment or lease into ErrForbidden, so a caller who
// is not a party sees the same answer for unknown and existing ids.
func Forbid(err error) error {
	if apperr.Is(err, apperr.NotFound) {
		return ErrForbidden
	}
	return err
}
