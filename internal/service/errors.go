package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for variants that need no parameters.
var (
	// ErrInvalidAmount means a non-positive amount was passed.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds means the source balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotOwner means the caller does not own the card in question.
	ErrNotOwner = errors.New("requester does not own the card")
	// ErrDuplicateRequest means a PENDING block request already exists.
	ErrDuplicateRequest = errors.New("a pending block request already exists for this card")
	// ErrNoPendingRequest means there is no PENDING block request to resolve.
	ErrNoPendingRequest = errors.New("no pending block request for this card")
	// ErrIssuanceExhausted means PAN generation kept colliding past the
	// attempt ceiling.
	ErrIssuanceExhausted = errors.New("card issuance exhausted retry attempts")
	// ErrOwnerDeleted means the projection row exists but the customer is gone.
	ErrOwnerDeleted = errors.New("owner has been deleted upstream")
	// ErrSelfTransfer means source and destination are the same card.
	ErrSelfTransfer = errors.New("cannot transfer to the same card")
)

// NotFoundError names the missing entity and its identifier. One
// parameterized kind replaces a per-entity error type.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError for any id type.
func NotFound(entity string, id interface{}) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// CardBlockedError names the card that blocked the operation.
type CardBlockedError struct {
	CardID uint64
}

func (e *CardBlockedError) Error() string {
	return fmt.Sprintf("card %d is blocked", e.CardID)
}

// StatusNotConfiguredError marks a missing lookup row. This is a deployment
// defect, not a user error; the caller should surface it as a 5xx.
type StatusNotConfiguredError struct {
	Status string
}

func (e *StatusNotConfiguredError) Error() string {
	return fmt.Sprintf("card status %q is not configured", e.Status)
}
