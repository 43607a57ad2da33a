package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrServiceBusy   = errors.New("service busy")
	ErrServiceError  = errors.New("service error")
)

// RejectReason is a typed validation-rejection code. Rejections are expected
// outcomes: they are logged, returned to the caller, and never crash the
// engine.
type RejectReason string

const (
	RejectWrongPhase        RejectReason = "wrong_phase"
	RejectWrongLot          RejectReason = "wrong_lot"
	RejectBelowIncrement    RejectReason = "below_increment"
	RejectAlreadyHighest    RejectReason = "already_highest"
	RejectInsufficientPurse RejectReason = "insufficient_purse"
	RejectOutbid            RejectReason = "outbid"
	RejectInvalidTransition RejectReason = "invalid_transition"
	RejectInvalidTrade      RejectReason = "invalid_trade"
	RejectNothingToUndo     RejectReason = "nothing_to_undo"
)

// Rejection is a validation failure returned to the submitting client.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Reject builds a Rejection with a formatted detail message.
func Reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// InvariantViolation marks a state transition that would break a core
// engine invariant (two active lots, negative purse, squad overflow). These
// are treated as fatal bugs: the transition is refused and the violation is
// raised for operator attention rather than silently repaired.
type InvariantViolation struct {
	AuctionID string
	Detail    string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in auction %s: %s", v.AuctionID, v.Detail)
}

// Invariant builds an InvariantViolation with a formatted detail message.
func Invariant(auctionID, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{AuctionID: auctionID, Detail: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is an InvariantViolation.
func IsInvariant(err error) bool {
	var v *InvariantViolation
	return errors.As(err, &v)
}
