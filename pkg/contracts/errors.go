package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind is the boundary classification of a failure. Internals wrap and
// propagate ordinary errors; the API layer maps them to kinds exactly once.
type ErrorKind string

// Error kind constants.
const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindNoViableProviders ErrorKind = "no_viable_providers"
	KindPolicyReject      ErrorKind = "policy_reject"
	KindAlreadyFinalized  ErrorKind = "already_finalized"
	KindUnknownDecision   ErrorKind = "unknown_decision"
	KindUpstreamTimeout   ErrorKind = "upstream_timeout"
	KindConflict          ErrorKind = "conflict"
	KindCorruption        ErrorKind = "corruption"
	KindInternal          ErrorKind = "internal"
)

// Sentinel errors matched with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoViableProviders = errors.New("no viable providers")
	ErrPolicyReject      = errors.New("policy reject")
	ErrAlreadyFinalized  = errors.New("decision already finalized")
	ErrUnknownDecision   = errors.New("unknown decision")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrConflict          = errors.New("conflict")
	ErrCorruption        = errors.New("corruption detected")
	ErrPoisonedReward    = errors.New("non-finite reward")
	ErrAbandoned         = errors.New("decision abandoned")
)

// PolicyRejectError carries the module's reason for a hard reject.
type PolicyRejectError struct {
	Reason string
}

func (e *PolicyRejectError) Error() string {
	return fmt.Sprintf("policy reject: %s", e.Reason)
}

// Is lets errors.Is(err, ErrPolicyReject) match.
func (e *PolicyRejectError) Is(target error) bool {
	return target == ErrPolicyReject
}

// ConflictError surfaces a federation id collision with both sides named.
type ConflictError struct {
	ID        string
	WinnerRef string
	LoserRef  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: winner %s, loser %s", e.ID, e.WinnerRef, e.LoserRef)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// KindOf classifies an error for the API boundary. Unrecognized errors are
// internal; they must not leak detail to callers.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNoViableProviders):
		return KindNoViableProviders
	case errors.Is(err, ErrPolicyReject):
		return KindPolicyReject
	case errors.Is(err, ErrAlreadyFinalized):
		return KindAlreadyFinalized
	case errors.Is(err, ErrUnknownDecision), errors.Is(err, ErrAbandoned):
		return KindUnknownDecision
	case errors.Is(err, ErrUpstreamTimeout):
		return KindUpstreamTimeout
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrCorruption):
		return KindCorruption
	default:
		return KindInternal
	}
}
