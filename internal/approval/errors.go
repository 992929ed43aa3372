package approval

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies why a transition was refused.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
)

// Reason is a stable machine-readable refusal code.
type Reason string

const (
	ReasonMalformedAction  Reason = "malformed_action"
	ReasonMissingRemark    Reason = "missing_remark"
	ReasonUnknownItem      Reason = "unknown_item"
	ReasonUnknownStatus    Reason = "unknown_status"
	ReasonInvalidActor     Reason = "invalid_actor"
	ReasonUnauthorizedRole Reason = "unauthorized_role"
	ReasonAlreadyProcessed Reason = "already_processed"
	ReasonAlreadyInReview  Reason = "already_in_review"
	ReasonMustAdvanceFirst Reason = "must_advance_first"
	ReasonRoutingMismatch  Reason = "routing_mismatch"
)

// RuleError is returned by Decide when a transition is not allowed.
type RuleError struct {
	Kind    Kind
	Reason  Reason
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Validation(reason Reason, msg string) *RuleError {
	return &RuleError{Kind: KindValidation, Reason: reason, Message: msg}
}

func Authorization(msg string) *RuleError {
	return &RuleError{Kind: KindAuthorization, Reason: ReasonUnauthorizedRole, Message: msg}
}

func State(reason Reason, msg string) *RuleError {
	return &RuleError{Kind: KindState, Reason: reason, Message: msg}
}

// AsRuleError extracts a *RuleError from err's chain.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}
