package service

import (
	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// Outcome is what happened to one item of a request.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSkipped   Outcome = "skipped"
)

// Failure describes why an item was not transitioned.
type Failure struct {
	Kind    approval.Kind   `json:"kind"`
	Reason  approval.Reason `json:"reason"`
	Message string          `json:"message"`
}

func failureFrom(re *approval.RuleError) *Failure {
	return &Failure{Kind: re.Kind, Reason: re.Reason, Message: re.Message}
}

// ItemOutcome is the per-item part of a transition result.
type ItemOutcome struct {
	ItemID   string                   `json:"item_id"`
	Outcome  Outcome                  `json:"outcome"`
	Failure  *Failure                 `json:"failure,omitempty"`
	From     repository.Status        `json:"from,omitempty"`
	To       repository.Status        `json:"to,omitempty"`
	Signings []repository.SigningRole `json:"signings,omitempty"`
}

// RequisitionView is a requisition snapshot with its derived summary.
type RequisitionView struct {
	Requisition *repository.Requisition
	Summary     approval.Summary
}

func newView(req *repository.Requisition) *RequisitionView {
	return &RequisitionView{Requisition: req, Summary: approval.Summarize(req)}
}

// ItemResult is returned by ApplyItem. Refused transitions are reported
// through Outcome and Failure, never as an error.
type ItemResult struct {
	ItemOutcome
	*RequisitionView
}

// BatchResult is returned by ApplyBulk. Items are reported in request order.
type BatchResult struct {
	Items []ItemOutcome
	*RequisitionView
}

// Count returns how many items ended with outcome o.
func (b *BatchResult) Count(o Outcome) int {
	n := 0
	for _, it := range b.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// PendingEntry is one dashboard row: a requisition and the items the actor
// can act on now.
type PendingEntry struct {
	*RequisitionView
	Selectable []string
}
