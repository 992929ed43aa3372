// Package approval holds the line-item approval rules: who may move an item
// between states, what the item becomes, and when a stage signs the document.
// Everything here is pure; callers own loading, locking and persistence.
package approval

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// Action is an intended item transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionAdvance Action = "advance_to_review"
)

// ParseAction validates an action label.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionApprove, ActionReject, ActionAdvance:
		return a, nil
	}
	return "", Validation(ReasonMalformedAction, fmt.Sprintf("unknown action %q", s))
}

// needsRemark reports whether the action must carry a remark.
func (a Action) needsRemark() bool {
	return a == ActionApprove || a == ActionReject
}

// Decision is the outcome of a legal transition.
type Decision struct {
	ItemID     string
	From       repository.Status
	To         repository.Status
	ActingRole Role
	Signings   []repository.SigningRole
}

// Decide evaluates one intended transition against a requisition snapshot.
// It never mutates req. Illegal transitions return a *RuleError.
func Decide(actor Actor, req *repository.Requisition, itemID string, action Action, remark string) (*Decision, error) {
	if err := actor.Validate(); err != nil {
		return nil, Validation(ReasonInvalidActor, err.Error())
	}
	switch action {
	case ActionApprove, ActionReject, ActionAdvance:
	default:
		return nil, Validation(ReasonMalformedAction, fmt.Sprintf("unknown action %q", action))
	}
	if action.needsRemark() && strings.TrimSpace(remark) == "" {
		return nil, Validation(ReasonMissingRemark, "a remark is required to approve or reject an item")
	}

	item := req.Item(itemID)
	if item == nil {
		return nil, Validation(ReasonUnknownItem, fmt.Sprintf("item %q is not part of requisition %q", itemID, req.ID))
	}

	if !item.Status.Valid() {
		return nil, Validation(ReasonUnknownStatus, fmt.Sprintf("item %q has unknown status %q", itemID, item.Status))
	}
	if item.Status.Terminal() {
		return nil, State(ReasonAlreadyProcessed, fmt.Sprintf("item %q is already processed (%s)", itemID, item.Status))
	}
	if action == ActionAdvance && item.Status == repository.StatusPendingTR {
		return nil, State(ReasonAlreadyInReview, fmt.Sprintf("item %q is already in technical review", itemID))
	}

	role, ok := actor.actingRole(item.Status)
	if !ok {
		required, _ := stageRole(item.Status)
		return nil, Authorization(fmt.Sprintf("role %s or %s is required to act on a %s item", required, RoleAdmin, item.Status))
	}

	to, err := nextStatus(item, action)
	if err != nil {
		return nil, err
	}

	return &Decision{
		ItemID:     itemID,
		From:       item.Status,
		To:         to,
		ActingRole: role,
		Signings:   signings(req, item, to, role),
	}, nil
}

// nextStatus applies the decision table to an item that is known to be
// non-terminal and actionable by the actor.
func nextStatus(item *repository.LineItem, action Action) (repository.Status, error) {
	switch item.Status {
	case repository.StatusPending:
		if item.RequiresReview {
			if action != ActionAdvance {
				return "", State(ReasonMustAdvanceFirst,
					fmt.Sprintf("item %q requires technical review; advance it to review first", item.ID))
			}
			return repository.StatusPendingTR, nil
		}
		if action == ActionAdvance {
			return "", State(ReasonRoutingMismatch,
				fmt.Sprintf("item %q does not require technical review", item.ID))
		}
		return terminalFor(action), nil

	case repository.StatusPendingTR:
		if !item.RequiresReview {
			// Only reachable through corrupted data; refuse rather than finish it.
			return "", State(ReasonRoutingMismatch,
				fmt.Sprintf("item %q is in technical review but its tag does not require it", item.ID))
		}
		return terminalFor(action), nil
	}

	return "", Validation(ReasonUnknownStatus, fmt.Sprintf("item %q has unknown status %q", item.ID, item.Status))
}

func terminalFor(action Action) repository.Status {
	if action == ActionReject {
		return repository.StatusRejected
	}
	return repository.StatusApproved
}

// signings returns the stages whose pool the transition empties. The stage
// the item leaves always counts, so advancing the last pending item signs HOD
// even though the item moves on to review. An admin also closes the other
// stage when its pool is empty after the transition, but only the review
// stage of a requisition that has review items. Stages already signed are
// skipped.
func signings(req *repository.Requisition, item *repository.LineItem, to repository.Status, role Role) []repository.SigningRole {
	after := req.Clone()
	after.Item(item.ID).Status = to

	var out []repository.SigningRole
	add := func(s repository.SigningRole, pool repository.Status) {
		if req.Signed(s) || countStatus(after, pool) > 0 {
			return
		}
		out = append(out, s)
	}

	from := item.Status
	switch from {
	case repository.StatusPending:
		add(repository.SigningHOD, repository.StatusPending)
		if role == RoleAdmin && hasReviewItems(req) {
			add(repository.SigningTR, repository.StatusPendingTR)
		}
	case repository.StatusPendingTR:
		if role == RoleAdmin {
			add(repository.SigningHOD, repository.StatusPending)
		}
		add(repository.SigningTR, repository.StatusPendingTR)
	}
	return out
}

// hasReviewItems reports whether any item is routed through technical review.
// Without one the review stage has nothing to sign for.
func hasReviewItems(req *repository.Requisition) bool {
	for _, it := range req.Items {
		if it.RequiresReview {
			return true
		}
	}
	return false
}

func countStatus(req *repository.Requisition, s repository.Status) int {
	n := 0
	for _, it := range req.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// Selectable returns the IDs of items the actor could act on right now,
// in item order. Terminal items are never selectable.
func Selectable(actor Actor, req *repository.Requisition) []string {
	ids := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Status.Terminal() {
			continue
		}
		if _, ok := actor.actingRole(it.Status); ok {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// AwaitingRole names the role expected to act next on an item in status s,
// or "" when the item is terminal.
func AwaitingRole(s repository.Status) string {
	role, _ := stageRole(s)
	return string(role)
}
