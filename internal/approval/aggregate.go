package approval

import "github.com/pesio-ai/be-proc-requisitions/internal/repository"

// Label is the document-level state later stages key off.
type Label string

const (
	LabelOnHold            Label = "on_hold"
	LabelOnHoldForTR       Label = "on_hold_for_tr"
	LabelCompletedReview   Label = "completed_review"
	LabelReadyForNextStage Label = "ready_for_next_stage"
)

// Summary is derived from the item ledger on every read; it is never stored.
type Summary struct {
	Total       int                       `json:"total"`
	Counts      map[repository.Status]int `json:"counts"`
	HODComplete bool                      `json:"hod_complete"`
	TRComplete  bool                      `json:"tr_complete"`
	HODSigned   bool                      `json:"hod_signed"`
	TRSigned    bool                      `json:"tr_signed"`
	Label       Label                     `json:"label"`
}

// Summarize aggregates a requisition's item statuses.
//
// A requisition is on hold while any item awaits HOD review, on hold for
// technical review while any item awaits a reviewer, ready for the next stage
// once review is over with at least one approved item, and otherwise (every
// item rejected) merely completed.
func Summarize(req *repository.Requisition) Summary {
	counts := make(map[repository.Status]int, len(repository.Statuses))
	for _, s := range repository.Statuses {
		counts[s] = 0
	}
	for _, it := range req.Items {
		counts[it.Status]++
	}

	sum := Summary{
		Total:       len(req.Items),
		Counts:      counts,
		HODComplete: counts[repository.StatusPending] == 0,
		TRComplete:  counts[repository.StatusPendingTR] == 0,
		HODSigned:   req.Signed(repository.SigningHOD),
		TRSigned:    req.Signed(repository.SigningTR),
	}

	switch {
	case !sum.HODComplete:
		sum.Label = LabelOnHold
	case !sum.TRComplete:
		sum.Label = LabelOnHoldForTR
	case counts[repository.StatusApproved]+counts[repository.StatusApprovedTR] > 0:
		sum.Label = LabelReadyForNextStage
	default:
		sum.Label = LabelCompletedReview
	}
	return sum
}
