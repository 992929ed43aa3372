package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
	"github.com/pesio-ai/be-proc-requisitions/internal/locker"
	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// WorkflowService runs the line-item approval workflow: it serializes
// mutations per requisition, asks the approval engine for a decision, commits
// it, and publishes the resulting events.
type WorkflowService struct {
	store      RequisitionStore
	tags       TagStore
	locker     locker.Locker
	publishers []Publisher
	log        *logger.Logger
	now        func() time.Time
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	store RequisitionStore,
	tags TagStore,
	lk locker.Locker,
	log *logger.Logger,
	publishers ...Publisher,
) *WorkflowService {
	return &WorkflowService{
		store:      store,
		tags:       tags,
		locker:     lk,
		publishers: publishers,
		log:        log.Component("workflow"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ── Item transitions ──────────────────────────────────────────────────────────

// ApplyItem applies one action to one item.
func (s *WorkflowService) ApplyItem(
	ctx context.Context,
	requisitionID, itemID string,
	actor approval.Actor,
	action approval.Action,
	remark string,
) (*ItemResult, error) {
	var (
		result *ItemResult
		events []*repository.ChangeEvent
	)
	err := s.locker.WithLock(ctx, locker.RequisitionKey(requisitionID), func(ctx context.Context) error {
		req, err := s.store.GetByID(ctx, requisitionID)
		if err != nil {
			return err
		}

		outcome, committed, err := s.apply(ctx, req, itemID, actor, action, remark)
		if err != nil {
			return err
		}
		events = committed
		result = &ItemResult{ItemOutcome: outcome, RequisitionView: newView(req)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return result, nil
}

// ApplyBulk applies one action to several items of a requisition. It is not
// atomic: each item commits on its own, items already processed are skipped,
// and refused items do not stop the rest. If the store fails part way, the
// outcomes committed so far are returned together with the error.
func (s *WorkflowService) ApplyBulk(
	ctx context.Context,
	requisitionID string,
	itemIDs []string,
	actor approval.Actor,
	action approval.Action,
	remark string,
) (*BatchResult, error) {
	ids := dedupe(itemIDs)
	if len(ids) == 0 {
		return nil, errors.InvalidInput("item_ids", "at least one item is required")
	}

	result := &BatchResult{Items: make([]ItemOutcome, 0, len(ids))}
	var events []*repository.ChangeEvent

	err := s.locker.WithLock(ctx, locker.RequisitionKey(requisitionID), func(ctx context.Context) error {
		req, err := s.store.GetByID(ctx, requisitionID)
		if err != nil {
			return err
		}
		defer func() { result.RequisitionView = newView(req) }()

		// A batch-wide problem refuses every item before anything is written.
		if _, err := approval.Decide(actor, req, "", action, remark); err != nil {
			if re, ok := approval.AsRuleError(err); ok && re.Reason != approval.ReasonUnknownItem {
				for _, id := range ids {
					result.Items = append(result.Items, ItemOutcome{ItemID: id, Outcome: OutcomeRejected, Failure: failureFrom(re)})
				}
				return nil
			}
		}

		for _, id := range ids {
			if item := req.Item(id); item != nil && item.Status.Terminal() {
				result.Items = append(result.Items, ItemOutcome{
					ItemID:  id,
					Outcome: OutcomeSkipped,
					From:    item.Status,
				})
				continue
			}

			outcome, committed, err := s.apply(ctx, req, id, actor, action, remark)
			if err != nil {
				return err
			}
			result.Items = append(result.Items, outcome)
			events = append(events, committed...)
		}
		return nil
	})

	s.publish(ctx, events)

	if err != nil {
		if result.RequisitionView == nil {
			return nil, err
		}
		return result, err
	}

	s.log.Info().
		Str("requisition_id", requisitionID).
		Str("actor_id", actor.ID).
		Str("action", string(action)).
		Int("committed", result.Count(OutcomeCommitted)).
		Int("skipped", result.Count(OutcomeSkipped)).
		Int("rejected", result.Count(OutcomeRejected)).
		Msg("Bulk transition applied")

	return result, nil
}

// Selectable returns the IDs of the items actor could act on now.
func (s *WorkflowService) Selectable(ctx context.Context, requisitionID string, actor approval.Actor) ([]string, error) {
	req, err := s.visible(ctx, actor, requisitionID)
	if err != nil {
		return nil, err
	}
	return approval.Selectable(actor, req), nil
}

// apply decides and commits one transition against req, which must be the
// current state loaded under the requisition lock. On success req is updated
// in place to match what was committed.
func (s *WorkflowService) apply(
	ctx context.Context,
	req *repository.Requisition,
	itemID string,
	actor approval.Actor,
	action approval.Action,
	remark string,
) (ItemOutcome, []*repository.ChangeEvent, error) {
	decision, err := approval.Decide(actor, req, itemID, action, remark)
	if err != nil {
		re, ok := approval.AsRuleError(err)
		if !ok {
			return ItemOutcome{}, nil, err
		}
		s.log.Debug().
			Str("requisition_id", req.ID).
			Str("item_id", itemID).
			Str("actor_id", actor.ID).
			Str("action", string(action)).
			Str("reason", string(re.Reason)).
			Msg("Transition refused")
		return ItemOutcome{ItemID: itemID, Outcome: OutcomeRejected, Failure: failureFrom(re)}, nil, nil
	}

	now := s.now()
	t := &repository.Transition{
		RequisitionID: req.ID,
		ItemID:        itemID,
		FromStatus:    decision.From,
		ToStatus:      decision.To,
		Remark:        remark,
		ActedBy:       actor.ID,
		ActedAt:       now,
		Signings:      decision.Signings,
		Events:        s.transitionEvents(req, decision, actor, remark, now),
	}

	applied, err := s.store.CommitTransition(ctx, t)
	if err != nil {
		s.log.Error().Err(err).
			Str("requisition_id", req.ID).
			Str("item_id", itemID).
			Msg("Failed to commit transition")
		return ItemOutcome{}, nil, err
	}

	item := req.Item(itemID)
	item.Status = decision.To
	item.Remark = remark
	item.ActedBy = &actor.ID
	item.ActedAt = &now
	item.UpdatedAt = now
	for _, role := range applied {
		sign(req, role, actor.ID, now)
	}
	req.UpdatedAt = now

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("item_id", itemID).
		Str("actor_id", actor.ID).
		Str("action", string(action)).
		Str("from", string(decision.From)).
		Str("to", string(decision.To)).
		Msg("Item transitioned")

	return ItemOutcome{
		ItemID:   itemID,
		Outcome:  OutcomeCommitted,
		From:     decision.From,
		To:       decision.To,
		Signings: applied,
	}, t.CommittedEvents(applied), nil
}

// transitionEvents builds the item event and one event per signing the
// decision asks for. The store drops signing events that lose the race.
func (s *WorkflowService) transitionEvents(
	req *repository.Requisition,
	d *approval.Decision,
	actor approval.Actor,
	remark string,
	now time.Time,
) []*repository.ChangeEvent {
	events := []*repository.ChangeEvent{{
		ID:            uuid.NewString(),
		Type:          repository.EventItemTransitioned,
		RequisitionID: req.ID,
		Department:    req.Department,
		CreatedBy:     req.CreatedBy,
		ItemID:        d.ItemID,
		OldStatus:     d.From,
		NewStatus:     d.To,
		Role:          string(d.ActingRole),
		ActorID:       actor.ID,
		AwaitingRole:  approval.AwaitingRole(d.To),
		Remark:        remark,
		OccurredAt:    now,
	}}
	if len(d.Signings) == 0 {
		return events
	}

	after := req.Clone()
	after.Item(d.ItemID).Status = d.To
	for _, role := range d.Signings {
		sign(after, role, actor.ID, now)
	}
	awaiting := awaitingAfter(approval.Summarize(after))

	for _, role := range d.Signings {
		events = append(events, &repository.ChangeEvent{
			ID:            uuid.NewString(),
			Type:          repository.EventRequisitionSigned,
			RequisitionID: req.ID,
			Department:    req.Department,
			CreatedBy:     req.CreatedBy,
			Role:          string(role),
			ActorID:       actor.ID,
			AwaitingRole:  awaiting,
			OccurredAt:    now,
		})
	}
	return events
}

// awaitingAfter names who the document waits on once a stage has signed.
func awaitingAfter(sum approval.Summary) string {
	switch sum.Label {
	case approval.LabelOnHold:
		return string(approval.RoleHOD)
	case approval.LabelOnHoldForTR:
		return string(approval.RoleTechnicalReviewer)
	case approval.LabelReadyForNextStage:
		return string(approval.RolePurchasing)
	}
	return ""
}

func sign(req *repository.Requisition, role repository.SigningRole, actorID string, at time.Time) {
	by, when := actorID, at
	switch role {
	case repository.SigningHOD:
		req.HODSignedBy, req.HODSignedAt = &by, &when
	case repository.SigningTR:
		req.TRSignedBy, req.TRSignedAt = &by, &when
	}
}

// publish hands committed events to every publisher. Failures are logged.
func (s *WorkflowService) publish(ctx context.Context, events []*repository.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, e := range events {
		for _, p := range s.publishers {
			if err := p.Publish(ctx, e); err != nil {
				s.log.Warn().Err(err).
					Str("requisition_id", e.RequisitionID).
					Str("event_id", e.ID).
					Str("event_type", string(e.Type)).
					Msg("Failed to publish change event")
			}
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
