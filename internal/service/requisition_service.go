package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
	"github.com/pesio-ai/be-proc-requisitions/internal/locker"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// pendingScanLimit bounds how many requisitions PendingForActor inspects.
const pendingScanLimit = 500

// CreateRequisitionRequest represents a create requisition request
type CreateRequisitionRequest struct {
	Purpose       string
	Department    string
	DateSubmitted time.Time
	DateNeeded    time.Time
	Items         []*LineItemRequest
}

// LineItemRequest represents a requisition line request
type LineItemRequest struct {
	Quantity    int
	Unit        string
	Description string
	TagID       string
}

// CreateRequisition validates and stores a new requisition. Every item starts
// pending HOD review.
func (s *WorkflowService) CreateRequisition(ctx context.Context, actor approval.Actor, in *CreateRequisitionRequest) (*RequisitionView, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}

	purpose := strings.TrimSpace(in.Purpose)
	if purpose == "" {
		return nil, errors.InvalidInput("purpose", "purpose is required")
	}
	department := strings.TrimSpace(in.Department)
	if department == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}
	if !actor.IsAdmin() && !actor.InDepartment(department) {
		return nil, errors.Forbidden(fmt.Sprintf("actor does not belong to department %q", department))
	}

	now := s.now()
	submitted := in.DateSubmitted
	if submitted.IsZero() {
		submitted = now
	}
	if in.DateNeeded.IsZero() {
		return nil, errors.InvalidInput("date_needed", "date needed is required")
	}
	if in.DateNeeded.Before(truncateDay(submitted)) {
		return nil, errors.InvalidInput("date_needed", "date needed cannot be before date submitted")
	}
	if len(in.Items) == 0 {
		return nil, errors.InvalidInput("items", "requisition must have at least 1 item")
	}

	req := &repository.Requisition{
		ID:            uuid.NewString(),
		Purpose:       purpose,
		Department:    department,
		DateSubmitted: submitted,
		DateNeeded:    in.DateNeeded,
		CreatedBy:     actor.ID,
		Items:         make([]*repository.LineItem, 0, len(in.Items)),
	}

	for i, line := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		tag, err := s.validateLine(ctx, field, line.Quantity, line.Unit, line.Description, line.TagID)
		if err != nil {
			return nil, err
		}
		req.Items = append(req.Items, &repository.LineItem{
			ID:             uuid.NewString(),
			RequisitionID:  req.ID,
			Position:       i + 1,
			Quantity:       line.Quantity,
			Unit:           strings.TrimSpace(line.Unit),
			Description:    strings.TrimSpace(line.Description),
			TagID:          tag.ID,
			RequiresReview: tag.RequiresReview,
			Status:         repository.StatusPending,
		})
	}

	event := &repository.ChangeEvent{
		ID:            uuid.NewString(),
		Type:          repository.EventRequisitionCreated,
		RequisitionID: req.ID,
		Department:    req.Department,
		CreatedBy:     req.CreatedBy,
		ActorID:       actor.ID,
		AwaitingRole:  string(approval.RoleHOD),
		OccurredAt:    now,
	}

	if err := s.store.Create(ctx, req, event); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", req.ID).
		Int64("series_number", req.SeriesNumber).
		Str("department", req.Department).
		Str("actor_id", actor.ID).
		Int("item_count", len(req.Items)).
		Msg("Requisition created")

	s.publish(ctx, []*repository.ChangeEvent{event})
	return newView(req), nil
}

// GetRequisition returns a requisition snapshot and its summary.
func (s *WorkflowService) GetRequisition(ctx context.Context, actor approval.Actor, id string) (*RequisitionView, error) {
	req, err := s.visible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return newView(req), nil
}

// visible loads a requisition actor may read: admins read everything, others
// their own requisitions and those of their departments.
func (s *WorkflowService) visible(ctx context.Context, actor approval.Actor, id string) (*repository.Requisition, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && req.CreatedBy != actor.ID && !actor.InDepartment(req.Department) {
		return nil, errors.Forbidden("requisition belongs to another department")
	}
	return req, nil
}

// ListRequisitions lists requisitions visible to actor. Non-admins only see
// their own departments; a department filter outside them yields nothing.
func (s *WorkflowService) ListRequisitions(ctx context.Context, actor approval.Actor, filter repository.ListFilter) ([]*RequisitionView, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}

	filter.Departments = visibleDepartments(actor, filter.Departments)
	if filter.Departments != nil && len(filter.Departments) == 0 {
		return []*RequisitionView{}, nil
	}

	reqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*RequisitionView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, newView(req))
	}
	return views, nil
}

// PendingForActor returns the requisitions with at least one item the actor
// can act on now, newest first.
func (s *WorkflowService) PendingForActor(ctx context.Context, actor approval.Actor) ([]*PendingEntry, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}

	filter := repository.ListFilter{
		Departments: visibleDepartments(actor, nil),
		Limit:       pendingScanLimit,
	}
	if filter.Departments != nil && len(filter.Departments) == 0 {
		return []*PendingEntry{}, nil
	}

	reqs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	entries := make([]*PendingEntry, 0)
	for _, req := range reqs {
		ids := approval.Selectable(actor, req)
		if len(ids) == 0 {
			continue
		}
		entries = append(entries, &PendingEntry{RequisitionView: newView(req), Selectable: ids})
	}
	return entries, nil
}

// ReopenItemRequest carries the corrected fields of a rejected item. A zero
// field keeps the item's current value.
type ReopenItemRequest struct {
	Quantity    int
	Unit        string
	Description string
	TagID       string
}

// ReopenItem lets the requisition's creator correct a rejected item and send
// it back to HOD review.
func (s *WorkflowService) ReopenItem(
	ctx context.Context,
	requisitionID, itemID string,
	actor approval.Actor,
	in *ReopenItemRequest,
) (*RequisitionView, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}

	var (
		view  *RequisitionView
		event *repository.ChangeEvent
	)
	err := s.locker.WithLock(ctx, locker.RequisitionKey(requisitionID), func(ctx context.Context) error {
		req, err := s.store.GetByID(ctx, requisitionID)
		if err != nil {
			return err
		}
		item := req.Item(itemID)
		if item == nil {
			return errors.NotFound("item", itemID)
		}
		if req.CreatedBy != actor.ID && !actor.IsAdmin() {
			return errors.Forbidden("only the requisition's creator can reopen its items")
		}
		if req.PONumber != nil {
			return errors.Conflict("a purchase order has already been issued for this requisition")
		}
		if item.Status != repository.StatusRejected && item.Status != repository.StatusRejectedTR {
			return errors.Conflict(fmt.Sprintf("item %q is %s, only rejected items can be reopened", itemID, item.Status))
		}

		next := *item
		if in.Quantity != 0 {
			next.Quantity = in.Quantity
		}
		if in.Unit != "" {
			next.Unit = strings.TrimSpace(in.Unit)
		}
		if in.Description != "" {
			next.Description = strings.TrimSpace(in.Description)
		}
		if in.TagID != "" {
			next.TagID = in.TagID
		}
		tag, err := s.validateLine(ctx, "item", next.Quantity, next.Unit, next.Description, next.TagID)
		if err != nil {
			return err
		}

		now := s.now()
		next.RequiresReview = tag.RequiresReview
		next.Status = repository.StatusPending
		next.Remark = ""
		next.ActedBy = nil
		next.ActedAt = nil
		next.UpdatedAt = now

		ev := &repository.ChangeEvent{
			ID:            uuid.NewString(),
			Type:          repository.EventItemReopened,
			RequisitionID: req.ID,
			Department:    req.Department,
			CreatedBy:     req.CreatedBy,
			ItemID:        itemID,
			OldStatus:     item.Status,
			NewStatus:     repository.StatusPending,
			ActorID:       actor.ID,
			AwaitingRole:  string(approval.RoleHOD),
			OccurredAt:    now,
		}
		if err := s.store.ReopenItem(ctx, &next, ev); err != nil {
			return err
		}

		*item = next
		req.UpdatedAt = now
		view = newView(req)
		event = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", requisitionID).
		Str("item_id", itemID).
		Str("actor_id", actor.ID).
		Msg("Item reopened")

	s.publish(ctx, []*repository.ChangeEvent{event})
	return view, nil
}

// History returns a requisition's persisted event log, oldest first.
func (s *WorkflowService) History(ctx context.Context, actor approval.Actor, requisitionID string) ([]*repository.ChangeEvent, error) {
	if _, err := s.visible(ctx, actor, requisitionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, requisitionID)
}

// ── Tags ──────────────────────────────────────────────────────────────────────

// CreateTag adds a routing tag. When requiresReview is nil the "_tr" naming
// convention decides.
func (s *WorkflowService) CreateTag(ctx context.Context, actor approval.Actor, name, description string, requiresReview *bool) (*repository.Tag, error) {
	if err := actor.Validate(); err != nil {
		return nil, errors.InvalidInput("actor", err.Error())
	}
	if !actor.IsAdmin() {
		return nil, errors.Forbidden("only admins can manage tags")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput("name", "tag name is required")
	}
	description = strings.TrimSpace(description)

	tag := &repository.Tag{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}
	if requiresReview != nil {
		tag.RequiresReview = *requiresReview
	} else {
		tag.RequiresReview = repository.RequiresReviewByConvention(name, description)
	}

	if err := s.tags.CreateTag(ctx, tag); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tag_id", tag.ID).
		Str("name", tag.Name).
		Bool("requires_review", tag.RequiresReview).
		Msg("Tag created")
	return tag, nil
}

// ListTags returns every routing tag.
func (s *WorkflowService) ListTags(ctx context.Context) ([]*repository.Tag, error) {
	return s.tags.ListTags(ctx)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (s *WorkflowService) validateLine(ctx context.Context, field string, quantity int, unit, description, tagID string) (*repository.Tag, error) {
	if quantity <= 0 {
		return nil, errors.InvalidInput(field+".quantity", "quantity must be positive")
	}
	if strings.TrimSpace(unit) == "" {
		return nil, errors.InvalidInput(field+".unit", "unit is required")
	}
	if strings.TrimSpace(description) == "" {
		return nil, errors.InvalidInput(field+".description", "description is required")
	}
	if strings.TrimSpace(tagID) == "" {
		return nil, errors.InvalidInput(field+".tag_id", "tag is required")
	}
	tag, err := s.tags.GetTag(ctx, tagID)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, errors.InvalidInput(field+".tag_id", "unknown tag")
	}
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// visibleDepartments narrows requested to what actor may see. A nil result
// means no restriction; an empty non-nil result means nothing is visible.
func visibleDepartments(actor approval.Actor, requested []string) []string {
	if actor.IsAdmin() {
		return requested
	}
	if len(requested) == 0 {
		return append([]string{}, actor.Departments...)
	}
	out := make([]string, 0, len(requested))
	for _, d := range requested {
		if actor.InDepartment(d) {
			out = append(out, d)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
