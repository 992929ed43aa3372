package repository

import (
	"strings"
	"time"
)

// ── Item status ──────────────────────────────────────────────────────────────

// Status is the approval state of a single line item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPendingTR  Status = "pending_tr"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusApprovedTR Status = "approved_tr" // reserved; no transition writes it
	StatusRejectedTR Status = "rejected_tr" // reserved; no transition writes it
)

// Statuses lists every defined status in display order.
var Statuses = []Status{
	StatusPending,
	StatusPendingTR,
	StatusApproved,
	StatusRejected,
	StatusApprovedTR,
	StatusRejectedTR,
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusApprovedTR, StatusRejectedTR:
		return true
	}
	return false
}

// ── Signing ──────────────────────────────────────────────────────────────────

// SigningRole names the document-level sign-off a stage produces.
type SigningRole string

const (
	SigningHOD SigningRole = "hod"
	SigningTR  SigningRole = "technical_reviewer"
)

// ── Tags ─────────────────────────────────────────────────────────────────────

// ReviewSuffix marks tags that require technical review by naming convention.
const ReviewSuffix = "_tr"

// Tag routes line items. RequiresReview is authoritative once stored.
type Tag struct {
	ID             string
	Name           string
	Description    string
	RequiresReview bool
	CreatedAt      time.Time
}

// RequiresReviewByConvention applies the "_tr" suffix rule to a tag's name or
// description.
func RequiresReviewByConvention(name, description string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), ReviewSuffix) ||
		strings.HasSuffix(strings.ToLower(strings.TrimSpace(description)), ReviewSuffix)
}

// ── Requisition ──────────────────────────────────────────────────────────────

// LineItem is one requested good or service. Items are addressed by ID;
// Position only orders them for display.
type LineItem struct {
	ID             string
	RequisitionID  string
	Position       int
	Quantity       int
	Unit           string
	Description    string
	TagID          string
	RequiresReview bool
	Status         Status
	Remark         string
	ActedBy        *string
	ActedAt        *time.Time
	UpdatedAt      time.Time
}

// Requisition is a purchase request document and its line items.
type Requisition struct {
	ID            string
	SeriesNumber  int64
	Purpose       string
	Department    string
	DateSubmitted time.Time
	DateNeeded    time.Time
	CreatedBy     string
	HODSignedBy   *string
	HODSignedAt   *time.Time
	TRSignedBy    *string
	TRSignedAt    *time.Time
	PONumber      *string
	POCreatedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []*LineItem
}

// Item returns the line item with the given ID, or nil.
func (r *Requisition) Item(id string) *LineItem {
	for _, it := range r.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Signed reports whether the given role has already signed.
func (r *Requisition) Signed(role SigningRole) bool {
	switch role {
	case SigningHOD:
		return r.HODSignedBy != nil
	case SigningTR:
		return r.TRSignedBy != nil
	}
	return false
}

// Clone returns a deep copy so callers can simulate changes without touching
// the loaded snapshot.
func (r *Requisition) Clone() *Requisition {
	cp := *r
	cp.Items = make([]*LineItem, len(r.Items))
	for i, it := range r.Items {
		item := *it
		cp.Items[i] = &item
	}
	return &cp
}

// ── Change events ────────────────────────────────────────────────────────────

// EventType classifies a ChangeEvent.
type EventType string

const (
	EventItemTransitioned   EventType = "item_transitioned"
	EventItemReopened       EventType = "item_reopened"
	EventRequisitionSigned  EventType = "requisition_signed"
	EventRequisitionCreated EventType = "requisition_created"
)

// ChangeEvent is one entry in a requisition's event log and the payload
// published to subscribers.
type ChangeEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	RequisitionID string    `json:"requisition_id"`
	Department    string    `json:"department"`
	CreatedBy     string    `json:"created_by"`
	ItemID        string    `json:"item_id,omitempty"`
	OldStatus     Status    `json:"old_status,omitempty"`
	NewStatus     Status    `json:"new_status,omitempty"`
	Role          string    `json:"role,omitempty"`
	ActorID       string    `json:"actor_id"`
	AwaitingRole  string    `json:"awaiting_role,omitempty"`
	Remark        string    `json:"remark,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Transition is everything one committed item decision writes: the item's new
// state, the signings it triggers, and the events describing both.
type Transition struct {
	RequisitionID string
	ItemID        string
	FromStatus    Status
	ToStatus      Status
	Remark        string
	ActedBy       string
	ActedAt       time.Time
	Signings      []SigningRole
	Events        []*ChangeEvent
}

// CommittedEvents drops signing events whose signing did not take effect
// because another writer signed first.
func (t *Transition) CommittedEvents(applied []SigningRole) []*ChangeEvent {
	out := make([]*ChangeEvent, 0, len(t.Events))
	for _, e := range t.Events {
		if e.Type == EventRequisitionSigned && !containsRole(applied, SigningRole(e.Role)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsRole(roles []SigningRole, role SigningRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// ListFilter narrows requisition listings. Empty fields match everything.
type ListFilter struct {
	Departments []string
	CreatedBy   string
	Limit       int
	Offset      int
}
