package service

import (
	"context"

	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

// RequisitionStore persists requisitions and their event log.
// CommitTransition is the only way an item's status changes.
type RequisitionStore interface {
	Create(ctx context.Context, req *repository.Requisition, event *repository.ChangeEvent) error
	GetByID(ctx context.Context, id string) (*repository.Requisition, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*repository.Requisition, error)
	CommitTransition(ctx context.Context, t *repository.Transition) ([]repository.SigningRole, error)
	ReopenItem(ctx context.Context, item *repository.LineItem, event *repository.ChangeEvent) error
	ListEvents(ctx context.Context, requisitionID string) ([]*repository.ChangeEvent, error)
}

// TagStore persists routing tags.
type TagStore interface {
	CreateTag(ctx context.Context, tag *repository.Tag) error
	GetTag(ctx context.Context, id string) (*repository.Tag, error)
	ListTags(ctx context.Context) ([]*repository.Tag, error)
}

// Publisher delivers committed change events to subscribers. Delivery is best
// effort: a failed publish is logged and never undoes the commit.
type Publisher interface {
	Publish(ctx context.Context, event *repository.ChangeEvent) error
}
