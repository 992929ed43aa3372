package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

// EventRepository reads the append-only requisition event log. Events are
// written by the requisition store inside the transaction that causes them,
// so no mutation is exposed here.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListEvents returns a requisition's events in the order they were written.
func (r *EventRepository) ListEvents(ctx context.Context, requisitionID string) ([]*ChangeEvent, error) {
	query := `
		SELECT e.id, e.event_type, e.requisition_id, r.department, r.created_by,
		       e.item_id, e.old_status, e.new_status,
		       e.role, e.actor_id, e.awaiting_role, e.remark, e.occurred_at
		FROM requisition_events e
		JOIN requisitions r ON r.id = e.requisition_id
		WHERE e.requisition_id = $1
		ORDER BY e.seq ASC
	`

	rows, err := r.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition events")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *EventRepository) scanRows(rows pgx.Rows) ([]*ChangeEvent, error) {
	events := make([]*ChangeEvent, 0)
	for rows.Next() {
		e := &ChangeEvent{}
		var eventType, oldStatus, newStatus string
		err := rows.Scan(
			&e.ID,
			&eventType,
			&e.RequisitionID,
			&e.Department,
			&e.CreatedBy,
			&e.ItemID,
			&oldStatus,
			&newStatus,
			&e.Role,
			&e.ActorID,
			&e.AwaitingRole,
			&e.Remark,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition event")
		}
		e.Type = EventType(eventType)
		e.OldStatus = Status(oldStatus)
		e.NewStatus = Status(newStatus)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition events")
	}
	return events, nil
}
