package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

const defaultListLimit = 50

// RequisitionRepository is the Postgres-backed requisition store.
type RequisitionRepository struct {
	db *database.DB
}

// NewRequisitionRepository creates a new RequisitionRepository.
func NewRequisitionRepository(db *database.DB) *RequisitionRepository {
	return &RequisitionRepository{db: db}
}

const requisitionColumns = `
	id, series_number, purpose, department,
	date_submitted, date_needed, created_by,
	hod_signed_by, hod_signed_at, tr_signed_by, tr_signed_at,
	po_number, po_created_at, created_at, updated_at`

const itemColumns = `
	i.id, i.requisition_id, i.position, i.quantity, i.unit, i.description,
	i.tag_id, t.requires_review, i.status, i.remark,
	i.acted_by, i.acted_at, i.updated_at`

// Create inserts a requisition, its items and its creation event in one
// transaction. SeriesNumber and timestamps are filled from the database.
func (r *RequisitionRepository) Create(ctx context.Context, req *Requisition, event *ChangeEvent) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO requisitions
			    (id, purpose, department, date_submitted, date_needed, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING series_number, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			req.ID,
			req.Purpose,
			req.Department,
			req.DateSubmitted,
			req.DateNeeded,
			req.CreatedBy,
		).Scan(&req.SeriesNumber, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
		}

		itemQuery := `
			INSERT INTO requisition_items
			    (id, requisition_id, position, quantity, unit, description, tag_id, status, remark)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING updated_at
		`
		for _, item := range req.Items {
			item.RequisitionID = req.ID
			err := tx.QueryRow(ctx, itemQuery,
				item.ID,
				item.RequisitionID,
				item.Position,
				item.Quantity,
				item.Unit,
				item.Description,
				item.TagID,
				string(item.Status),
				item.Remark,
			).Scan(&item.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition item")
			}
		}

		if event != nil {
			return insertEventPg(ctx, tx, event)
		}
		return nil
	})
}

// GetByID loads a requisition and its items from one snapshot.
func (r *RequisitionRepository) GetByID(ctx context.Context, id string) (*Requisition, error) {
	var req *Requisition
	err := r.db.InReadOnlyTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`
		var err error
		req, err = scanRequisitionPg(tx.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.NotFound("requisition", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition")
		}

		items, err := r.loadItems(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		req.Items = items[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// List returns requisitions matching filter, newest series first.
func (r *RequisitionRepository) List(ctx context.Context, filter ListFilter) ([]*Requisition, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	departments := filter.Departments
	if departments == nil {
		departments = []string{}
	}

	var reqs []*Requisition
	err := r.db.InReadOnlyTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			SELECT ` + requisitionColumns + `
			FROM requisitions
			WHERE (cardinality($1::text[]) = 0 OR department = ANY($1::text[]))
			  AND ($2::text = '' OR created_by = $2::text)
			ORDER BY series_number DESC
			LIMIT $3 OFFSET $4
		`
		rows, err := tx.Query(ctx, query, departments, filter.CreatedBy, limit, filter.Offset)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
		}
		defer rows.Close()

		ids := make([]string, 0)
		for rows.Next() {
			req, err := scanRequisitionPg(rows)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
			}
			reqs = append(reqs, req)
			ids = append(ids, req.ID)
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
		}
		rows.Close()

		items, err := r.loadItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			req.Items = items[req.ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// CommitTransition writes an item decision, applies its signings first-writer
// wins, and appends the events for what was actually written. It returns the
// signings that took effect.
func (r *RequisitionRepository) CommitTransition(ctx context.Context, t *Transition) ([]SigningRole, error) {
	var applied []SigningRole
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		applied = nil

		tag, err := tx.Exec(ctx, `
			UPDATE requisition_items
			SET status     = $3,
			    remark     = $4,
			    acted_by   = $5,
			    acted_at   = $6,
			    updated_at = $6
			WHERE id = $1
			  AND requisition_id = $2
			  AND status = $7
		`, t.ItemID, t.RequisitionID, string(t.ToStatus), t.Remark, t.ActedBy, t.ActedAt, string(t.FromStatus))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition item")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("item " + t.ItemID + " is no longer " + string(t.FromStatus))
		}

		for _, role := range t.Signings {
			query, ok := signingQueriesPg[role]
			if !ok {
				return errors.New(errors.ErrCodeInternal, "unknown signing role "+string(role))
			}
			tag, err := tx.Exec(ctx, query, t.RequisitionID, t.ActedBy, t.ActedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to record signing")
			}
			if tag.RowsAffected() == 1 {
				applied = append(applied, role)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE requisitions SET updated_at = $2 WHERE id = $1`, t.RequisitionID, t.ActedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to touch requisition")
		}

		for _, e := range t.CommittedEvents(applied) {
			if err := insertEventPg(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

var signingQueriesPg = map[SigningRole]string{
	SigningHOD: `UPDATE requisitions SET hod_signed_by = $2, hod_signed_at = $3
		WHERE id = $1 AND hod_signed_by IS NULL`,
	SigningTR: `UPDATE requisitions SET tr_signed_by = $2, tr_signed_at = $3
		WHERE id = $1 AND tr_signed_by IS NULL`,
}

// ReopenItem puts a rejected item back to pending with its edited fields.
func (r *RequisitionRepository) ReopenItem(ctx context.Context, item *LineItem, event *ChangeEvent) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE requisition_items
			SET quantity    = $3,
			    unit        = $4,
			    description = $5,
			    tag_id      = $6,
			    status      = $7,
			    remark      = '',
			    acted_by    = NULL,
			    acted_at    = NULL,
			    updated_at  = $8
			WHERE id = $1
			  AND requisition_id = $2
			  AND status IN ('rejected', 'rejected_tr')
		`, item.ID, item.RequisitionID, item.Quantity, item.Unit, item.Description, item.TagID,
			string(item.Status), item.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to reopen requisition item")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict("item " + item.ID + " is not rejected")
		}
		if event != nil {
			return insertEventPg(ctx, tx, event)
		}
		return nil
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *RequisitionRepository) loadItems(ctx context.Context, tx pgx.Tx, ids []string) (map[string][]*LineItem, error) {
	out := make(map[string][]*LineItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT ` + itemColumns + `
		FROM requisition_items i
		JOIN requisition_tags t ON t.id = i.tag_id
		WHERE i.requisition_id::text = ANY($1::text[])
		ORDER BY i.requisition_id, i.position
	`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition items")
	}
	defer rows.Close()

	for rows.Next() {
		item := &LineItem{}
		var status string
		err := rows.Scan(
			&item.ID,
			&item.RequisitionID,
			&item.Position,
			&item.Quantity,
			&item.Unit,
			&item.Description,
			&item.TagID,
			&item.RequiresReview,
			&status,
			&item.Remark,
			&item.ActedBy,
			&item.ActedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition item")
		}
		item.Status = Status(status)
		out[item.RequisitionID] = append(out[item.RequisitionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition items")
	}
	return out, nil
}

type requisitionScanner interface {
	Scan(dest ...any) error
}

func scanRequisitionPg(row requisitionScanner) (*Requisition, error) {
	req := &Requisition{}
	err := row.Scan(
		&req.ID,
		&req.SeriesNumber,
		&req.Purpose,
		&req.Department,
		&req.DateSubmitted,
		&req.DateNeeded,
		&req.CreatedBy,
		&req.HODSignedBy,
		&req.HODSignedAt,
		&req.TRSignedBy,
		&req.TRSignedAt,
		&req.PONumber,
		&req.POCreatedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func insertEventPg(ctx context.Context, tx pgx.Tx, e *ChangeEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO requisition_events
		    (id, requisition_id, event_type, item_id, old_status, new_status,
		     role, actor_id, awaiting_role, remark, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.RequisitionID, string(e.Type), e.ItemID, string(e.OldStatus), string(e.NewStatus),
		e.Role, e.ActorID, e.AwaitingRole, e.Remark, e.OccurredAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append requisition event")
	}
	return nil
}
