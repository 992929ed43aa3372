package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

// SQLiteStore implements the requisition, event and tag stores on a single
// SQLite handle. Timestamps are stored as RFC 3339 text in UTC.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened and migrated SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteRequisitionColumns = `
	id, series_number, purpose, department,
	date_submitted, date_needed, created_by,
	hod_signed_by, hod_signed_at, tr_signed_by, tr_signed_at,
	po_number, po_created_at, created_at, updated_at`

// inTx runs fn in a transaction. Every statement inside fn must go through
// tx: the handle has a single connection.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to commit transaction")
	}
	return nil
}

// ── Requisitions ─────────────────────────────────────────────────────────────

func (s *SQLiteStore) Create(ctx context.Context, req *Requisition, event *ChangeEvent) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var series int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(series_number), 0) + 1 FROM requisitions`,
		).Scan(&series); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate series number")
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO requisitions
			    (id, series_number, purpose, department, date_submitted, date_needed,
			     created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID,
			series,
			req.Purpose,
			req.Department,
			formatTime(req.DateSubmitted),
			formatTime(req.DateNeeded),
			req.CreatedBy,
			formatTime(now),
			formatTime(now),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
		}

		for _, item := range req.Items {
			item.RequisitionID = req.ID
			_, err := tx.ExecContext(ctx, `
				INSERT INTO requisition_items
				    (id, requisition_id, position, quantity, unit, description,
				     tag_id, status, remark, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID,
				item.RequisitionID,
				item.Position,
				item.Quantity,
				item.Unit,
				item.Description,
				item.TagID,
				string(item.Status),
				item.Remark,
				formatTime(now),
			)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition item")
			}
			item.UpdatedAt = now
		}

		if event != nil {
			if err := insertEventSQLite(ctx, tx, event); err != nil {
				return err
			}
		}

		req.SeriesNumber = series
		req.CreatedAt = now
		req.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Requisition, error) {
	var req *Requisition
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = scanRequisitionSQLite(tx.QueryRowContext(ctx,
			`SELECT `+sqliteRequisitionColumns+` FROM requisitions WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NotFound("requisition", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition")
		}

		items, err := loadItemsSQLite(ctx, tx, []string{id})
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

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Requisition, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		where []string
		args  []any
	)
	if len(filter.Departments) > 0 {
		where = append(where, "department IN ("+placeholders(len(filter.Departments))+")")
		for _, d := range filter.Departments {
			args = append(args, d)
		}
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}

	query := `SELECT ` + sqliteRequisitionColumns + ` FROM requisitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY series_number DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	var reqs []*Requisition
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
		}
		ids := make([]string, 0)
		for rows.Next() {
			req, err := scanRequisitionSQLite(rows)
			if err != nil {
				rows.Close()
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
			}
			reqs = append(reqs, req)
			ids = append(ids, req.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions")
		}
		rows.Close()

		items, err := loadItemsSQLite(ctx, tx, ids)
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

func (s *SQLiteStore) CommitTransition(ctx context.Context, t *Transition) ([]SigningRole, error) {
	var applied []SigningRole
	actedAt := formatTime(t.ActedAt)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		applied = nil

		res, err := tx.ExecContext(ctx, `
			UPDATE requisition_items
			SET status = ?, remark = ?, acted_by = ?, acted_at = ?, updated_at = ?
			WHERE id = ? AND requisition_id = ? AND status = ?`,
			string(t.ToStatus), t.Remark, t.ActedBy, actedAt, actedAt,
			t.ItemID, t.RequisitionID, string(t.FromStatus),
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition item")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Conflict("item " + t.ItemID + " is no longer " + string(t.FromStatus))
		}

		for _, role := range t.Signings {
			query, ok := signingQueriesSQLite[role]
			if !ok {
				return errors.New(errors.ErrCodeInternal, "unknown signing role "+string(role))
			}
			res, err := tx.ExecContext(ctx, query, t.ActedBy, actedAt, t.RequisitionID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to record signing")
			}
			if n, _ := res.RowsAffected(); n == 1 {
				applied = append(applied, role)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE requisitions SET updated_at = ? WHERE id = ?`, actedAt, t.RequisitionID,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to touch requisition")
		}

		for _, e := range t.CommittedEvents(applied) {
			if err := insertEventSQLite(ctx, tx, e); err != nil {
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

var signingQueriesSQLite = map[SigningRole]string{
	SigningHOD: `UPDATE requisitions SET hod_signed_by = ?, hod_signed_at = ?
		WHERE id = ? AND hod_signed_by IS NULL`,
	SigningTR: `UPDATE requisitions SET tr_signed_by = ?, tr_signed_at = ?
		WHERE id = ? AND tr_signed_by IS NULL`,
}

func (s *SQLiteStore) ReopenItem(ctx context.Context, item *LineItem, event *ChangeEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE requisition_items
			SET quantity = ?, unit = ?, description = ?, tag_id = ?, status = ?,
			    remark = '', acted_by = NULL, acted_at = NULL, updated_at = ?
			WHERE id = ? AND requisition_id = ? AND status IN ('rejected', 'rejected_tr')`,
			item.Quantity, item.Unit, item.Description, item.TagID, string(item.Status),
			formatTime(item.UpdatedAt), item.ID, item.RequisitionID,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to reopen requisition item")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Conflict("item " + item.ID + " is not rejected")
		}
		if event != nil {
			return insertEventSQLite(ctx, tx, event)
		}
		return nil
	})
}

// ── Events ───────────────────────────────────────────────────────────────────

func (s *SQLiteStore) ListEvents(ctx context.Context, requisitionID string) ([]*ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.event_type, e.requisition_id, r.department, r.created_by,
		       e.item_id, e.old_status, e.new_status,
		       e.role, e.actor_id, e.awaiting_role, e.remark, e.occurred_at
		FROM requisition_events e
		JOIN requisitions r ON r.id = e.requisition_id
		WHERE e.requisition_id = ?
		ORDER BY e.seq ASC`, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition events")
	}
	defer rows.Close()

	events := make([]*ChangeEvent, 0)
	for rows.Next() {
		e := &ChangeEvent{}
		var eventType, oldStatus, newStatus, occurredRaw string
		if err := rows.Scan(
			&e.ID, &eventType, &e.RequisitionID, &e.Department, &e.CreatedBy,
			&e.ItemID, &oldStatus, &newStatus,
			&e.Role, &e.ActorID, &e.AwaitingRole, &e.Remark, &occurredRaw,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition event")
		}
		e.Type = EventType(eventType)
		e.OldStatus = Status(oldStatus)
		e.NewStatus = Status(newStatus)
		e.OccurredAt = parseTime(occurredRaw)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition events")
	}
	return events, nil
}

// ── Tags ─────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) CreateTag(ctx context.Context, tag *Tag) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requisition_tags (id, name, description, requires_review, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tag.ID, tag.Name, tag.Description, boolToInt(tag.RequiresReview), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Conflict("tag " + tag.Name + " already exists")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create tag")
	}
	tag.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetTag(ctx context.Context, id string) (*Tag, error) {
	tag, err := scanTagSQLite(s.db.QueryRowContext(ctx, `
		SELECT id, name, description, requires_review, created_at
		FROM requisition_tags WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("tag", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get tag")
	}
	return tag, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, requires_review, created_at
		FROM requisition_tags ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tags")
	}
	defer rows.Close()

	tags := make([]*Tag, 0)
	for rows.Next() {
		tag, err := scanTagSQLite(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan tag")
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tags")
	}
	return tags, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func loadItemsSQLite(ctx context.Context, tx *sql.Tx, ids []string) (map[string][]*LineItem, error) {
	out := make(map[string][]*LineItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT i.id, i.requisition_id, i.position, i.quantity, i.unit, i.description,
		       i.tag_id, t.requires_review, i.status, i.remark,
		       i.acted_by, i.acted_at, i.updated_at
		FROM requisition_items i
		JOIN requisition_tags t ON t.id = i.tag_id
		WHERE i.requisition_id IN (`+placeholders(len(ids))+`)
		ORDER BY i.requisition_id, i.position`, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition items")
	}
	defer rows.Close()

	for rows.Next() {
		item := &LineItem{}
		var (
			review     int64
			status     string
			actedBy    sql.NullString
			actedAtRaw sql.NullString
			updatedRaw string
		)
		if err := rows.Scan(
			&item.ID,
			&item.RequisitionID,
			&item.Position,
			&item.Quantity,
			&item.Unit,
			&item.Description,
			&item.TagID,
			&review,
			&status,
			&item.Remark,
			&actedBy,
			&actedAtRaw,
			&updatedRaw,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition item")
		}
		item.RequiresReview = review != 0
		item.Status = Status(status)
		item.ActedBy = nullString(actedBy)
		item.ActedAt = nullTime(actedAtRaw)
		item.UpdatedAt = parseTime(updatedRaw)
		out[item.RequisitionID] = append(out[item.RequisitionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition items")
	}
	return out, nil
}

func scanRequisitionSQLite(row requisitionScanner) (*Requisition, error) {
	req := &Requisition{}
	var (
		submittedRaw, neededRaw  string
		createdRaw, updatedRaw   string
		hodBy, hodAt, trBy, trAt sql.NullString
		poNumber, poAt           sql.NullString
	)
	if err := row.Scan(
		&req.ID,
		&req.SeriesNumber,
		&req.Purpose,
		&req.Department,
		&submittedRaw,
		&neededRaw,
		&req.CreatedBy,
		&hodBy,
		&hodAt,
		&trBy,
		&trAt,
		&poNumber,
		&poAt,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	req.DateSubmitted = parseTime(submittedRaw)
	req.DateNeeded = parseTime(neededRaw)
	req.HODSignedBy = nullString(hodBy)
	req.HODSignedAt = nullTime(hodAt)
	req.TRSignedBy = nullString(trBy)
	req.TRSignedAt = nullTime(trAt)
	req.PONumber = nullString(poNumber)
	req.POCreatedAt = nullTime(poAt)
	req.CreatedAt = parseTime(createdRaw)
	req.UpdatedAt = parseTime(updatedRaw)
	return req, nil
}

func scanTagSQLite(row requisitionScanner) (*Tag, error) {
	tag := &Tag{}
	var (
		review     int64
		createdRaw string
	)
	if err := row.Scan(&tag.ID, &tag.Name, &tag.Description, &review, &createdRaw); err != nil {
		return nil, err
	}
	tag.RequiresReview = review != 0
	tag.CreatedAt = parseTime(createdRaw)
	return tag, nil
}

func insertEventSQLite(ctx context.Context, tx *sql.Tx, e *ChangeEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO requisition_events
		    (id, requisition_id, event_type, item_id, old_status, new_status,
		     role, actor_id, awaiting_role, remark, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequisitionID, string(e.Type), e.ItemID, string(e.OldStatus), string(e.NewStatus),
		e.Role, e.ActorID, e.AwaitingRole, e.Remark, formatTime(e.OccurredAt),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append requisition event")
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t := parseTime(raw.String)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
