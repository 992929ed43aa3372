package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-proc-requisitions/internal/database"
	"github.com/pesio-ai/be-proc-requisitions/internal/errors"
)

const pgUniqueViolation = "23505"

// TagRepository handles CRUD for requisition_tags.
type TagRepository struct {
	db *database.DB
}

// NewTagRepository creates a new TagRepository.
func NewTagRepository(db *database.DB) *TagRepository {
	return &TagRepository{db: db}
}

// CreateTag inserts a new tag. Tag names are unique.
func (r *TagRepository) CreateTag(ctx context.Context, tag *Tag) error {
	query := `
		INSERT INTO requisition_tags (id, name, description, requires_review)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		tag.ID,
		tag.Name,
		tag.Description,
		tag.RequiresReview,
	).Scan(&tag.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errors.Conflict("tag " + tag.Name + " already exists")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create tag")
	}
	return nil
}

// GetTag retrieves a tag by primary key.
func (r *TagRepository) GetTag(ctx context.Context, id string) (*Tag, error) {
	query := `
		SELECT id, name, description, requires_review, created_at
		FROM requisition_tags
		WHERE id = $1
	`
	tag := &Tag{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&tag.ID,
		&tag.Name,
		&tag.Description,
		&tag.RequiresReview,
		&tag.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("tag", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get tag")
	}
	return tag, nil
}

// ListTags returns every tag ordered by name.
func (r *TagRepository) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, requires_review, created_at
		FROM requisition_tags
		ORDER BY name
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tags")
	}
	defer rows.Close()

	tags := make([]*Tag, 0)
	for rows.Next() {
		tag := &Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.RequiresReview, &tag.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan tag")
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list tags")
	}
	return tags, nil
}
