package repository

import "github.com/pesio-ai/be-proc-requisitions/internal/database"

// PostgresStore bundles the Postgres repositories behind the method set the
// workflow service consumes.
type PostgresStore struct {
	*RequisitionRepository
	*EventRepository
	*TagRepository
}

// NewPostgresStore creates a PostgresStore on db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		RequisitionRepository: NewRequisitionRepository(db),
		EventRepository:       NewEventRepository(db),
		TagRepository:         NewTagRepository(db),
	}
}
