package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the identity and lifecycle timestamps shared by
// every aggregate. Timestamps are maintained by the persistence layer
// on save; domain code only reads them.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity returns a BaseEntity with a fresh random ID and both
// timestamps set to now.
func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetID returns the entity ID.
func (e *BaseEntity) GetID() uuid.UUID {
	return e.ID
}
