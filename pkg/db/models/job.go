package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Job is the row layout of the jobs table.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         uuid.UUID      `bun:"type:uuid,pk"`
	Command    string         `bun:",notnull"`
	Timeout    int            `bun:",notnull,default:60"`
	Priority   string         `bun:",notnull,default:'Medium'"`
	Status     string         `bun:",notnull,default:'Queued'"`
	Parameters map[string]any `bun:"type:jsonb,nullzero"`

	Stdout string `bun:",notnull,default:''"`
	Stderr string `bun:",notnull,default:''"`

	TaskID          string `bun:",nullzero"`
	RemoteProcessID string `bun:",nullzero"`

	CreatedAt   time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	ModifiedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	StartedAt   time.Time `bun:",nullzero"`
	CompletedAt time.Time `bun:",nullzero"`
}
