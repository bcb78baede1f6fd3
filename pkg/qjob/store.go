package qjob

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store is the persistence boundary for jobs. Implementations only write what
// they are told to; status semantics live in the callers.
type Store interface {
	// Create stores a new job. Fails with qerr.CodeAlreadyExists on id collision.
	Create(ctx context.Context, job *Job) (*Job, error)

	// Get returns the job or fails with qerr.CodeNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Job, error)

	// List returns jobs ordered by creation time, newest first.
	// A non-positive limit means no limit.
	List(ctx context.Context, limit, offset int) ([]*Job, error)

	// Count returns the total number of jobs.
	Count(ctx context.Context) (int, error)

	// Delete removes the job or fails with qerr.CodeNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// RunInTx runs fn inside a single atomic boundary. Locks taken through the
	// Tx are held until fn returns; writes are discarded when fn fails.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the locked view of the store handed to RunInTx callbacks.
type Tx interface {
	// GetForUpdate returns the job while holding an exclusive lock on it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Job, error)

	// Update writes only the named fields and bumps modified_at.
	Update(ctx context.Context, job *Job, fields []Field) (*Job, error)
}

// MutateFunc changes a locked job in place and returns the fields it touched.
// Returning no fields skips the write.
type MutateFunc func(job *Job) ([]Field, error)

// Mutate locks the job, applies fn and writes the touched fields, all in one
// transaction. It returns the job as stored after the mutation.
func Mutate(ctx context.Context, store Store, id uuid.UUID, fn MutateFunc) (*Job, error) {
	var out *Job
	err := store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		job, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		fields, err := fn(job)
		if err != nil {
			return err
		}

		if len(fields) == 0 {
			out = job
			return nil
		}

		updated, err := tx.Update(ctx, job, dedupe(fields))
		if err != nil {
			return fmt.Errorf("updating job %s: %w", id, err)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func dedupe(fields []Field) []Field {
	seen := make(map[Field]bool, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
