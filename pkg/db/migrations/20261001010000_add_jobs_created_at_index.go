package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		_, err := db.NewRaw("CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC)").Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		_, err := db.NewRaw("DROP INDEX IF EXISTS jobs_created_at_idx").Exec(ctx)
		return err
	})
}
