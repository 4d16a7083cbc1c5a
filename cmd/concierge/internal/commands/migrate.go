package commands

import (
	"context"
	"errors"

	"concierge/internal/platform/postgres"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db == nil {
		return errors.New("migrate requires DATABASE_URL")
	}
	if err := postgres.Migrate(ctx, a.db); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "schema applied")
	return nil
}
