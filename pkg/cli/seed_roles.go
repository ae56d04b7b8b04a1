package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
)

// newSeedRolesCommand creates the seed-roles command. Without --file it
// writes the built-in role set; with --file it replaces the definitions
// with the YAML file's contents, validating every permission map before
// any write.
func newSeedRolesCommand() *Command {
	cmd := &Command{
		Name:        "seed-roles",
		Description: "Seed or update role definitions",
		Flags:       flag.NewFlagSet("seed-roles", flag.ExitOnError),
	}

	file := cmd.Flags.String("file", os.Getenv("CMS_ROLES_FILE"), "YAML file overriding the built-in roles")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		logger := setupLogger()
		ctx := context.Background()

		roles := identity.DefaultRoles()
		if *file != "" {
			loaded, err := identity.LoadRolesFile(*file)
			if err != nil {
				return fmt.Errorf("failed to load roles file: %w", err)
			}
			roles = loaded
			logger.WithField("file", *file).Info("using role definitions from file")
		}

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store := identity.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("schema setup failed: %w", err)
		}
		if err := identity.SeedRoles(ctx, store, roles); err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}

		logger.WithField("count", len(roles)).Info("roles seeded")
		return nil
	}
	return cmd
}
