package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/Itqan-community/cms-backend-sub002/pkg/identity"
)

// newEnsureAdminCommand creates the ensure-admin command, which creates
// an administrator principal if one with the email does not exist.
// Idempotent: running it twice is safe.
func newEnsureAdminCommand() *Command {
	cmd := &Command{
		Name:        "ensure-admin",
		Description: "Create an administrator principal if absent",
		Flags:       flag.NewFlagSet("ensure-admin", flag.ExitOnError),
	}

	email := cmd.Flags.String("email", "", "administrator email (required)")
	name := cmd.Flags.String("name", "Administrator", "display name")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" {
			return fmt.Errorf("--email is required")
		}
		logger := setupLogger()
		ctx := context.Background()

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store := identity.NewStore(db)
		admin, err := store.EnsureAdmin(ctx, *email, *name)
		if err != nil {
			return fmt.Errorf("failed to ensure admin: %w", err)
		}

		logger.WithFields(map[string]interface{}{
			"id":    admin.ID,
			"email": admin.Email,
		}).Info("administrator present")
		return nil
	}
	return cmd
}
