package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/Itqan-community/cms-backend-sub002/pkg/catalog"
)

// newCleanHiddenCommand creates the clean-hidden command, which purges
// soft-deleted catalog rows older than the cutoff. Rows younger than the
// cutoff stay recoverable.
func newCleanHiddenCommand() *Command {
	cmd := &Command{
		Name:        "clean-hidden",
		Description: "Purge soft-deleted resources past the recovery window",
		Flags:       flag.NewFlagSet("clean-hidden", flag.ExitOnError),
	}

	days := cmd.Flags.Int("days", 30, "minimum age in days of soft-deleted rows to purge")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *days < 1 {
			return fmt.Errorf("--days must be at least 1")
		}
		logger := setupLogger()
		ctx := context.Background()

		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		store := catalog.NewStore(db)
		purged, err := store.PurgeHidden(ctx, *days)
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		logger.WithField("purged", purged).Info("soft-deleted rows removed")
		return nil
	}
	return cmd
}
