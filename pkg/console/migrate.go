package console

import (
	"github.com/pixelvide/ownmailer/pkg/root"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, cleanup, err := boot(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Str("connection", a.Config.Database.Connection).Msg("migrations complete")
		return nil
	},
}

func init() {
	root.GetRoot().AddCommand(migrateCmd)
}
