package console

import (
	"github.com/pixelvide/ownmailer/pkg/root"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule:run",
	Short: "Dispatch scheduled emails as they come due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, cleanup, err := boot(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		kernel, err := registerSchedule(a)
		if err != nil {
			return err
		}
		kernel.Run(ctx)
		return nil
	},
}

func init() {
	root.GetRoot().AddCommand(scheduleCmd)
}
