package console

import (
	"github.com/pixelvide/ownmailer/pkg/root"
	"github.com/pixelvide/ownmailer/pkg/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	queueName   string
	concurrency int
)

var workerCmd = &cobra.Command{
	Use:     "queue:work",
	Aliases: []string{"worker"},
	Short:   "Process queued provider events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, cleanup, err := boot(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		name := a.Config.Queue.Name
		if cmd.Flags().Changed("queue") {
			name = queueName
		}
		workers := a.Config.Queue.Concurrency
		if cmd.Flags().Changed("workers") {
			workers = concurrency
		}

		w := worker.NewWorker(a.Driver, a.Failed, name, workers)
		w.Connection = a.Config.Queue.Connection
		if a.Config.Queue.MaxTries > 0 {
			w.MaxTries = a.Config.Queue.MaxTries
		}

		log.Info().Str("queue", name).Int("workers", workers).Str("connection", w.Connection).Msg("starting worker pool")
		w.Run(ctx)
		log.Info().Msg("worker pool stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVar(&queueName, "queue", "default", "Name of the queue to process")
	workerCmd.Flags().IntVar(&concurrency, "workers", 5, "Number of concurrent workers")

	root.GetRoot().AddCommand(workerCmd)
}
