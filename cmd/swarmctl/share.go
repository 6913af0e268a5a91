package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swarmcast/swarmcast/internal/chunker"
	"github.com/swarmcast/swarmcast/internal/coordinator"
)

var shareCmd = &cobra.Command{
	Use:   "share file-path",
	Short: "share a local file into a new swarm and seed it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		logger := newLogger()
		coord := coordinator.New(coordinator.DefaultConfig(trackerURL), cliSink{logger: logger})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go coord.Run(ctx)
		defer coord.Close()

		pkg, err := coord.ShareModel(data, chunker.Transform{}, "swarmctl", "")
		if err != nil {
			return fmt.Errorf("sharing model: %w", err)
		}
		logger.WithField("contentId", pkg.ContentID).Info("seeding, press Ctrl+C to stop")

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		<-done
		return nil
	},
}
