package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/swarmcast/swarmcast/internal/chunker"
	"github.com/swarmcast/swarmcast/internal/coordinator"
)

var outputPath string

var joinCmd = &cobra.Command{
	Use:   "join content-id",
	Short: "join an existing swarm and download it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contentID := args[0]
		logger := newLogger()

		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("downloading "+contentID),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

		received := make(chan struct {
			pkg  chunker.Package
			blob []byte
		}, 1)

		sink := downloadSink{bar: bar, received: received}
		coord := coordinator.New(coordinator.DefaultConfig(trackerURL), sink)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go coord.Run(ctx)
		defer coord.Close()

		// The tracker connection is usually still being dialed here, so the
		// announce can fail; the download itself is driven by seeders
		// connecting after request-connection, not by this announce.
		if err := coord.JoinSwarm(contentID); err != nil {
			logger.WithError(err).Warn("failed to announce swarm membership")
		}

		got := <-received
		_ = bar.Finish()

		if outputPath == "" {
			outputPath = contentID + ".bin"
		}
		if err := os.WriteFile(outputPath, got.blob, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}
		logger.WithField("path", outputPath).Info("model received and saved")
		return nil
	},
}

func init() {
	joinCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default <content-id>.bin)")
}

// downloadSink renders progress via a terminal bar and hands off the
// completed model on a channel for the join command's main goroutine.
type downloadSink struct {
	bar      *progressbar.ProgressBar
	received chan struct {
		pkg  chunker.Package
		blob []byte
	}
}

func (s downloadSink) OnPeerConnected(string)    {}
func (s downloadSink) OnPeerDisconnected(string) {}
func (s downloadSink) OnDownloadProgress(contentID string, percent float64) {
	_ = s.bar.Set(int(percent))
}
func (s downloadSink) OnModelReceived(pkg chunker.Package, blob []byte) {
	s.received <- struct {
		pkg  chunker.Package
		blob []byte
	}{pkg: pkg, blob: blob}
}
