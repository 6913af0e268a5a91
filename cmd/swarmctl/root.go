package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var trackerURL string

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "drive the swarmcast engine from a terminal",
	Long:  `swarmctl is a demo producer/viewer for the swarmcast peer-to-peer asset swarm engine.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&trackerURL, "tracker", "ws://localhost:8080/connect", "tracker websocket URL")
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(joinCmd)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
