// Command tracker runs the swarmcast connection-oriented coordinator:
// the websocket signaling server that groups participants by content id
// and relays their WebRTC session descriptions and candidates.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/swarmcast/swarmcast/internal/tracker"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	logger := logrus.New()

	config := tracker.DefaultConfig(*addr)
	config.Logger = logger
	srv := tracker.NewServer(config)

	go func() {
		if err := srv.Start(); err != nil {
			logger.WithError(err).Fatal("tracker exited")
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.WithError(err).Warn("error during shutdown")
	}
}
