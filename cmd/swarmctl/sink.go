package main

import (
	"github.com/sirupsen/logrus"

	"github.com/swarmcast/swarmcast/internal/chunker"
)

// cliSink logs lifecycle events for the share command, which never
// itself downloads anything (it only ever seeds).
type cliSink struct {
	logger *logrus.Logger
}

func (s cliSink) OnPeerConnected(peerID string) {
	s.logger.WithField("peer", peerID).Info("peer connected")
}

func (s cliSink) OnPeerDisconnected(peerID string) {
	s.logger.WithField("peer", peerID).Info("peer disconnected")
}

func (s cliSink) OnModelReceived(pkg chunker.Package, blob []byte) {
	s.logger.WithField("contentId", pkg.ContentID).Info("unexpected model received while seeding")
}

func (s cliSink) OnDownloadProgress(contentID string, percent float64) {
	s.logger.WithFields(logrus.Fields{"contentId": contentID, "percent": percent}).Debug("download progress")
}
