// Command swarmctl is a demo scene collaborator driving the swarmcast
// engine from a terminal: share a local file into a swarm, or join an
// existing content id and watch it download.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
