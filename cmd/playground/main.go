// Swalang Playground
//
// Command-line client for the Swalang online playground:
// - Browse and read projects held by the storage service
// - Run a project in an execution sandbox and stream its output
// - Pull a project to a local directory and push it back
// - Replay recorded console transcripts
package main

import (
	"os"
)

func main() {
	if err := newApp().Execute(); err != nil {
		os.Exit(1)
	}
}
