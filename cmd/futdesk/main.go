package main

import (
	"os"

	"github.com/rustyeddy/futdesk/cmd/futdesk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
