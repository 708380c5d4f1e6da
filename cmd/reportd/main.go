package main

import (
	"os"

	"github.com/ticketdesk/reportd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
