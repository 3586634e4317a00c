package main

import (
	"os"

	"github.com/mlegall/dcabot/cmd/dcabot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
