package main

import (
	"context"
	"fmt"
	"os"

	"github.com/signalsfoundry/cgs-simulator/cmd/cgs-sim/commands"
)

func main() {
	if err := commands.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
