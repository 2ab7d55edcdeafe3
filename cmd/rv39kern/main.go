// cmd/rv39kern is the command-line interface to the RV64 Sv39 kernel model.
package main

import (
	"context"
	"os"

	"github.com/kvik-os/rv39kern/internal/cli"
	"github.com/kvik-os/rv39kern/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Boot(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
