/*
girvi - operator command line

PURPOSE:
  Quick answers at the counter and from cron without the HTTP server:

    girvi interest -principal 50000 -rate 24 -from 2024-01-15 -to 2024-03-15
    girvi summary  -db ./data/girvi.db -as-of 2024-03-31
    girvi items    -db ./data/girvi.db -state with_dealer
    girvi import   -db ./data/girvi.db -file intake.json

  Reads and imports go straight to the sqlite file the server uses.

SEE ALSO:
  - cmd/server/main.go: the HTTP server
*/
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands(os.Stdout) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
