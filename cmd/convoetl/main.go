// Command convoetl ingests conversation-telemetry snapshots into SQLite.
package main

import (
	"context"
	"os"

	"github.com/roach88/convoetl/internal/cli"
)

func main() {
	os.Exit(cli.Main(context.Background(), os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv))
}
