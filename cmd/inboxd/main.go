// Command inboxd mirrors Gmail accounts into a local store and runs the
// classification, redaction and embedding pipeline over them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/inboxd/internal/adapters/driving/cli"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx := context.Background()

	app, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cli.SetVersion(version)
	cli.SetServices(app.cliServices())

	err = cli.Execute(ctx)
	if closeErr := app.Close(); closeErr != nil {
		logger.Warn("closing resources: %v", closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
