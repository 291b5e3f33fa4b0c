// permctl administers console permissions directly against the configured
// store. Changes are announced on the auth event bus so running consoles
// refresh the affected caches.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"

	adapterlogger "admin-console/internal/adapters/logger"
	"admin-console/internal/application"
	"admin-console/internal/config"
	"admin-console/internal/platform/app"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cmd, args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Store and bus diagnostics go to stderr; command output owns stdout.
	logger := adapterlogger.NewWithWriter(os.Stderr, "permctl", slog.LevelWarn)

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()
	bus, redisBus, err := app.OpenBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisBus != nil {
		defer redisBus.Close()
	}

	c := &cli{
		out:    os.Stdout,
		admin:  application.NewPermissionAdminService(stores.Permissions, bus, logger, nil),
		access: application.NewAccessService(stores.Permissions, logger),
		store:  stores.Permissions,
		seeder: stores.Seeder,
		secret: cfg.JWTSecret,
	}
	return c.dispatch(ctx, cmd, args)
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: permctl <command> [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  catalog                               List the permission catalog")
	fmt.Println("  people                                List people with active permission counts")
	fmt.Println("  grants --person <id>                  List a person's grants")
	fmt.Println("  grant --person <id> --permission <id> Grant one permission")
	fmt.Println("        [--expires <RFC3339>] [--actor <email>]")
	fmt.Println("  revoke --person <id> --permission <id>")
	fmt.Println("  check --person <id> --key <key>       Report whether a grant of key is active")
	fmt.Println("  login --email <email>                 Report whether email may sign in")
	fmt.Println("  seed --file <catalog.yaml>            Load catalog, teams and people")
	fmt.Println("  token --email <email> [--ttl 1h]      Mint a development token (AUTH_MODE=jwt)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  STORE_BACKEND, TABLE_NAME, AWS_REGION, DATABASE_URL  store selection")
	fmt.Println("  REDIS_URL                                            announce changes to running consoles")
	fmt.Println("  JWT_SECRET                                           signing key for token")
}
