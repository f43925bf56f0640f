// Command ledgerctl runs operator tasks against the ledger database: applying
// migrations and issuing API keys. It reads the same configuration as ledgerd.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/example/business-ledger/internal/app"
	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/config"
)

const usage = `usage:
  ledgerctl migrate
  ledgerctl apikey create -name <business name>
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch args[0] {
	case "migrate":
		return withStorage(ctx, cfg, logger, stderr, func(*app.Storage) error {
			return nil
		})

	case "apikey":
		if len(args) < 2 || args[1] != "create" {
			fmt.Fprint(stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("apikey create", flag.ContinueOnError)
		fs.SetOutput(stderr)
		name := fs.String("name", "", "business name the key belongs to")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		return withStorage(ctx, cfg, logger, stderr, func(s *app.Storage) error {
			raw, key, err := auth.Issue(ctx, s.Keys, *name)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "api_key_id: %s\nbusiness:   %s\napi_key:    %s\n", key.ID, key.BusinessName, raw)
			fmt.Fprintln(stderr, "store the api key now; it cannot be shown again")
			return nil
		})

	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

// withStorage opens and migrates the database, then runs fn.
func withStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger, stderr io.Writer, fn func(*app.Storage) error) int {
	s, err := app.OpenStorage(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintln(stderr, "database:", err)
		return 1
	}
	defer s.Close()

	if err := s.Migrate(ctx, logger); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := fn(s); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
