// Command migrate applies the fact store schema to PostgreSQL.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/businessrules/internal/logger"
)

type options struct {
	databaseURL    string
	migrationsPath string
	command        string
	args           []string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&o.databaseURL, "database", os.Getenv("DATABASE_URL"), "Database URL (defaults to DATABASE_URL)")
	fs.StringVar(&o.migrationsPath, "path", "migrations", "Path to migrations directory")
	fs.StringVar(&o.command, "command", "up", "Migration command: up, down, steps, version, force")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.args = fs.Args()

	if o.databaseURL == "" {
		return o, errors.New("database URL is required: use -database or DATABASE_URL")
	}
	return o, nil
}

// intArg reads the single integer argument of steps and force
func intArg(o options) (int, error) {
	if len(o.args) < 1 {
		return 0, fmt.Errorf("%s requires a number: -command %s <n>", o.command, o.command)
	}
	n, err := strconv.Atoi(o.args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", o.args[0], err)
	}
	return n, nil
}

func run(m *migrate.Migrate, o options) error {
	switch o.command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("facts schema is up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("migrations applied")

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		logger.Info("migrations rolled back")

	case "steps":
		n, err := intArg(o)
		if err != nil {
			return err
		}
		if err := m.Steps(n); err != nil {
			return fmt.Errorf("failed to migrate %d steps: %w", n, err)
		}
		logger.Info("migrated steps", "steps", n)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migration applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Info("current version", "version", version, "dirty", dirty)

	case "force":
		n, err := intArg(o)
		if err != nil {
			return err
		}
		if err := m.Force(n); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		logger.Info("forced version", "version", n)

	default:
		return fmt.Errorf("unknown command: %s (use: up, down, steps, version, force)", o.command)
	}
	return nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		logger.Fatal("invalid arguments", "error", err)
	}

	logger.Info("connecting to database", "migrations", o.migrationsPath)
	m, err := migrate.New("file://"+o.migrationsPath, o.databaseURL)
	if err != nil {
		logger.Fatal("failed to create migration instance", "error", err)
	}
	defer m.Close()

	if err := run(m, o); err != nil {
		logger.Fatal("migration failed", "command", o.command, "error", err)
	}
}
