package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ms-tourbooking/internal/config"
	"ms-tourbooking/internal/database"
	"ms-tourbooking/internal/database/migrations"
	"ms-tourbooking/internal/logger"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: migrate [flags] <command>

Commands:
  up        apply every pending migration, demo data included
  schema    apply schema migrations only
  down      roll back every migration
  to N      migrate up or down to version N
  version   print the current version
  reset     drop and recreate the tables from the bun models (development only)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	dir := flag.String("dir", "", "migrations directory (default MIGRATIONS_DIR or ./migrations)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	if *dir != "" {
		cfg.Database.MigrationsDir = *dir
	}

	ctx := context.Background()
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB.DB, migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		SeedData:      flag.Arg(0) == "up",
	}, log)
	defer runner.Close()

	if err := run(ctx, flag.Args(), runner, bunDB, log); err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, runner *migrations.Runner, bunDB *bun.DB, log *logger.Logger) error {
	switch args[0] {
	case "up", "schema":
		return runner.Run()
	case "down":
		if err := runner.Down(); err != nil {
			return err
		}
		log.Info("MIGRATE", "✅ All migrations rolled back")
		return nil
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("to: missing version")
		}
		var version uint
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("to: invalid version %q", args[1])
		}
		if err := runner.To(version); err != nil {
			return err
		}
		log.Info("MIGRATE", fmt.Sprintf("✅ Migrated to version %d", version))
		return nil
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	case "reset":
		if err := database.ResetSchema(ctx, bunDB); err != nil {
			return err
		}
		log.Warn("MIGRATE", "Tables dropped and recreated from the models")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
