// Package main provides a database migration runner for the directory schema.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cory-johannsen/officeverse/internal/config"
	"github.com/cory-johannsen/officeverse/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := pflag.String("config", "configs/dev.yaml", "path to configuration file")
	direction := pflag.String("direction", "up", "migration direction: up or down")
	steps := pflag.Int("steps", 0, "number of steps (0 = all)")
	pflag.Parse()

	v := config.NewViper(*configPath)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("reading config: %v", err)
	}

	var dbCfg config.DatabaseConfig
	if err := v.UnmarshalKey("database", &dbCfg); err != nil {
		log.Fatalf("parsing database config: %v", err)
	}

	res, err := postgres.Migrate(dbCfg.DSN(), *direction, *steps)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	elapsed := time.Since(start)
	if res.NoChange {
		fmt.Fprintf(os.Stdout, "no changes (version=%d dirty=%v) [%s]\n", res.Version, res.Dirty, elapsed)
	} else {
		fmt.Fprintf(os.Stdout, "migrated %s to version=%d dirty=%v [%s]\n", *direction, res.Version, res.Dirty, elapsed)
	}
}
