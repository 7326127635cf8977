// migrate runs DB migrations from embedded SQL; use with ./scripts/migrate.sh or go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"kiosk-control-plane/backend/internal/config"
	"kiosk-control-plane/backend/internal/db/migrate"
)

func main() {
	directionFlag := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	direction, err := migrate.ParseDirection(*directionFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	if version, dirty, err := migrate.Version(cfg.DatabaseURL); err == nil {
		fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	}
}
