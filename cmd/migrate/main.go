package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sentinal-realtime/config"
	"sentinal-realtime/internal/repository"
	"sentinal-realtime/pkg/database"
	"sentinal-realtime/pkg/logger"
)

const usage = `
Sentinal Realtime - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create the chat schema, then apply extra SQL files
  status      Show database connection status and table counts

Flags:
  -migrations string   Path to extra SQL migrations (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger.SetGlobalLogger(logger.New(logger.DevelopmentMode))

	cfg := config.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DSN(), 2)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer pool.Close()

	switch command := flag.Arg(0); command {
	case "up":
		runMigrationsUp(ctx, pool, *migrationsDir)
	case "status":
		showStatus(ctx, pool)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) {
	log.Println("Running migrations UP...")

	if err := repository.InitSchema(ctx, pool); err != nil {
		log.Fatalf("Schema migration failed: %v", err)
	}
	if err := database.ApplyRawMigrations(ctx, pool, migrationsDir); err != nil {
		log.Fatalf("Raw migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}

func showStatus(ctx context.Context, pool *pgxpool.Pool) {
	log.Println("Checking database status...")

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connection: OK")

	for _, table := range repository.Tables {
		exists, err := database.TableExists(ctx, pool, table)
		if err != nil {
			log.Printf("Error checking table %s: %v", table, err)
			continue
		}
		if !exists {
			log.Printf("Table %-20s does not exist", table)
			continue
		}
		count, _ := database.TableCount(ctx, pool, table)
		log.Printf("Table %-20s exists (%d rows)", table, count)
	}
}
