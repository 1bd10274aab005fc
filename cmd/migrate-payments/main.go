package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vpnpay/core/config"
	"github.com/vpnpay/core/internal/models"
	"github.com/vpnpay/core/internal/repository"
	"github.com/vpnpay/core/internal/storemigrate"
	"github.com/vpnpay/core/pkg/database"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "don't write to the destination store, just report what would migrate")
	legacyTable := flag.String("legacy-table", "payments_legacy", "legacy table name to read rows from")
	legacyURL := flag.String("legacy-database-url", os.Getenv("LEGACY_DATABASE_URL"), "connection string for the legacy schema; defaults to LEGACY_DATABASE_URL, falls back to the primary database if unset")
	flag.Parse()

	log.Println("Starting payment store migration...")
	log.Printf("Configuration: dry_run=%t, legacy_table=%s", *dryRun, *legacyTable)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to destination database: %v", err)
	}
	defer db.Close()

	legacyDSN := *legacyURL
	if legacyDSN == "" {
		legacyDSN = cfg.Database.GetDatabaseURL()
	}
	legacyDB, err := sql.Open("pgx", legacyDSN)
	if err != nil {
		log.Fatalf("Failed to open legacy database: %v", err)
	}
	defer legacyDB.Close()
	if err := legacyDB.PingContext(context.Background()); err != nil {
		log.Fatalf("Failed to ping legacy database: %v", err)
	}

	paymentRepo := repository.NewPaymentRepository(db.Pool)
	m := storemigrate.NewMigrator(legacyDB, paymentRepo)

	ctx := context.Background()
	stats, err := m.Migrate(ctx, *legacyTable, *dryRun)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("=== Migration Summary ===")
	log.Printf("Rows seen: %d, migrated: %d, duplicates: %d, failed: %d", stats.Total, stats.Success, stats.Duplicates, stats.Failed)

	if *dryRun {
		log.Println("Dry run completed; rerun with -dry-run=false to write.")
		return
	}

	legacyCount, err := countLegacyRows(ctx, legacyDB, *legacyTable)
	if err != nil {
		log.Printf("WARNING: could not validate migration: %v", err)
		return
	}
	newCount, err := paymentRepo.CountFiltered(ctx, models.PaymentFilter{})
	if err != nil {
		log.Printf("WARNING: could not validate migration: %v", err)
		return
	}
	validation := storemigrate.Validate(ctx, legacyCount, newCount, stats.Duplicates)
	log.Printf("Validation: legacy=%d new=%d valid=%t", validation.LegacyCount, validation.NewCount, validation.Valid)
	if !validation.Valid {
		log.Println("Migration completed with discrepancies; inspect before relying on the destination store.")
	} else {
		log.Println("Migration completed successfully.")
	}
}

func countLegacyRows(ctx context.Context, legacyDB *sql.DB, table string) (int, error) {
	var n int
	err := legacyDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}
