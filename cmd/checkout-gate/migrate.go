package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"checkout-gate/checkout/infra"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Cria as tabelas do gate no Postgres",
	Long: `Aplica o schema (payment_attempts e registered_sales) no banco de DATABASE_URL.

É idempotente; pode rodar a cada deploy.

Examples:
  DATABASE_URL=postgres://... checkout-gate migrate`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err := infra.OpenPostgres(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := infra.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Println("schema applied")
	return nil
}
