// cmd/seqflow-migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/ignatij/seqflow/internal/cli"
	"github.com/ignatij/seqflow/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "seqflow-migrate"}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Printf("Failed to load configuration: %v\n", err)
			os.Exit(1)
		}

		driver, dsn := cfg.Database.Driver, cfg.Database.URL
		if flagDriver, _ := cmd.Flags().GetString("driver"); flagDriver != "" {
			driver = flagDriver
		}
		if flagDB, _ := cmd.Flags().GetString("db"); flagDB != "" {
			dsn = flagDB
		}
		if dsn == "" {
			fmt.Println("Error: --db flag, SEQFLOW_DATABASE_URL or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
			os.Exit(1)
		}

		if err := cli.MigrateDatabase(driver, dsn); err != nil {
			fmt.Printf("Failed to apply migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied successfully")
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("config", "", "Path to a YAML config file")
	migrateCmd.Flags().String("driver", "", "Database driver: postgres or sqlite (defaults to database.driver)")
	migrateCmd.Flags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
