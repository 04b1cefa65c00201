package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/hong710/nexhub/internal/api"
	"github.com/hong710/nexhub/internal/config"
	"github.com/hong710/nexhub/internal/log"
	"github.com/hong710/nexhub/internal/migrations"
	"github.com/hong710/nexhub/internal/reconcile"
	_ "modernc.org/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:   "nexhub",
		Short: "Infrastructure inventory with an IPAM allocation ledger",
	}
	root.AddCommand(serveCmd(), reconcileCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd starts the HTTP API
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the nexhub web service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log.Configure(cfg.LogLevel, cfg.LogFormat)

			db, err := cfg.InitializeDatabase()
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)

			a := api.NewAPI(db, cfg.AgentKey)
			a.RegisterRoutes(r)

			// Health check endpoint
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				if _, err := fmt.Fprintln(w, "nexhub is running"); err != nil {
					log.Error("failed to write response", "error", err)
				}
			})

			if cfg.AgentKey == "" {
				log.Warn("NEXHUB_AGENT_KEY is not set; agent ingestion is disabled")
			}
			log.Info("starting nexhub", "port", cfg.Port)
			return http.ListenAndServe(":"+cfg.Port, r)
		},
	}
}

// reconcileCmd runs a full ledger rebuild and prints the census
func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the allocation ledger from subnets and devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log.Configure(cfg.LogLevel, cfg.LogFormat)

			db, err := cfg.InitializeDatabase()
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			summary, err := reconcile.NewEngine(db).ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Reconciled %d subnets and %d devices\n", summary.Subnets, summary.Devices)
			fmt.Printf("  Total Records: %d\n", summary.Counts.Total)
			fmt.Printf("  Available:     %d\n", summary.Counts.Available)
			fmt.Printf("  Allocated:     %d\n", summary.Counts.Allocated)
			fmt.Printf("  Reserved:      %d\n", summary.Counts.Reserved)
			fmt.Printf("  Quarantine:    %d\n", summary.Counts.Quarantine)
			return nil
		},
	}
}

// migrateCmd applies pending migrations and reports the schema version
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			db, err := cfg.InitializeDatabase()
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			version, err := migrations.NewMigrator(db).GetCurrentVersion()
			if err != nil {
				return err
			}
			fmt.Printf("Database is at schema version %d\n", version)
			return nil
		},
	}
}
