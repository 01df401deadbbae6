package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubwatch/hubwatch/config"
	"github.com/hubwatch/hubwatch/internal/api"
	"github.com/hubwatch/hubwatch/internal/ci"
	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/notify"
	"github.com/hubwatch/hubwatch/internal/reconcile"
	"github.com/hubwatch/hubwatch/internal/server"
	syncer "github.com/hubwatch/hubwatch/internal/sync"
	"github.com/hubwatch/hubwatch/internal/webhook"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "hubwatch",
		Short: "Mirrors GitHub repository state and fans out notifications",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to configuration file")

	root.AddCommand(initCmd(), serveCmd(), syncCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfig(configPath); err != nil {
				return err
			}
			log.Printf("Created default configuration at %s", configPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.db.Close()

			srv := server.New(app.db, app.router, app.syncer, app.aggregator)
			return srv.ListenAndServe(app.cfg.ListenAddr)
		},
	}
}

func syncCmd() *cobra.Command {
	var repoFlag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a one-shot full sync of the configured repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.db.Close()

			repos := app.cfg.Repositories
			if repoFlag != "" {
				repos = []string{repoFlag}
			}

			ctx := context.Background()
			start := time.Now()
			for _, repoStr := range repos {
				owner, name, err := syncer.ParseRepositoryString(repoStr)
				if err != nil {
					log.Printf("Skipping invalid repository %s: %v", repoStr, err)
					continue
				}
				if err := app.syncer.SyncRepository(ctx, owner, name); err != nil {
					log.Printf("Failed to sync repository %s: %v", repoStr, err)
					continue
				}
			}
			log.Printf("Sync completed in %v", time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoFlag, "repo", "", "sync a single repository (format: owner/name)")
	return cmd
}

type app struct {
	cfg        *config.Config
	db         *db.DB
	syncer     *syncer.Syncer
	router     *webhook.Router
	aggregator *ci.Aggregator
}

func buildApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, err
	}

	client := api.NewGitHubClient(cfg.GitHubToken)
	var linker syncer.Linker
	if cfg.GitHubToken != "" {
		// The GraphQL API rejects unauthenticated requests outright.
		linker = api.NewGraphQLClient(cfg.GitHubToken)
	}

	reconciler := reconcile.New(database)
	s := syncer.New(database, client, linker, reconciler)
	s.SetStaleAfter(time.Duration(cfg.StaleAfterSeconds) * time.Second)
	notifier := notify.New(database, cfg.DevMode)
	router := webhook.NewRouter(database, reconciler, s, notifier, cfg.WebhookSecret)
	aggregator := ci.New(database, client)

	return &app{
		cfg:        cfg,
		db:         database,
		syncer:     s,
		router:     router,
		aggregator: aggregator,
	}, nil
}
