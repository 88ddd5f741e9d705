package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/permitworks/permittrack/internal/app"
	"github.com/permitworks/permittrack/internal/config"
	"github.com/permitworks/permittrack/internal/storage"
	"github.com/permitworks/permittrack/internal/syncer"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "permittrack",
		Short:         "Permit tracking data store and synchronizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file path")

	root.AddCommand(
		newSyncCommand(&configPath),
		newWatchCommand(&configPath),
		newExportCommand(&configPath),
		newImportCommand(&configPath),
	)
	return root
}

type runtimeEnv struct {
	cfg     config.Config
	log     zerolog.Logger
	store   storage.DataStore
	service *app.Service
}

func setup(configPath string) (*runtimeEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	store, err := storage.Open(storage.Options{
		Backend:       cfg.Backend,
		DataDir:       cfg.DataDir,
		PostgresDSN:   cfg.Postgres.DSN,
		PostgresTable: cfg.Postgres.Table,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	service := app.NewService(store, log)
	warning, err := service.Initialize()
	if err != nil {
		return nil, err
	}
	if warning != "" {
		fmt.Fprintln(os.Stderr, "warning:", warning)
	}
	return &runtimeEnv{cfg: cfg, log: log, store: store, service: service}, nil
}

func newSyncCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Load the latest shared state and push local data through conflict resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(*configPath)
			if err != nil {
				return err
			}
			if err := env.service.Persist(); err != nil {
				return err
			}
			bundle := env.service.SnapshotBundle()
			fmt.Printf("synced: %d contacts, %d jurisdictions, %d properties, %d permits, %d templates\n",
				len(bundle.Contacts), len(bundle.Jurisdictions), len(bundle.Properties),
				len(bundle.Permits), len(bundle.DocumentTemplates))
			if remote, ok := env.store.(storage.RemoteStore); ok {
				fmt.Printf("revision: %d\n", remote.KnownRevision())
			}
			return nil
		},
	}
}

func newWatchCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the shared state and apply changes from other devices as they land",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env.service.OnRefresh = func() {
				bundle := env.service.SnapshotBundle()
				fmt.Printf("refreshed: %d properties, %d permits\n",
					len(bundle.Properties), len(bundle.Permits))
			}

			if remote, ok := env.store.(storage.RemoteStore); ok {
				notifier := syncer.NewNotifier(remote, env.log)
				notifier.PollInterval = time.Duration(env.cfg.PollInterval)
				env.service.AttachNotifier(notifier)
				notifier.MarkApplied(remote.KnownRevision())

				if env.cfg.Realtime.URL != "" {
					table := env.cfg.Realtime.Table
					if table == "" {
						if pg, ok := env.store.(*storage.RemotePostgresStore); ok {
							table = pg.TableName()
						}
					}
					realtime := syncer.NewRealtimeClient(
						env.cfg.Realtime.URL, env.cfg.Realtime.APIKey,
						env.cfg.Realtime.Schema, table, env.log)
					realtime.OnRevision = func(revision int64) {
						notifier.HandleRevision(revision, syncer.TriggerRealtime)
					}
					go realtime.Run(ctx)
				}
				notifier.Run(ctx)
				return nil
			}

			if jsonStore, ok := env.store.(*storage.LocalJSONStore); ok {
				watcher := syncer.NewFileWatcher(jsonStore.Path(), env.log)
				watcher.OnChange = func() {
					if err := env.service.Reload(); err != nil {
						env.log.Warn().Err(err).Msg("reload after file change failed")
					}
				}
				return watcher.Run(ctx)
			}

			return fmt.Errorf("backend %s has nothing to watch", env.store.Backend())
		},
	}
}

func newExportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the current data to a standalone JSON backup file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(*configPath)
			if err != nil {
				return err
			}
			if err := env.service.ExportJSON(args[0]); err != nil {
				return err
			}
			fmt.Println("exported to", args[0])
			return nil
		},
	}
}

func newImportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a JSON backup file into the current data and save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(*configPath)
			if err != nil {
				return err
			}
			stats, err := env.service.ImportJSON(args[0])
			if err != nil {
				return err
			}
			if !stats.Changed {
				fmt.Println("nothing new to import")
				return nil
			}
			if err := env.service.Persist(); err != nil {
				return err
			}
			fmt.Printf("imported: +%d contacts, +%d jurisdictions, +%d properties (%d duplicates skipped), +%d permits, +%d templates\n",
				stats.ContactsAdded, stats.JurisdictionsAdded,
				stats.PropertiesAdded, stats.PropertiesDuplicatesSkipped,
				stats.PermitsAdded, stats.DocumentTemplatesAdded)
			return nil
		},
	}
}
