package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/afero"

	"dockycal/internal/config"
	"dockycal/internal/docstore"
	"dockycal/internal/google"
	appLog "dockycal/internal/log"
	"dockycal/internal/store"
	"dockycal/internal/syncer"
	"dockycal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	appLog.EnableFile(appLog.FileOptions{
		Path:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
		MaxAgeDays: conf.Log.MaxAgeDays,
	})
	defer appLog.Close()

	appLog.Info("dockycal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"rolling_days", conf.RollingDays,
		"store_driver", conf.Store.Driver,
		"store_path", conf.Store.Path,
		"google_enabled", conf.Google.Enabled,
		"sync_cron", conf.Google.SyncCron,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	docs, closeDocs := openDocumentStore(ctx, conf)
	defer closeDocs()

	st := store.New(docs, nil)
	st.SetLocation(conf.Location())
	st.Load(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.Run(ctx)
	}()

	var runner web.SyncRunner
	if sy := setupProvider(ctx, conf, st); sy != nil {
		runner = sy
	}

	srv := web.NewServer(conf, st, runner)
	if err := web.StartServer(ctx, conf, srv.Handler()); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	wg.Wait()
	appLog.Info("dockycal exiting")
}

// openDocumentStore picks the persistence backend. A backend that cannot
// be opened is logged and the process runs without persistence.
func openDocumentStore(ctx context.Context, conf *config.Config) (store.DocumentStore, func()) {
	noop := func() {}

	switch conf.Store.Driver {
	case "sqlite":
		path := conf.Store.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "dockycal.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			appLog.Error("failed to create store directory", err, "path", path)
			return nil, noop
		}
		db, err := docstore.OpenSQLite(ctx, path, conf.Store.Collection)
		if err != nil {
			appLog.Error("failed to open sqlite store; running without persistence", err, "path", path)
			return nil, noop
		}
		return db, func() {
			if err := db.Close(); err != nil {
				appLog.Error("failed to close sqlite store", err)
			}
		}
	default:
		fs, err := docstore.NewFileStore(afero.NewOsFs(), conf.Store.Path, conf.Store.Collection)
		if err != nil {
			appLog.Error("failed to open file store; running without persistence", err, "path", conf.Store.Path)
			return nil, noop
		}
		return fs, noop
	}
}

// setupProvider links the Google calendar when configured: the store gets
// a remote for deletes and exports, and the syncer starts on its schedule.
func setupProvider(ctx context.Context, conf *config.Config, st *store.Store) *syncer.Syncer {
	g := conf.Google
	if !g.Enabled {
		return nil
	}

	identity := google.Identity{Email: g.Email, Providers: g.Providers}
	tokens, err := google.NewSessionTokens(identity, google.OAuthConfig{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RefreshToken: g.RefreshToken,
	}, google.NewTokenCache(afero.NewOsFs(), g.TokenCache))
	if err != nil {
		appLog.Error("google calendar disabled", err, "email", g.Email)
		return nil
	}

	client, err := google.New(ctx, tokens, google.Config{
		CalendarID:        g.CalendarID,
		TimeZone:          g.TimeZone,
		RequestsPerSecond: g.RequestsPerSecond,
	})
	if err != nil {
		appLog.Error("google calendar disabled", err)
		return nil
	}
	st.SetRemote(client)

	sy := syncer.New(client, st, syncer.Options{
		Location:   conf.Location(),
		PastDays:   g.SyncPastDays,
		FutureDays: g.SyncFutureDays,
	})
	if g.SyncCron != "" {
		if err := sy.Start(ctx, g.SyncCron); err != nil {
			appLog.Error("scheduled sync disabled", err)
		}
	}
	return sy
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
