package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradehook/internal/api"
	"tradehook/internal/combo"
	"tradehook/internal/events"
	"tradehook/internal/executor"
	"tradehook/internal/expiry"
	"tradehook/internal/notify"
	"tradehook/internal/position"
	"tradehook/internal/risk"
	"tradehook/internal/stream"
	"tradehook/internal/venue"
	"tradehook/pkg/config"
	"tradehook/pkg/crypto"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/bitflex"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database open failed: %v", err)
	}
	defer database.Close()
	if err := database.Init(); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	vault, err := crypto.NewVault()
	if err != nil {
		log.Fatalf("credential vault init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	// Position tracking
	store := position.NewStore(database)
	if err := store.Load(ctx); err != nil {
		log.Fatalf("position load failed: %v", err)
	}

	// Venue adapter pool
	venues := venue.NewManager(database, vault, venue.NewVenue, venue.DefaultPoolConfig())
	venues.Start(ctx)
	defer venues.Stop()

	// Risk
	settings := risk.NewSettingsStore(cfg.RiskSettingsPath)
	settings.StartRefresh(ctx, cfg.RiskSettingsRefresh)
	counters := risk.NewCounters(database)
	engine := risk.NewEngine(settings, counters, store)

	// Executor
	exec := executor.New(engine, venues, store, counters, database, bus, executor.SizingConfig{
		BaseUSD:     cfg.BasePositionUSD,
		Multipliers: cfg.VenueMultipliers,
		Overrides:   cfg.VenueOverrides,
	})

	// Background sweeps
	reconciler := position.NewReconciler(store, database, venues, bus, cfg.ReconcileInterval)
	go reconciler.Run(ctx)

	window, err := combo.ParseWindow(cfg.TradingWindow)
	if err != nil {
		log.Fatalf("trading window: %v", err)
	}
	comboMonitor := combo.NewMonitor(database, venues, bus, window, cfg.ComboPollInterval)
	go comboMonitor.Run(ctx)

	expiryMonitor, err := expiry.NewMonitor(database, venues, bus, expiry.Config{
		Mode:       cfg.ExpiryMode,
		MaxAge:     cfg.ExpiryMaxAge,
		Timezone:   cfg.SessionTimezone,
		SessionEnd: cfg.SessionEnd,
		Buffer:     cfg.SessionEndBuffer,
		Interval:   cfg.ExpirySweepInterval,
	})
	if err != nil {
		log.Fatalf("expiry monitor: %v", err)
	}
	go expiryMonitor.Run(ctx)

	// Notifications
	notifier := notify.New(database, bus, notify.LogSender())
	notifier.Start(ctx)
	defer notifier.Stop()

	// Optional push feed: one stream per account that holds an active
	// bitflex credential at startup.
	if cfg.EnableUserStream {
		startUserStreams(ctx, database, vault, store, bus)
	}

	server := api.NewServer(bus, database, exec, store, settings, venues, vault, cfg.JWTSecret)
	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := server.Router.Run(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

func startUserStreams(ctx context.Context, database *db.Database, vault *crypto.Vault, store *position.Store, bus *events.Bus) {
	creds, err := database.ListActiveCredentials(ctx)
	if err != nil {
		log.Printf("user streams: list credentials: %v", err)
		return
	}
	for _, cred := range creds {
		if cred.VenueType != venue.TypeBitflex {
			continue
		}
		secret, err := vault.Open(cred.SecretEncrypted)
		if err != nil {
			log.Printf("user streams: decrypt for %s: %v", cred.AccountID, err)
			continue
		}
		client := bitflex.New(bitflex.Config{APIKey: cred.APIKey, APISecret: secret, Sandbox: cred.Sandbox})
		stream.NewUserStream(client, store, database, bus, cred.AccountID).Start(ctx)
	}
}
