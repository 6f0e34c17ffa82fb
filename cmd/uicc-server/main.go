package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/api"
	"github.com/uicc-server/uicc-server-pro/internal/config"
	"github.com/uicc-server/uicc-server-pro/internal/ril"
	"github.com/uicc-server/uicc-server-pro/internal/storage"
	"github.com/uicc-server/uicc-server-pro/internal/telephony"
	"github.com/uicc-server/uicc-server-pro/internal/uicc"
	"github.com/uicc-server/uicc-server-pro/pkg/crypto"
)

func main() {
	// Command line flags
	var (
		configFile   string
		validateOnly bool
		showConfig   bool
		hashPassword string
	)
	flag.StringVar(&configFile, "config", "config/uicc-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print effective configuration and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of the given password and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if validateOnly {
		log.Info().Msg("Configuration is valid")
		return
	}
	if showConfig {
		cfg.PrintSummary()
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg.PrintSummary()

	// Storage: Postgres when a DSN is configured, in-memory otherwise
	var store storage.Store
	if cfg.Database.DSN != "" {
		pgStore, err := storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = pgStore
		log.Info().Msg("Connected to database")
	} else {
		store = storage.NewMemoryStore()
		log.Warn().Msg("No database configured, state will not survive restarts")
	}
	defer store.Close()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS (the modem link; required)
	log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("uicc-server"),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().
				Err(err).
				Str("subject", sub.Subject).
				Msg("NATS error")
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()
	log.Info().Msg("Connected to NATS")

	// Brand override cache
	brands, err := telephony.NewBrandCache(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load brand overrides")
	}

	// Wire the card stack: modem client, telephony publisher, controller
	modem := ril.NewClient(nc, cfg.NATS.RequestTimeout)
	publisher := telephony.NewPublisher(nc, store)

	controller := uicc.NewController(uicc.ControllerConfig{
		PhoneCount:             cfg.UICC.PhoneCount,
		PhysicalSlots:          cfg.UICC.PhysicalSlots,
		CdmaSupported:          cfg.UICC.CdmaSupported,
		RadioOffOnRefreshReset: cfg.UICC.RadioOffOnRefreshReset,
	}, modem, modem, modem, publisher, brands)

	// Prime the card tree with the current modem view
	controller.RefreshSlotStatus()
	for phoneID := 0; phoneID < controller.PhoneCount(); phoneID++ {
		controller.RefreshCardStatus(phoneID)
	}

	// WaitGroup for services
	var wg sync.WaitGroup

	// Start RIL notification subscriber
	subscriber := ril.NewSubscriber(nc, controller)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("RIL subscriber stopped")
		}
	}()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, controller, publisher, brands)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("UICC server stopped")
}
