// The funding-arb bot: scans two perpetual-futures venues for the best
// delta-neutral funding setup, opens the pair, collects funding, and rotates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ducminhle1904/funding-arb-bot/internal/bot"
	"github.com/ducminhle1904/funding-arb-bot/internal/config"
	"github.com/ducminhle1904/funding-arb-bot/internal/exchange"
	"github.com/ducminhle1904/funding-arb-bot/internal/exchange/aster"
	"github.com/ducminhle1904/funding-arb-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/funding-arb-bot/internal/logger"
	"github.com/ducminhle1904/funding-arb-bot/internal/monitoring"
	"github.com/ducminhle1904/funding-arb-bot/internal/notifications"
	"github.com/ducminhle1904/funding-arb-bot/internal/safety"
	"github.com/ducminhle1904/funding-arb-bot/internal/state"
)

func main() {
	configPath := flag.String("config", "configs/funding_bot.json", "path to the bot configuration file")
	statePath := flag.String("state-file", "funding_bot_state.json", "path to the durable state file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logDir := flag.String("log-dir", "logs", "directory for the JSON log sink, empty disables")
	flag.Parse()

	if err := run(*configPath, *statePath, *logLevel, *logDir); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, statePath, logLevel, logDir string) error {
	// .env is optional; real deployments export the variables directly
	_ = godotenv.Load()

	log, closer, err := logger.New(logger.Options{Level: logLevel, LogDir: logDir, Console: true})
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cfg, err := config.Load(configPath, log)
	if err != nil {
		return err
	}

	creds, err := loadCredentials()
	if err != nil {
		return err
	}

	bybitAdapter := bybit.NewAdapter(bybit.Config{
		APIKey:    creds.bybitKey,
		APISecret: creds.bybitSecret,
		Testnet:   cfg.Venues.BybitTestnet,
		Demo:      cfg.Venues.BybitDemo,
	})
	asterAdapter := aster.NewAdapter(aster.Config{
		APIKey:         creds.asterKey,
		APISecret:      creds.asterSecret,
		FuturesBaseURL: cfg.Venues.AsterFuturesURL,
		SpotBaseURL:    cfg.Venues.AsterSpotURL,
	})
	venues := map[exchange.Venue]exchange.Adapter{
		exchange.VenueBybit: bybitAdapter,
		exchange.VenueAster: asterAdapter,
	}

	coord := safety.NewCoordinator(
		map[exchange.Venue]int{
			exchange.VenueBybit: cfg.RateLimits.BybitPermits,
			exchange.VenueAster: cfg.RateLimits.AsterPermits,
		},
		safety.RetryConfig{
			MaxRetries:    cfg.RateLimits.MaxRetries,
			InitialDelay:  time.Duration(cfg.RateLimits.InitialDelayS * float64(time.Second)),
			MaxDelay:      time.Duration(cfg.RateLimits.MaxDelayS * float64(time.Second)),
			BackoffFactor: 2,
			JitterEnabled: cfg.RateLimits.JitterEnabled,
		},
		log,
	)
	coord.OnRetry(func(venue exchange.Venue) {
		monitoring.RecordRetry(string(venue))
	})
	coord.OnError(func(venue exchange.Venue, kind exchange.ErrorKind) {
		monitoring.RecordVenueError(string(venue), string(kind))
	})

	var notifier notifications.Notifier = notifications.Noop{}
	if nc := cfg.Notifications; nc != nil && nc.Enabled && nc.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(nc.TelegramToken, nc.TelegramChat)
	}

	health := monitoring.NewHealthChecker()
	if cfg.Monitoring.Enabled {
		startMonitoringServer(cfg.Monitoring.ListenAddr, health, log)
	}

	states := state.NewManager(statePath, log)

	engine := bot.New(bot.Deps{
		Config:     cfg,
		ConfigPath: configPath,
		Log:        log,
		States:     states,
		VenueA:     exchange.VenueBybit,
		VenueB:     exchange.VenueAster,
		Venues:     venues,
		Coord:      coord,
		Notifier:   notifier,
		Health:     health,
		Out:        os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("config", configPath).
		Str("state_file", statePath).
		Msg("starting funding-arb bot")

	return engine.Run(ctx)
}

type credentials struct {
	bybitKey    string
	bybitSecret string
	asterKey    string
	asterSecret string
}

// loadCredentials reads the venue API keys from the environment. Keys are
// only checked for presence; the first authenticated call validates them.
func loadCredentials() (*credentials, error) {
	creds := &credentials{
		bybitKey:    os.Getenv("BYBIT_API_KEY"),
		bybitSecret: os.Getenv("BYBIT_API_SECRET"),
		asterKey:    os.Getenv("ASTER_API_KEY"),
		asterSecret: os.Getenv("ASTER_API_SECRET"),
	}

	var missing []string
	if creds.bybitKey == "" {
		missing = append(missing, "BYBIT_API_KEY")
	}
	if creds.bybitSecret == "" {
		missing = append(missing, "BYBIT_API_SECRET")
	}
	if creds.asterKey == "" {
		missing = append(missing, "ASTER_API_KEY")
	}
	if creds.asterSecret == "" {
		missing = append(missing, "ASTER_API_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return creds, nil
}

// startMonitoringServer serves /metrics and /health in the background. A
// failure to bind is logged, not fatal: trading does not depend on scraping.
func startMonitoringServer(addr string, health *monitoring.HealthChecker, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	mux.Handle("/health", health)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("monitoring server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("monitoring endpoints listening")
}
