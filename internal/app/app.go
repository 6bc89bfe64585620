package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"poolwatcher/internal/alerting"
	"poolwatcher/internal/config"
	"poolwatcher/internal/coordinator"
	"poolwatcher/internal/labcom"
	"poolwatcher/internal/metrics"
	"poolwatcher/internal/scheduler"
	"poolwatcher/internal/storage"
)

// setupTimeout bounds token verification and device discovery at startup.
const setupTimeout = 30 * time.Second

// ErrNoDevices indicates discovery found no pools; nothing downstream can
// function, so setup fails with this distinguishable condition.
var ErrNoDevices = errors.New("no devices discovered in labcom account")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *labcom.Client {
	return labcom.NewClient(labcom.Options{
		BaseURL:           a.Config.Labcom.BaseURL,
		Token:             a.Config.Labcom.Token,
		RequestTimeout:    a.Config.Labcom.RequestTimeout,
		MinRequestSpacing: a.Config.Labcom.MinRequestSpacing,
		RateLimitCooldown: a.Config.Labcom.RateLimitCooldown,
		MaxAttempts:       a.Config.Labcom.MaxAttempts,
		UserAgent:         a.Config.Labcom.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// validateSetup verifies the credential and discovers devices, forcing one
// real fetch through the shared cache. Zero devices is fatal: the upstream
// has no device-listing endpoint, so an account without measurements has
// nothing to monitor.
func (a *App) validateSetup(ctx context.Context, cache *labcom.Cache) ([]labcom.Device, error) {
	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	measurements, err := cache.All(setupCtx, true)
	if err != nil {
		if errors.Is(err, labcom.ErrInvalidToken) {
			return nil, fmt.Errorf("verify labcom token: %w", err)
		}
		return nil, fmt.Errorf("fetch measurements during setup: %w", err)
	}

	devices := labcom.DiscoverDevices(measurements)
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// Run executes the long-running monitoring service: one refresh coordinator
// per discovered device, sharing a single throttled client and measurement
// cache, plus the optional metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newClient()
	cache := labcom.NewCache(client, a.Config.Labcom.CacheTTL, a.Logger)

	devices, err := a.validateSetup(ctx, cache)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("devices", len(devices)).Msg("labcom token verified, devices discovered")

	notifier := a.newNotifier()

	var gauges *metrics.Registry
	if a.Config.Metrics.Enabled {
		gauges = metrics.NewRegistry()
	}

	var readingStore storage.ReadingStore
	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		readingStore = store
		alertStore = store
		locker = store
	}

	coordinators := make([]*coordinator.Coordinator, 0, len(devices))
	for _, device := range devices {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		coord := coordinator.New(coordinator.Options{
			Device:          device,
			AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
			Alerts: coordinator.AlertPolicy{
				Enabled:             a.Config.Alerting.Enabled,
				CombinedChlorineMax: a.Config.Alerting.CombinedChlorineMax,
				Cooldown:            a.Config.Alerting.Cooldown,
				Channels:            a.Config.Alerting.Channels,
			},
		}, cache, client, sched, readingStore, alertStore, locker, notifier, gauges, a.Logger)

		a.Logger.Info().Str("device", device.ID).Str("name", device.Name).Msg("starting device coordinator")
		coordinators = append(coordinators, coord)
	}

	var wg sync.WaitGroup
	for _, coord := range coordinators {
		wg.Add(1)
		go func(c *coordinator.Coordinator) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("coordinator terminated with error")
			}
		}(coord)
	}

	if gauges != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, a.Config.Metrics.ListenAddr, gauges, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint terminated with error")
			}
		}()
	}

	a.Logger.Info().Msg("monitoring service started")
	wg.Wait()
	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical readings.
type ExportOptions struct {
	Device    string
	Parameter string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// BackfillOptions configure the history backfill job.
type BackfillOptions struct {
	Hours  int
	DryRun bool
}
