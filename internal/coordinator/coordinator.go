package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"poolwatcher/internal/alerting"
	"poolwatcher/internal/chem"
	"poolwatcher/internal/labcom"
	"poolwatcher/internal/metrics"
	"poolwatcher/internal/scheduler"
	"poolwatcher/internal/storage"
)

// activeChlorineTimeout bounds the best-effort secondary calculation; on
// expiry the cycle simply omits the breakdown.
const activeChlorineTimeout = 20 * time.Second

// MeasurementCache supplies the shared measurement set.
type MeasurementCache interface {
	All(ctx context.Context, force bool) ([]labcom.Measurement, error)
}

// ChlorineCalculator runs the upstream ActiveChlorine calculation.
type ChlorineCalculator interface {
	FetchActiveChlorine(ctx context.Context, temperature, ph, chlorine, cya float64) (*labcom.ActiveChlorine, error)
}

// Snapshot is the versioned per-device result consumed by presentation
// surfaces. It is replaced wholesale on every successful refresh and never
// patched in place.
type Snapshot struct {
	DeviceID     string
	DeviceName   string
	LatestValues map[string]labcom.Measurement
	Derived      map[string]*float64
	LastSuccess  bool
	LastUpdate   time.Time
}

// AlertPolicy configures the combined-chlorine alert.
type AlertPolicy struct {
	Enabled             bool
	CombinedChlorineMax float64
	Cooldown            time.Duration
	Channels            []string
}

// Options wire one coordinator.
type Options struct {
	Device          labcom.Device
	AdvisoryLockKey int64
	Alerts          AlertPolicy
}

// Coordinator owns one device's refresh cycle: it reduces the shared
// measurement set to that device's latest values, derives secondary
// chemistry metrics, and publishes the result as an atomic snapshot with
// persistence, gauges, and alerting as side effects.
type Coordinator struct {
	opts     Options
	cache    MeasurementCache
	calc     ChlorineCalculator
	sched    *scheduler.Scheduler
	store    storage.ReadingStore
	alerts   storage.AlertStore
	locker   storage.AdvisoryLocker
	notifier alerting.Notifier
	gauges   *metrics.Registry
	logger   zerolog.Logger

	mu        sync.RWMutex
	snapshot  Snapshot
	lastAlert time.Time
}

// New constructs a coordinator. store, alerts, locker, notifier, and gauges
// are all optional; the refresh pipeline runs the same without them.
func New(opts Options, cache MeasurementCache, calc ChlorineCalculator, sched *scheduler.Scheduler,
	store storage.ReadingStore, alerts storage.AlertStore, locker storage.AdvisoryLocker,
	notifier alerting.Notifier, gauges *metrics.Registry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		opts:     opts,
		cache:    cache,
		calc:     calc,
		sched:    sched,
		store:    store,
		alerts:   alerts,
		locker:   locker,
		notifier: notifier,
		gauges:   gauges,
		logger: logger.With().
			Str("component", "coordinator").
			Str("device", opts.Device.ID).
			Logger(),
		snapshot: Snapshot{
			DeviceID:     opts.Device.ID,
			DeviceName:   opts.Device.Name,
			LatestValues: map[string]labcom.Measurement{},
			Derived:      map[string]*float64{},
		},
	}
}

// Run drives Refresh on the scheduler interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return c.sched.Run(ctx, c.Refresh)
}

// Snapshot returns a copy of the current snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.snapshot
	snap.LatestValues = make(map[string]labcom.Measurement, len(c.snapshot.LatestValues))
	for k, v := range c.snapshot.LatestValues {
		snap.LatestValues[k] = v
	}
	snap.Derived = make(map[string]*float64, len(c.snapshot.Derived))
	for k, v := range c.snapshot.Derived {
		snap.Derived[k] = v
	}
	return snap
}

// Refresh executes one cycle. A transport failure marks the cycle failed and
// keeps the previous values; a legitimately empty measurement set publishes a
// valid empty snapshot. Only the fetch itself can fail the cycle; derived
// metrics, persistence, and alerting degrade to log lines.
func (c *Coordinator) Refresh(ctx context.Context) error {
	measurements, err := c.cache.All(ctx, false)
	if err != nil {
		c.markFailed()
		return fmt.Errorf("fetch measurements: %w", err)
	}

	latest := labcom.Reconcile(measurements, c.opts.Device.ID)
	if len(latest) == 0 {
		c.logger.Warn().Msg("no measurements for device this cycle")
	}

	derived := map[string]*float64{
		chem.MetricCombinedChlorine: chem.CombinedChlorine(latest),
	}
	c.fetchActiveChlorine(ctx, latest, derived)

	now := time.Now().UTC()
	snap := Snapshot{
		DeviceID:     c.opts.Device.ID,
		DeviceName:   c.opts.Device.Name,
		LatestValues: latest,
		Derived:      derived,
		LastSuccess:  true,
		LastUpdate:   now,
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.publishGauges(snap, now)

	unlock, proceed := c.acquireLock(ctx)
	if !proceed {
		c.logger.Debug().Msg("skip persistence, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	c.persist(ctx, snap)
	c.evaluateAlerts(ctx, snap, now)

	c.logger.Info().
		Int("parameters", len(latest)).
		Msg("refresh complete")
	return nil
}

func (c *Coordinator) markFailed() {
	c.mu.Lock()
	c.snapshot.LastSuccess = false
	c.mu.Unlock()
	if c.gauges != nil {
		c.gauges.RecordRefresh(c.opts.Device.ID, false, time.Time{})
	}
}

// fetchActiveChlorine adds the upstream ActiveChlorine breakdown when the
// required inputs are present. Best effort: failures never fail the cycle.
func (c *Coordinator) fetchActiveChlorine(ctx context.Context, latest map[string]labcom.Measurement, derived map[string]*float64) {
	if c.calc == nil {
		return
	}
	temperature, ph, chlorine, cya, ok := chem.ActiveChlorineInputs(latest)
	if !ok {
		c.logger.Debug().Msg("insufficient data for active chlorine calculation")
		return
	}

	calcCtx, cancel := context.WithTimeout(ctx, activeChlorineTimeout)
	defer cancel()

	breakdown, err := c.calc.FetchActiveChlorine(calcCtx, temperature, ph, chlorine, cya)
	if err != nil {
		c.logger.Warn().Err(err).Msg("active chlorine calculation failed, continuing without it")
		return
	}

	unbound := breakdown.UnboundChlorine
	bound := breakdown.BoundToCYA
	derived[chem.MetricUnboundChlorine] = &unbound
	derived[chem.MetricBoundToCYA] = &bound
}

func (c *Coordinator) publishGauges(snap Snapshot, now time.Time) {
	if c.gauges == nil {
		return
	}
	for param, m := range snap.LatestValues {
		c.gauges.SetParameter(snap.DeviceID, snap.DeviceName, param, m.Unit, m.Value)
	}
	for metric, value := range snap.Derived {
		c.gauges.SetDerived(snap.DeviceID, snap.DeviceName, metric, value)
	}
	c.gauges.RecordRefresh(snap.DeviceID, true, now)
}

func (c *Coordinator) acquireLock(ctx context.Context) (func(), bool) {
	if c.locker == nil || c.opts.AdvisoryLockKey == 0 {
		return nil, true
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.opts.AdvisoryLockKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("advisory lock failed, skipping persistence")
		return nil, false
	}
	if !acquired {
		return nil, false
	}
	return unlock, true
}

func (c *Coordinator) persist(ctx context.Context, snap Snapshot) {
	if c.store == nil {
		return
	}
	for param, m := range snap.LatestValues {
		if !m.TimestampValid {
			c.logger.Debug().Str("parameter", param).Msg("skip persisting reading with unparseable timestamp")
			continue
		}
		reading := storage.Reading{
			DeviceSerial:  snap.DeviceID,
			Account:       m.Account,
			Parameter:     param,
			MeasurementID: m.ID,
			Value:         m.Value,
			Unit:          m.Unit,
			MeasuredAt:    time.Unix(m.MeasuredAt, 0).UTC(),
			OperatorName:  m.OperatorName,
			Comment:       m.Comment,
		}
		if err := c.store.UpsertReading(ctx, reading); err != nil {
			c.logger.Error().Err(err).Str("parameter", param).Msg("failed to persist reading")
		}
	}
}

func (c *Coordinator) evaluateAlerts(ctx context.Context, snap Snapshot, now time.Time) {
	policy := c.opts.Alerts
	if !policy.Enabled || c.notifier == nil || policy.CombinedChlorineMax <= 0 {
		return
	}

	combined := snap.Derived[chem.MetricCombinedChlorine]
	if combined == nil || *combined <= policy.CombinedChlorineMax {
		return
	}
	if policy.Cooldown > 0 && !c.lastAlert.IsZero() && now.Sub(c.lastAlert) < policy.Cooldown {
		c.logger.Debug().Msg("combined chlorine above threshold, alert in cooldown")
		return
	}

	note := alerting.Notification{
		DeviceName:   snap.DeviceName,
		DeviceSerial: snap.DeviceID,
		Metric:       chem.MetricCombinedChlorine,
		Value:        decimal.NewFromFloat(*combined),
		Threshold:    decimal.NewFromFloat(policy.CombinedChlorineMax),
		Unit:         "ppm",
		MeasuredAt:   now,
		Channels:     policy.Channels,
	}

	if c.alerts != nil {
		record := storage.AlertRecord{
			DeviceSerial: snap.DeviceID,
			Metric:       chem.MetricCombinedChlorine,
			Value:        *combined,
			Threshold:    policy.CombinedChlorineMax,
			Channels:     policy.Channels,
		}
		if _, err := c.alerts.InsertAlert(ctx, record); err != nil {
			c.logger.Error().Err(err).Msg("failed to persist alert record")
		}
	}

	if err := c.notifier.Notify(ctx, note); err != nil {
		c.logger.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	c.lastAlert = now
}
