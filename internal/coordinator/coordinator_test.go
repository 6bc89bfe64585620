package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"poolwatcher/internal/alerting"
	"poolwatcher/internal/chem"
	"poolwatcher/internal/labcom"
)

type fakeCache struct {
	data []labcom.Measurement
	err  error
}

func (f *fakeCache) All(ctx context.Context, force bool) ([]labcom.Measurement, error) {
	return f.data, f.err
}

type fakeCalc struct {
	breakdown *labcom.ActiveChlorine
	err       error
	calls     int
}

func (f *fakeCalc) FetchActiveChlorine(ctx context.Context, temperature, ph, chlorine, cya float64) (*labcom.ActiveChlorine, error) {
	f.calls++
	return f.breakdown, f.err
}

type fakeNotifier struct {
	sent []alerting.Notification
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, notification alerting.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification)
	return nil
}

func reading(parameter string, value float64, measuredAt int64) labcom.Measurement {
	return labcom.Measurement{
		DeviceSerial:   "POOL001",
		Account:        "Hemma Pool",
		Parameter:      parameter,
		Value:          value,
		MeasuredAt:     measuredAt,
		TimestampValid: true,
	}
}

func testDevice() labcom.Device {
	return labcom.Device{ID: "POOL001", Name: "Hemma Pool", SerialNumber: "POOL001"}
}

func newTestCoordinator(cache MeasurementCache, calc ChlorineCalculator, notifier alerting.Notifier, alerts AlertPolicy) *Coordinator {
	opts := Options{Device: testDevice(), Alerts: alerts}
	return New(opts, cache, calc, nil, nil, nil, nil, notifier, nil, zerolog.Nop())
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamPH, 7.2, 1000),
		reading(labcom.ParamPH, 7.4, 2000),
		reading(labcom.ParamFreeChlorine, 2.5, 1500),
		reading(labcom.ParamTotalCl, 3.0, 1500),
	}}

	c := newTestCoordinator(cache, nil, nil, AlertPolicy{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	snap := c.Snapshot()
	if !snap.LastSuccess {
		t.Fatal("snapshot should record success")
	}
	if got := snap.LatestValues[labcom.ParamPH].Value; got != 7.4 {
		t.Fatalf("expected latest pH 7.4, got %v", got)
	}
	combined := snap.Derived[chem.MetricCombinedChlorine]
	if combined == nil || *combined != 0.5 {
		t.Fatalf("expected combined chlorine 0.5, got %v", combined)
	}
	if snap.LastUpdate.IsZero() {
		t.Fatal("snapshot should carry an update time")
	}
}

func TestRefreshFetchFailureKeepsPreviousValues(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{reading(labcom.ParamPH, 7.2, 1000)}}
	c := newTestCoordinator(cache, nil, nil, AlertPolicy{})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	cache.err = errors.New("upstream down")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected the failed fetch to surface")
	}

	snap := c.Snapshot()
	if snap.LastSuccess {
		t.Fatal("snapshot must be marked failed")
	}
	if got := snap.LatestValues[labcom.ParamPH].Value; got != 7.2 {
		t.Fatalf("previous values must survive a failed cycle, got %v", got)
	}
}

func TestRefreshEmptySetIsNotFailure(t *testing.T) {
	c := newTestCoordinator(&fakeCache{data: []labcom.Measurement{}}, nil, nil, AlertPolicy{})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("an empty measurement set is a valid cycle: %v", err)
	}
	snap := c.Snapshot()
	if !snap.LastSuccess {
		t.Fatal("empty snapshot should still record success")
	}
	if len(snap.LatestValues) != 0 {
		t.Fatalf("expected no values, got %d", len(snap.LatestValues))
	}
}

func TestRefreshActiveChlorineFailureIsSwallowed(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamPH, 7.2, 1000),
		reading(labcom.ParamFreeChlorine, 2.5, 1000),
	}}
	calc := &fakeCalc{err: errors.New("calc unavailable")}

	c := newTestCoordinator(cache, calc, nil, AlertPolicy{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("calculation failure must not fail the cycle: %v", err)
	}
	if calc.calls != 1 {
		t.Fatalf("expected one calculation attempt, got %d", calc.calls)
	}
	snap := c.Snapshot()
	if _, ok := snap.Derived[chem.MetricUnboundChlorine]; ok {
		t.Fatal("failed calculation must not contribute derived values")
	}
}

func TestRefreshActiveChlorineBreakdown(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamPH, 7.2, 1000),
		reading(labcom.ParamFreeChlorine, 2.5, 1000),
	}}
	calc := &fakeCalc{breakdown: &labcom.ActiveChlorine{UnboundChlorine: 1.8, BoundToCYA: 0.7}}

	c := newTestCoordinator(cache, calc, nil, AlertPolicy{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	snap := c.Snapshot()
	unbound := snap.Derived[chem.MetricUnboundChlorine]
	if unbound == nil || *unbound != 1.8 {
		t.Fatalf("expected unbound chlorine 1.8, got %v", unbound)
	}
}

func TestRefreshSkipsCalculationWithoutInputs(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{reading(labcom.ParamPH, 7.2, 1000)}}
	calc := &fakeCalc{}

	c := newTestCoordinator(cache, calc, nil, AlertPolicy{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if calc.calls != 0 {
		t.Fatalf("calculation needs pH and free chlorine, got %d calls", calc.calls)
	}
}

func TestAlertFiresAboveThreshold(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamFreeChlorine, 2.0, 1000),
		reading(labcom.ParamTotalCl, 3.0, 1000),
	}}
	notifier := &fakeNotifier{}

	policy := AlertPolicy{Enabled: true, CombinedChlorineMax: 0.5, Channels: []string{"telegram"}}
	c := newTestCoordinator(cache, nil, notifier, policy)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("combined chlorine 1.0 exceeds 0.5, expected one alert, got %d", len(notifier.sent))
	}
	note := notifier.sent[0]
	if note.Metric != chem.MetricCombinedChlorine || note.DeviceSerial != "POOL001" {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestAlertCooldownSuppressesRepeat(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamFreeChlorine, 2.0, 1000),
		reading(labcom.ParamTotalCl, 3.0, 1000),
	}}
	notifier := &fakeNotifier{}

	policy := AlertPolicy{Enabled: true, CombinedChlorineMax: 0.5, Cooldown: time.Hour}
	c := newTestCoordinator(cache, nil, notifier, policy)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("second breach within cooldown must not notify, got %d alerts", len(notifier.sent))
	}
}

func TestAlertNotFiredBelowThreshold(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{
		reading(labcom.ParamFreeChlorine, 2.5, 1000),
		reading(labcom.ParamTotalCl, 2.8, 1000),
	}}
	notifier := &fakeNotifier{}

	policy := AlertPolicy{Enabled: true, CombinedChlorineMax: 0.5}
	c := newTestCoordinator(cache, nil, notifier, policy)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("combined chlorine 0.3 is under threshold, got %d alerts", len(notifier.sent))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	cache := &fakeCache{data: []labcom.Measurement{reading(labcom.ParamPH, 7.2, 1000)}}
	c := newTestCoordinator(cache, nil, nil, AlertPolicy{})
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	snap := c.Snapshot()
	snap.LatestValues[labcom.ParamPH] = labcom.Measurement{Value: 0}

	if got := c.Snapshot().LatestValues[labcom.ParamPH].Value; got != 7.2 {
		t.Fatalf("mutating a returned snapshot must not affect the coordinator, got %v", got)
	}
}
