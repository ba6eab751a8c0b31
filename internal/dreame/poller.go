package dreame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PollerOptions tunes the status loop.
type PollerOptions struct {
	// Device names the entity in logs, metrics and topics.
	Device string
	// Interval between scheduled polls.
	Interval time.Duration
	// FailureThreshold is how many consecutive transport failures flip
	// the entity to unavailable.
	FailureThreshold int
	// Staleness is the maximum age of the last successful poll before
	// the entity is unavailable regardless of the failure count.
	Staleness time.Duration
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Poller owns the published snapshot. It is the single writer: scheduled
// ticks, coalesced out-of-band triggers and the unavailable fallback all
// run on the Run goroutine, so snapshot replacement is one swap under the
// mutex and readers never see a torn update.
type Poller struct {
	client    *Client
	device    string
	interval  time.Duration
	threshold int
	staleness time.Duration
	log       *slog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	snap     Snapshot
	failures int

	pollNow chan struct{}
	subs    []func(Snapshot)
}

func NewPoller(client *Client, opts PollerOptions) *Poller {
	if opts.Device == "" {
		opts.Device = "vacuum"
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Staleness <= 0 {
		opts.Staleness = 3 * opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Poller{
		client:    client,
		device:    opts.Device,
		interval:  opts.Interval,
		threshold: opts.FailureThreshold,
		staleness: opts.Staleness,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		snap:      Snapshot{State: StateUnavailable, FanSpeedName: fanSpeedName(FanSpeedStandard), FanSpeed: FanSpeedStandard},
		pollNow:   make(chan struct{}, 1),
	}
}

// Device returns the configured entity name.
func (p *Poller) Device() string { return p.device }

// Snapshot returns the current published state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Available reports whether the entity has a live state.
func (p *Poller) Available() bool {
	return p.Snapshot().State != StateUnavailable
}

// Subscribe registers a callback invoked with every published snapshot.
// Callbacks run on the polling goroutine; register before Run.
func (p *Poller) Subscribe(fn func(Snapshot)) {
	p.subs = append(p.subs, fn)
}

// PollNow requests an out-of-band poll. Multiple calls within one cycle
// coalesce into at most one extra poll.
func (p *Poller) PollNow() {
	select {
	case p.pollNow <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-p.pollNow:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	raw, err := p.client.Status(ctx)
	now := time.Now()
	if err != nil {
		p.handleFailure(now, err)
		return
	}

	prev := p.Snapshot()
	next, anomalies := Reduce(prev, raw, now)
	for _, a := range anomalies {
		p.metrics.MappingAnomalies.Inc()
		p.log.Warn("mapping anomaly",
			"component", "poller", "device", p.device, "field", a.Field, "raw", fmt.Sprint(a.Raw), "reason", a.Reason)
	}

	if next.LastUpdated.Equal(prev.LastUpdated) {
		// Reduce refused the snapshot. The transport round-trip worked,
		// so the counter stays where it is, but the poll was not a
		// success either: the staleness window still applies, so a
		// device stuck returning garbage eventually goes unavailable.
		p.mu.Lock()
		failures := p.failures
		p.mu.Unlock()
		p.degrade(now, failures)
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
	p.metrics.PollSuccess.Inc()
	p.publish(next)
}

func (p *Poller) handleFailure(now time.Time, err error) {
	p.metrics.PollFailure.Inc()

	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	p.log.Warn("status poll failed",
		"component", "poller", "device", p.device, "consecutive", failures, "error", err)

	p.degrade(now, failures)
}

// degrade flips the entity to unavailable once the failure threshold or
// the staleness window is exceeded. Both the transport failure path and
// the refused-snapshot path end here.
func (p *Poller) degrade(now time.Time, failures int) {
	snap := p.Snapshot()
	stale := !snap.LastUpdated.IsZero() && now.Sub(snap.LastUpdated) > p.staleness
	if failures < p.threshold && !stale {
		return
	}
	if snap.State == StateUnavailable {
		return
	}

	// Flip only the state; battery and fault fields stay so the entity
	// degrades instead of resetting to defaults.
	snap.State = StateUnavailable
	p.publish(snap)
}

func (p *Poller) publish(next Snapshot) {
	p.mu.Lock()
	p.snap = next
	p.mu.Unlock()
	for _, sub := range p.subs {
		sub(next)
	}
}
