package dreame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func statusRows(status, fault, battery int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`[
		{"did":"status","siid":3,"piid":2,"code":0,"value":%d},
		{"did":"fault","siid":3,"piid":1,"code":0,"value":%d},
		{"did":"battery","siid":2,"piid":1,"code":0,"value":%d}
	]`, status, fault, battery))
}

func newTestPoller(tr Transport, opts PollerOptions) *Poller {
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	return NewPoller(NewClient(tr, time.Second), opts)
}

func TestPollerPublishesSnapshot(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return statusRows(1, 0, 80), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test"})

	var published []Snapshot
	p.Subscribe(func(s Snapshot) { published = append(published, s) })

	p.pollOnce(context.Background())

	snap := p.Snapshot()
	if snap.State != StateCleaning || snap.Battery != 80 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.FaultCode != nil {
		t.Fatalf("unexpected fault: %v", *snap.FaultCode)
	}
	if len(published) != 1 {
		t.Fatalf("expected one publication, got %d", len(published))
	}
	if !p.Available() {
		t.Fatalf("entity should be available after a successful poll")
	}
}

func TestPollerUnavailableAfterThreshold(t *testing.T) {
	failing := false
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		if failing {
			return nil, &TransportError{Kind: TransportTimeout, Err: errors.New("poll timeout")}
		}
		return statusRows(1, 0, 80), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test", FailureThreshold: 3})

	ctx := context.Background()
	p.pollOnce(ctx)
	if got := p.Snapshot().State; got != StateCleaning {
		t.Fatalf("setup poll: got %q", got)
	}

	// Two misses keep the last known state published.
	failing = true
	p.pollOnce(ctx)
	p.pollOnce(ctx)
	snap := p.Snapshot()
	if snap.State != StateCleaning || snap.Battery != 80 {
		t.Fatalf("state flipped before the threshold: %+v", snap)
	}

	// The third miss crosses the threshold; state degrades but the last
	// known fields stay.
	p.pollOnce(ctx)
	snap = p.Snapshot()
	if snap.State != StateUnavailable {
		t.Fatalf("got state %q, want unavailable", snap.State)
	}
	if snap.Battery != 80 {
		t.Fatalf("battery reset on unavailable: %d", snap.Battery)
	}
}

func TestPollerRecoveryClearsUnavailable(t *testing.T) {
	failing := true
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		if failing {
			return nil, &TransportError{Kind: TransportNetworkError, Err: errors.New("unreachable")}
		}
		return statusRows(6, 0, 55), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test", FailureThreshold: 3})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.pollOnce(ctx)
	}
	if got := p.Snapshot().State; got != StateUnavailable {
		t.Fatalf("setup: got %q, want unavailable", got)
	}

	failing = false
	p.pollOnce(ctx)
	snap := p.Snapshot()
	if snap.State != StateCharging || snap.Battery != 55 {
		t.Fatalf("recovery snapshot wrong: %+v", snap)
	}
}

func TestPollerStaleness(t *testing.T) {
	failing := false
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		if failing {
			return nil, &TransportError{Kind: TransportTimeout, Err: errors.New("timeout")}
		}
		return statusRows(2, 0, 90), nil
	}}
	// Tiny staleness window: a single miss after a success is already stale.
	p := newTestPoller(tr, PollerOptions{Device: "test", FailureThreshold: 100, Staleness: time.Nanosecond})

	ctx := context.Background()
	p.pollOnce(ctx)
	failing = true
	p.pollOnce(ctx)

	if got := p.Snapshot().State; got != StateUnavailable {
		t.Fatalf("got %q, want unavailable via staleness window", got)
	}
}

func TestPollerMalformedResponseKeepsState(t *testing.T) {
	malformed := false
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		if malformed {
			// Battery row missing: the reducer must refuse this.
			return json.RawMessage(`[{"did":"status","siid":3,"piid":2,"code":0,"value":1}]`), nil
		}
		return statusRows(3, 0, 70), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test"})

	ctx := context.Background()
	p.pollOnce(ctx)
	before := p.Snapshot()

	malformed = true
	p.pollOnce(ctx)
	after := p.Snapshot()
	if after != before {
		t.Fatalf("malformed response changed the snapshot: %+v", after)
	}
}

func TestPollerMalformedResponsesGoStale(t *testing.T) {
	malformed := false
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		if malformed {
			return json.RawMessage(`[{"did":"status","siid":3,"piid":2,"code":0,"value":1}]`), nil
		}
		return statusRows(1, 0, 70), nil
	}}
	// Garbage responses must not keep the entity alive past the staleness
	// window even though the transport keeps answering.
	p := newTestPoller(tr, PollerOptions{Device: "test", FailureThreshold: 100, Staleness: time.Nanosecond})

	ctx := context.Background()
	p.pollOnce(ctx)
	if got := p.Snapshot().State; got != StateCleaning {
		t.Fatalf("setup poll: got %q", got)
	}

	malformed = true
	p.pollOnce(ctx)

	snap := p.Snapshot()
	if snap.State != StateUnavailable {
		t.Fatalf("got state %q, want unavailable once the last good poll went stale", snap.State)
	}
	if snap.Battery != 70 {
		t.Fatalf("battery reset on unavailable: %d", snap.Battery)
	}
}

func TestPollerMalformedResponseKeepsFailureCount(t *testing.T) {
	var responses []func() (json.RawMessage, error)
	tr := &fakeTransport{respond: func(call int, _ string, _ any) (json.RawMessage, error) {
		return responses[call]()
	}}
	good := func() (json.RawMessage, error) { return statusRows(1, 0, 80), nil }
	garbage := func() (json.RawMessage, error) {
		return json.RawMessage(`[{"did":"status","siid":3,"piid":2,"code":0,"value":1}]`), nil
	}
	timeout := func() (json.RawMessage, error) {
		return nil, &TransportError{Kind: TransportTimeout, Err: errors.New("poll timeout")}
	}
	// Two misses, then garbage, then a third miss: the garbage poll is not
	// a success and must not reset the consecutive failure count.
	responses = []func() (json.RawMessage, error){good, timeout, timeout, garbage, timeout}

	p := newTestPoller(tr, PollerOptions{Device: "test", FailureThreshold: 3})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		p.pollOnce(ctx)
	}
	if got := p.Snapshot().State; got != StateCleaning {
		t.Fatalf("state flipped before the threshold: %q", got)
	}

	p.pollOnce(ctx)
	if got := p.Snapshot().State; got != StateUnavailable {
		t.Fatalf("got state %q, want unavailable after the third consecutive miss", got)
	}
}

func TestPollNowCoalesces(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return statusRows(2, 0, 90), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test"})

	p.PollNow()
	p.PollNow()
	p.PollNow()
	if pending := len(p.pollNow); pending != 1 {
		t.Fatalf("got %d pending triggers, want 1", pending)
	}
}

func TestPollerRun(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return statusRows(1, 0, 80), nil
	}}
	p := newTestPoller(tr, PollerOptions{Device: "test", Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run returned %v", err)
	}
	if tr.calls() < 2 {
		t.Fatalf("expected initial poll plus ticks, got %d calls", tr.calls())
	}
}
