package dreame

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu      sync.Mutex
	methods []string
	params  []any
	respond func(call int, method string, params any) (json.RawMessage, error)
}

func (f *fakeTransport) Invoke(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	call := len(f.methods)
	f.methods = append(f.methods, method)
	f.params = append(f.params, params)
	f.mu.Unlock()
	return f.respond(call, method, params)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.methods)
}

func okAction(int, string, any) (json.RawMessage, error) {
	return json.RawMessage(`{"code":0,"out":[]}`), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(tr Transport, pollNow func()) *Dispatcher {
	client := NewClient(tr, time.Second)
	return NewDispatcher(client, DispatcherOptions{
		PollNow: pollNow,
		Backoff: time.Millisecond,
		Logger:  quietLogger(),
	})
}

func commandKind(t *testing.T, err error) CommandErrorKind {
	t.Helper()
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	return cerr.Kind
}

func TestDispatchSuccessTriggersPoll(t *testing.T) {
	tr := &fakeTransport{respond: okAction}
	polled := false
	d := newTestDispatcher(tr, func() { polled = true })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.calls() != 1 {
		t.Fatalf("got %d transport calls, want 1", tr.calls())
	}
	if !polled {
		t.Fatalf("expected an out-of-band poll after success")
	}
}

func TestDispatchRetriesNetworkErrors(t *testing.T) {
	tr := &fakeTransport{respond: func(call int, _ string, _ any) (json.RawMessage, error) {
		if call < 2 {
			return nil, &TransportError{Kind: TransportNetworkError, Err: errors.New("connection refused")}
		}
		return okAction(call, "", nil)
	}}
	d := newTestDispatcher(tr, nil)

	if err := d.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if tr.calls() != 3 {
		t.Fatalf("got %d transport calls, want 3", tr.calls())
	}
}

func TestDispatchExhaustedRetriesIsUnreachable(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return nil, &TransportError{Kind: TransportNetworkError, Err: errors.New("no route")}
	}}
	d := newTestDispatcher(tr, nil)

	err := d.Stop(context.Background())
	if kind := commandKind(t, err); kind != CommandUnreachable {
		t.Fatalf("got kind %q, want unreachable", kind)
	}
	// First attempt plus two retries.
	if tr.calls() != 3 {
		t.Fatalf("got %d transport calls, want 3", tr.calls())
	}
}

func TestDispatchExplicitZeroRetries(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return nil, &TransportError{Kind: TransportNetworkError, Err: errors.New("no route")}
	}}
	zero := 0
	d := NewDispatcher(NewClient(tr, time.Second), DispatcherOptions{
		Retries: &zero,
		Backoff: time.Millisecond,
		Logger:  quietLogger(),
	})

	err := d.Stop(context.Background())
	if kind := commandKind(t, err); kind != CommandUnreachable {
		t.Fatalf("got kind %q, want unreachable", kind)
	}
	// Zero is a choice, not an unset default: a single attempt only.
	if tr.calls() != 1 {
		t.Fatalf("got %d transport calls, want 1", tr.calls())
	}
}

func TestDispatchTimeoutIsTerminal(t *testing.T) {
	// A timed-out result may mean the device accepted the command;
	// re-sending could double-trigger it.
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return nil, &TransportError{Kind: TransportTimeout, Err: errors.New("deadline exceeded")}
	}}
	polled := false
	d := newTestDispatcher(tr, func() { polled = true })

	err := d.Start(context.Background())
	if kind := commandKind(t, err); kind != CommandUnreachable {
		t.Fatalf("got kind %q, want unreachable", kind)
	}
	if tr.calls() != 1 {
		t.Fatalf("timeout was retried: %d calls", tr.calls())
	}
	if polled {
		t.Fatalf("failed command must not trigger a poll")
	}
}

func TestDispatchAuthFailureIsTerminal(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return nil, &TransportError{Kind: TransportAuthFailed, Err: errors.New("bad token")}
	}}
	d := newTestDispatcher(tr, nil)

	err := d.Locate(context.Background())
	if kind := commandKind(t, err); kind != CommandUnreachable {
		t.Fatalf("got kind %q, want unreachable", kind)
	}
	if tr.calls() != 1 {
		t.Fatalf("auth failure was retried: %d calls", tr.calls())
	}
}

func TestDispatchDeviceRejected(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return json.RawMessage(`{"code":-10001,"out":[]}`), nil
	}}
	d := newTestDispatcher(tr, nil)

	err := d.ReturnToBase(context.Background())
	if kind := commandKind(t, err); kind != CommandDeviceRejected {
		t.Fatalf("got kind %q, want device_rejected", kind)
	}
	if tr.calls() != 1 {
		t.Fatalf("rejection was retried: %d calls", tr.calls())
	}
}

func TestSetFanSpeed(t *testing.T) {
	tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
		return json.RawMessage(`[{"did":"fan_speed","siid":18,"piid":6,"code":0}]`), nil
	}}
	d := newTestDispatcher(tr, nil)

	if err := d.SetFanSpeed(context.Background(), "Turbo"); err != nil {
		t.Fatalf("set fan speed: %v", err)
	}
	if tr.methods[0] != "set_properties" {
		t.Fatalf("got method %q", tr.methods[0])
	}
	writes := tr.params[0].([]propertyWrite)
	if len(writes) != 1 || writes[0].SIID != 18 || writes[0].PIID != 6 || writes[0].Value != 3 {
		t.Fatalf("unexpected write: %+v", writes)
	}

	// Numeric codes are accepted too.
	if err := d.SetFanSpeed(context.Background(), "0"); err != nil {
		t.Fatalf("set fan speed by code: %v", err)
	}
}

func TestSetFanSpeedMediumAliases(t *testing.T) {
	// The device documentation calls code 2 Medium; some frontends say
	// Strong. Both must land on the same code.
	for _, name := range []string{"Medium", "Strong"} {
		tr := &fakeTransport{respond: func(int, string, any) (json.RawMessage, error) {
			return json.RawMessage(`[{"did":"fan_speed","siid":18,"piid":6,"code":0}]`), nil
		}}
		d := newTestDispatcher(tr, nil)

		if err := d.SetFanSpeed(context.Background(), name); err != nil {
			t.Fatalf("set fan speed %q: %v", name, err)
		}
		writes := tr.params[0].([]propertyWrite)
		if len(writes) != 1 || writes[0].Value != 2 {
			t.Fatalf("%q: unexpected write: %+v", name, writes)
		}
	}
}

func TestSetFanSpeedUnknown(t *testing.T) {
	tr := &fakeTransport{respond: okAction}
	d := newTestDispatcher(tr, nil)

	err := d.SetFanSpeed(context.Background(), "Ludicrous")
	if kind := commandKind(t, err); kind != CommandInvalidArgument {
		t.Fatalf("got kind %q, want invalid_argument", kind)
	}
	if tr.calls() != 0 {
		t.Fatalf("invalid argument reached the transport")
	}
}

func TestCleanZonesWireArguments(t *testing.T) {
	tr := &fakeTransport{respond: okAction}
	d := newTestDispatcher(tr, nil)

	zones := []Zone{{X1: 100, Y1: 100, X2: 200, Y2: 200, Repeat: 1}}
	if err := d.CleanZones(context.Background(), zones); err != nil {
		t.Fatalf("clean zones: %v", err)
	}

	req := tr.params[0].(actionRequest)
	if req.SIID != 18 || req.AIID != 1 {
		t.Fatalf("unexpected action: %+v", req)
	}
	if len(req.In) != 2 || req.In[0].Value != 19 {
		t.Fatalf("zoned clean must select sweep mode 19: %+v", req.In)
	}
	if coords := req.In[1].Value.(string); coords != "[[100,100,200,200,1]]" {
		t.Fatalf("got coords %q", coords)
	}
}

func TestCleanZonesInvalidZoneShortCircuits(t *testing.T) {
	tr := &fakeTransport{respond: okAction}
	d := newTestDispatcher(tr, nil)

	err := d.CleanZones(context.Background(), []Zone{{X1: 100, Y1: 0, X2: 100, Y2: 100, Repeat: 1}})
	if kind := commandKind(t, err); kind != CommandInvalidArgument {
		t.Fatalf("got kind %q, want invalid_argument", kind)
	}
	if tr.calls() != 0 {
		t.Fatalf("malformed zone reached the transport")
	}
}
