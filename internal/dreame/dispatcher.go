package dreame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CommandErrorKind classifies a dispatch failure.
type CommandErrorKind string

const (
	// CommandInvalidArgument is a caller error; nothing was sent.
	CommandInvalidArgument CommandErrorKind = "invalid_argument"
	// CommandDeviceRejected is an explicit refusal from the device.
	CommandDeviceRejected CommandErrorKind = "device_rejected"
	// CommandUnreachable means retries were exhausted or the result of
	// an accepted request never arrived.
	CommandUnreachable CommandErrorKind = "unreachable"
)

// CommandError is the only failure surface the dispatcher exposes.
type CommandError struct {
	Kind   CommandErrorKind
	Action string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Action, e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// DispatcherOptions tunes retry behavior and wires collaborators.
type DispatcherOptions struct {
	// PollNow asks the poller for an out-of-band refresh after a
	// successful command. Optional.
	PollNow func()
	// Retries is the number of re-sends after the first attempt. Nil
	// means the default; an explicit zero disables retries.
	Retries *int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Dispatcher turns host platform calls into device commands with a retry
// policy. It never writes the published snapshot; on success it nudges
// the poller so state catches up quickly.
type Dispatcher struct {
	client  *Client
	pollNow func()
	retries int
	delay   time.Duration
	log     *slog.Logger
	metrics *Metrics
}

func NewDispatcher(client *Client, opts DispatcherOptions) *Dispatcher {
	retries := 2
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Dispatcher{
		client:  client,
		pollNow: opts.PollNow,
		retries: retries,
		delay:   opts.Backoff,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	return d.run(ctx, "start", d.client.Start)
}

func (d *Dispatcher) Pause(ctx context.Context) error {
	return d.run(ctx, "pause", d.client.Pause)
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.run(ctx, "stop", d.client.Stop)
}

func (d *Dispatcher) ReturnToBase(ctx context.Context) error {
	return d.run(ctx, "return_to_base", d.client.ReturnToBase)
}

func (d *Dispatcher) Locate(ctx context.Context) error {
	return d.run(ctx, "locate", d.client.Locate)
}

func (d *Dispatcher) ResetMainBrush(ctx context.Context) error {
	return d.run(ctx, "reset_main_brush", d.client.ResetMainBrush)
}

func (d *Dispatcher) ResetFilter(ctx context.Context) error {
	return d.run(ctx, "reset_filter", d.client.ResetFilter)
}

func (d *Dispatcher) ResetSideBrush(ctx context.Context) error {
	return d.run(ctx, "reset_side_brush", d.client.ResetSideBrush)
}

// SetFanSpeed accepts a speed name ("Standard") or its numeric code.
func (d *Dispatcher) SetFanSpeed(ctx context.Context, speed string) error {
	code, ok := fanSpeedCodes[speed]
	if !ok {
		if n, err := strconv.Atoi(speed); err == nil {
			if _, known := fanSpeedNames[FanSpeed(n)]; known {
				code, ok = FanSpeed(n), true
			}
		}
	}
	if !ok {
		return d.fail("set_fan_speed", &CommandError{
			Kind:   CommandInvalidArgument,
			Action: "set_fan_speed",
			Err:    fmt.Errorf("unknown fan speed %q", speed),
		})
	}
	return d.run(ctx, "set_fan_speed", func(ctx context.Context) error {
		return d.client.SetFanSpeed(ctx, code)
	})
}

// CleanZones validates and encodes zones before anything touches the
// transport; a malformed zone never costs a device round trip. The
// mc1808 reports no map extent property, so the encoder's bounds check
// runs in its soft, bounds-unknown mode.
func (d *Dispatcher) CleanZones(ctx context.Context, zones []Zone) error {
	wire, warnings, err := EncodeZones(zones, nil)
	if err != nil {
		return d.fail("clean_zone", &CommandError{
			Kind:   CommandInvalidArgument,
			Action: "clean_zone",
			Err:    err,
		})
	}
	for _, w := range warnings {
		d.log.Warn("zone outside known map bounds",
			"component", "dispatcher", "field", w.Field, "raw", fmt.Sprint(w.Raw), "reason", w.Reason)
	}
	return d.run(ctx, "clean_zone", func(ctx context.Context) error {
		return d.client.CleanZones(ctx, wire)
	})
}

func (d *Dispatcher) run(ctx context.Context, action string, op func(context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.delay), uint64(d.retries)),
		ctx,
	)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}

		var te *TransportError
		if errors.As(err, &te) {
			// Only a request that provably never left is re-sent. A
			// result timeout may mean the device already accepted the
			// command; re-sending could double-trigger it.
			if te.Kind == TransportNetworkError {
				return err
			}
			return backoff.Permanent(err)
		}
		return backoff.Permanent(err)
	}, policy)

	if err == nil {
		d.metrics.Commands.WithLabelValues(action, "ok").Inc()
		if d.pollNow != nil {
			d.pollNow()
		}
		return nil
	}

	var de *deviceError
	if errors.As(err, &de) {
		if de.Message == "" {
			de.Message = MapFault(de.Code).Message
		}
		return d.fail(action, &CommandError{Kind: CommandDeviceRejected, Action: action, Err: de})
	}
	d.log.Warn("command failed", "component", "dispatcher", "action", action, "attempts", attempts, "error", err)
	return d.fail(action, &CommandError{Kind: CommandUnreachable, Action: action, Err: err})
}

func (d *Dispatcher) fail(action string, cerr *CommandError) error {
	d.metrics.Commands.WithLabelValues(action, string(cerr.Kind)).Inc()
	return cerr
}
