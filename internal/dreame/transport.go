package dreame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// TransportErrorKind classifies a transport failure.
type TransportErrorKind string

const (
	// TransportTimeout means the request may have been accepted by the
	// device but no result arrived in time.
	TransportTimeout TransportErrorKind = "timeout"
	// TransportAuthFailed means the token handshake was rejected.
	TransportAuthFailed TransportErrorKind = "auth_failed"
	// TransportNetworkError means the request never reached the device.
	TransportNetworkError TransportErrorKind = "network_error"
)

// TransportError is the failure surface of the external protocol library.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport delivers one request/response exchange to the device. The
// encrypted miIO framing (token handshake, packet checksums, socket-level
// retransmission) lives behind this interface and is not implemented in
// this repository. Implementations must be safe for concurrent use: the
// poller and command dispatches invoke it from independent goroutines.
// Every call must honor ctx; there is no unbounded wait.
type Transport interface {
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// BreakerTransport wraps a Transport in a circuit breaker so that a
// device that has been unreachable for a while fails fast instead of
// eating a full timeout per call. Half-open probes let recovery through.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerTransport(next Transport) *BreakerTransport {
	return &BreakerTransport{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dreame-transport",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (t *BreakerTransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	result, err := t.cb.Execute(func() (any, error) {
		return t.next.Invoke(ctx, method, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Kind: TransportNetworkError, Err: err}
		}
		return nil, err
	}
	return result.(json.RawMessage), nil
}
