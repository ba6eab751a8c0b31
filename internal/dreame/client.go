package dreame

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MIoT service ids on the mc1808.
const (
	siidBattery   = 2
	siidRobot     = 3
	siidIdentify  = 17
	siidClean     = 18
	siidMainBrush = 26
	siidFilter    = 27
	siidSideBrush = 28
)

// deviceError is an explicit refusal from the device: the request was
// delivered and answered, and the answer says no.
type deviceError struct {
	Code    int
	Message string
}

func (e *deviceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("device rejected: %s (code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("device rejected: code %d", e.Code)
}

// Client shapes high-level vacuum operations into MIoT exchanges over a
// Transport. It holds no device state; every call is one round trip.
type Client struct {
	transport Transport
	timeout   time.Duration
}

func NewClient(transport Transport, timeout time.Duration) *Client {
	return &Client{transport: transport, timeout: timeout}
}

// Status fetches the full poll property set.
func (c *Client) Status(ctx context.Context) (DeviceStatus, error) {
	result, err := c.invoke(ctx, "get_properties", statusProperties)
	if err != nil {
		return DeviceStatus{}, err
	}
	return parseDeviceStatus(result)
}

// Start begins (or resumes) a full clean. Sweep mode 2 is a plain sweep.
func (c *Client) Start(ctx context.Context) error {
	return c.action(ctx, siidClean, 1, []actionParam{{PIID: 1, Value: 2}})
}

// Pause suspends the current run. The firmware exposes no discrete pause
// action; stop-clean during a run pauses it and Start resumes.
func (c *Client) Pause(ctx context.Context) error {
	return c.action(ctx, siidClean, 2, nil)
}

// Stop aborts the current run.
func (c *Client) Stop(ctx context.Context) error {
	return c.action(ctx, siidClean, 2, nil)
}

// ReturnToBase sends the robot back to the dock.
func (c *Client) ReturnToBase(ctx context.Context) error {
	return c.action(ctx, siidBattery, 1, nil)
}

// Locate plays the find-me sound.
func (c *Client) Locate(ctx context.Context) error {
	return c.action(ctx, siidIdentify, 1, nil)
}

// SetFanSpeed writes the fan speed property.
func (c *Client) SetFanSpeed(ctx context.Context, speed FanSpeed) error {
	return c.setProperties(ctx, []propertyWrite{
		{DID: "fan_speed", SIID: siidClean, PIID: 6, Value: int(speed)},
	})
}

// CleanZones starts a zoned clean. The wire argument is the flattened
// zone tuple array from EncodeZones, sent as a JSON string in the zone
// parameter of the start-clean action with sweep mode 19 (zoned).
func (c *Client) CleanZones(ctx context.Context, wire [][]int) error {
	coords, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode zone coordinates: %w", err)
	}
	return c.action(ctx, siidClean, 1, []actionParam{
		{PIID: 1, Value: 19},
		{PIID: 21, Value: string(coords)},
	})
}

// ResetMainBrush resets the main brush life counter.
func (c *Client) ResetMainBrush(ctx context.Context) error {
	return c.action(ctx, siidMainBrush, 1, nil)
}

// ResetFilter resets the filter life counter.
func (c *Client) ResetFilter(ctx context.Context) error {
	return c.action(ctx, siidFilter, 1, nil)
}

// ResetSideBrush resets the side brush life counter.
func (c *Client) ResetSideBrush(ctx context.Context) error {
	return c.action(ctx, siidSideBrush, 1, nil)
}

func (c *Client) action(ctx context.Context, siid, aiid int, in []actionParam) error {
	if in == nil {
		in = []actionParam{}
	}
	req := actionRequest{
		DID:  fmt.Sprintf("call-%d-%d", siid, aiid),
		SIID: siid,
		AIID: aiid,
		In:   in,
	}
	result, err := c.invoke(ctx, "action", req)
	if err != nil {
		return err
	}

	var resp actionResult
	if err := json.Unmarshal(result, &resp); err != nil {
		// Some firmware answers actions with a bare "ok" array.
		return nil
	}
	if resp.Code != 0 {
		return &deviceError{Code: resp.Code}
	}
	return nil
}

func (c *Client) setProperties(ctx context.Context, writes []propertyWrite) error {
	result, err := c.invoke(ctx, "set_properties", writes)
	if err != nil {
		return err
	}

	var rows []propertyResult
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil
	}
	for _, row := range rows {
		if row.Code != 0 {
			return &deviceError{Code: row.Code, Message: fmt.Sprintf("property %s refused", row.DID)}
		}
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.transport.Invoke(ctx, method, params)
}
