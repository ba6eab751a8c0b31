// Package simulator implements an in-process vacuum that speaks the same
// MIoT wire shapes as the real device. It backs the simulator transport
// mode, which lets the daemon and its host platform be exercised without
// hardware on the LAN.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Run-state codes as the firmware reports them.
const (
	statusCleaning  = 1
	statusIdle      = 2
	statusPaused    = 3
	statusError     = 4
	statusReturning = 5
	statusCharging  = 6
)

// Device is a fake dreame.vacuum.mc1808. All methods are safe for
// concurrent use; the poller and dispatcher hit it from different
// goroutines.
type Device struct {
	mu sync.Mutex

	battery     int
	chargeState int
	fault       int
	status      int
	mode        int
	fanSpeed    int

	cleaningTime string
	cleaningArea string
	cleanCount   int
	totalArea    int

	mainBrushTimeLeft  int
	mainBrushLifeLevel int
	filterLifeLevel    int
	filterTimeLeft     int
	sideBrushTimeLeft  int
	sideBrushLifeLevel int
}

func New() *Device {
	return &Device{
		battery:            100,
		chargeState:        1,
		status:             statusCharging,
		fanSpeed:           1,
		cleaningTime:       "0",
		cleaningArea:       "0",
		mainBrushTimeLeft:  300,
		mainBrushLifeLevel: 100,
		filterLifeLevel:    100,
		filterTimeLeft:     150,
		sideBrushTimeLeft:  200,
		sideBrushLifeLevel: 100,
	}
}

// SetFault injects a fault code, or clears it with 0.
func (d *Device) SetFault(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = code
	if code != 0 {
		d.status = statusError
	}
}

// Invoke implements dreame.Transport.
func (d *Device) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Round-trip through JSON so the simulator sees exactly what the
	// device would see on the wire.
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("simulator: encode params: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch method {
	case "get_properties":
		return d.getProperties(encoded)
	case "set_properties":
		return d.setProperties(encoded)
	case "action":
		return d.action(encoded)
	default:
		return nil, fmt.Errorf("simulator: unknown method %q", method)
	}
}

type propertyRef struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	PIID int    `json:"piid"`
}

type propertyRow struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Code  int    `json:"code"`
	Value any    `json:"value,omitempty"`
}

type propertyWrite struct {
	DID   string `json:"did"`
	SIID  int    `json:"siid"`
	PIID  int    `json:"piid"`
	Value any    `json:"value"`
}

type actionRequest struct {
	DID  string `json:"did"`
	SIID int    `json:"siid"`
	AIID int    `json:"aiid"`
	In   []struct {
		PIID  int `json:"piid"`
		Value any `json:"value"`
	} `json:"in"`
}

func (d *Device) getProperties(params json.RawMessage) (json.RawMessage, error) {
	var refs []propertyRef
	if err := json.Unmarshal(params, &refs); err != nil {
		return nil, fmt.Errorf("simulator: get_properties params: %w", err)
	}

	rows := make([]propertyRow, 0, len(refs))
	for _, ref := range refs {
		row := propertyRow{DID: ref.DID, SIID: ref.SIID, PIID: ref.PIID}
		value, ok := d.property(ref.SIID, ref.PIID)
		if !ok {
			row.Code = -4004
		} else {
			row.Value = value
		}
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}

func (d *Device) property(siid, piid int) (any, bool) {
	switch {
	case siid == 2 && piid == 1:
		return d.battery, true
	case siid == 2 && piid == 2:
		return d.chargeState, true
	case siid == 3 && piid == 1:
		return d.fault, true
	case siid == 3 && piid == 2:
		return d.status, true
	case siid == 18 && piid == 1:
		return d.mode, true
	case siid == 18 && piid == 2:
		return d.cleaningTime, true
	case siid == 18 && piid == 3:
		return d.cleaningArea, true
	case siid == 18 && piid == 6:
		return d.fanSpeed, true
	case siid == 18 && piid == 14:
		return d.cleanCount, true
	case siid == 18 && piid == 15:
		return d.totalArea, true
	case siid == 26 && piid == 1:
		return d.mainBrushTimeLeft, true
	case siid == 26 && piid == 2:
		return d.mainBrushLifeLevel, true
	case siid == 27 && piid == 1:
		return d.filterLifeLevel, true
	case siid == 27 && piid == 2:
		return d.filterTimeLeft, true
	case siid == 28 && piid == 1:
		return d.sideBrushTimeLeft, true
	case siid == 28 && piid == 2:
		return d.sideBrushLifeLevel, true
	}
	return nil, false
}

func (d *Device) setProperties(params json.RawMessage) (json.RawMessage, error) {
	var writes []propertyWrite
	if err := json.Unmarshal(params, &writes); err != nil {
		return nil, fmt.Errorf("simulator: set_properties params: %w", err)
	}

	rows := make([]propertyRow, 0, len(writes))
	for _, w := range writes {
		row := propertyRow{DID: w.DID, SIID: w.SIID, PIID: w.PIID}
		if w.SIID == 18 && w.PIID == 6 {
			if speed, ok := asInt(w.Value); ok && speed >= 0 && speed <= 3 {
				d.fanSpeed = speed
			} else {
				row.Code = -4003
			}
		} else {
			row.Code = -4004
		}
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}

func (d *Device) action(params json.RawMessage) (json.RawMessage, error) {
	var req actionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("simulator: action params: %w", err)
	}

	code := 0
	switch {
	case req.SIID == 18 && req.AIID == 1:
		// Start sweep or zoned sweep, selected by the mode parameter.
		d.status = statusCleaning
		d.chargeState = 0
		for _, in := range req.In {
			if in.PIID == 1 {
				if mode, ok := asInt(in.Value); ok {
					d.mode = mode
				}
			}
		}
	case req.SIID == 18 && req.AIID == 2:
		if d.status == statusCleaning {
			d.status = statusPaused
		} else {
			d.status = statusIdle
		}
	case req.SIID == 2 && req.AIID == 1:
		d.status = statusReturning
	case req.SIID == 17 && req.AIID == 1:
		// Locate chime: no state change.
	case req.SIID == 26 && req.AIID == 1:
		d.mainBrushTimeLeft, d.mainBrushLifeLevel = 300, 100
	case req.SIID == 27 && req.AIID == 1:
		d.filterLifeLevel, d.filterTimeLeft = 100, 150
	case req.SIID == 28 && req.AIID == 1:
		d.sideBrushTimeLeft, d.sideBrushLifeLevel = 200, 100
	default:
		code = -4004
	}

	return json.Marshal(map[string]any{"code": code, "out": []any{}})
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	}
	return 0, false
}
