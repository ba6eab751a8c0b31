// Package bridge exposes the vacuum to the host automation platform over
// MQTT: retained state on a state topic, commands in on command topics.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/miiohome/vacuumd/internal/config"
	"github.com/miiohome/vacuumd/internal/dreame"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	commandTimeout = 30 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Commander is the slice of the dispatcher the bridge drives.
type Commander interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	ReturnToBase(ctx context.Context) error
	Locate(ctx context.Context) error
	ResetMainBrush(ctx context.Context) error
	ResetFilter(ctx context.Context) error
	ResetSideBrush(ctx context.Context) error
	SetFanSpeed(ctx context.Context, speed string) error
	CleanZones(ctx context.Context, zones []dreame.Zone) error
}

// Bridge connects the poller's published snapshots and the dispatcher to
// an MQTT broker.
type Bridge struct {
	client     mqtt.Client
	topics     Topics
	qos        byte
	dispatcher Commander
	log        *slog.Logger
}

// Topics is the bridge's topic layout under one prefix.
type Topics struct {
	prefix string
	device string
}

func NewTopics(prefix, device string) Topics {
	return Topics{prefix: prefix, device: device}
}

func (t Topics) State() string        { return fmt.Sprintf("%s/%s/state", t.prefix, t.device) }
func (t Topics) Availability() string { return fmt.Sprintf("%s/%s/availability", t.prefix, t.device) }
func (t Topics) Command() string      { return fmt.Sprintf("%s/%s/command", t.prefix, t.device) }
func (t Topics) FanSpeedSet() string  { return fmt.Sprintf("%s/%s/fan_speed/set", t.prefix, t.device) }
func (t Topics) CleanZone() string    { return fmt.Sprintf("%s/%s/clean_zone", t.prefix, t.device) }
func (t Topics) LastError() string    { return fmt.Sprintf("%s/%s/last_error", t.prefix, t.device) }

func New(cfg config.MQTTConfig, device string, dispatcher Commander, log *slog.Logger) *Bridge {
	b := &Bridge{
		topics:     NewTopics(cfg.TopicPrefix, device),
		qos:        byte(cfg.QoS),
		dispatcher: dispatcher,
		log:        log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(b.topics.Availability(), payloadOffline, b.qos, true)
	opts.OnConnect = func(client mqtt.Client) {
		b.onConnect(client)
	}

	b.client = mqtt.NewClient(opts)
	return b
}

// Connect dials the broker. Subscriptions are (re)established from the
// OnConnect hook so they survive reconnects.
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %v", connectTimeout)
	}
	return token.Error()
}

// Close announces offline and disconnects.
func (b *Bridge) Close() {
	b.publish(b.topics.Availability(), []byte(payloadOffline), true)
	b.client.Disconnect(uint(publishTimeout.Milliseconds()))
}

// PublishSnapshot pushes a snapshot to the retained state topic. It is
// registered as a poller subscriber.
func (b *Bridge) PublishSnapshot(snap dreame.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		b.log.Error("encode snapshot", "component", "bridge", "error", err)
		return
	}
	b.publish(b.topics.State(), payload, true)
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.publish(b.topics.Availability(), []byte(payloadOnline), true)

	subs := map[string]mqtt.MessageHandler{
		b.topics.Command():     b.handleCommand,
		b.topics.FanSpeedSet(): b.handleFanSpeed,
		b.topics.CleanZone():   b.handleCleanZone,
	}
	for topic, handler := range subs {
		if token := client.Subscribe(topic, b.qos, handler); token.Wait() && token.Error() != nil {
			b.log.Error("mqtt subscribe", "component", "bridge", "topic", topic, "error", token.Error())
		}
	}
}

func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	name := string(msg.Payload())
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch name {
	case "start":
		err = b.dispatcher.Start(ctx)
	case "pause":
		err = b.dispatcher.Pause(ctx)
	case "stop":
		err = b.dispatcher.Stop(ctx)
	case "return_to_base":
		err = b.dispatcher.ReturnToBase(ctx)
	case "locate":
		err = b.dispatcher.Locate(ctx)
	case "reset_main_brush":
		err = b.dispatcher.ResetMainBrush(ctx)
	case "reset_filter":
		err = b.dispatcher.ResetFilter(ctx)
	case "reset_side_brush":
		err = b.dispatcher.ResetSideBrush(ctx)
	default:
		err = &dreame.CommandError{
			Kind:   dreame.CommandInvalidArgument,
			Action: "command",
			Err:    fmt.Errorf("unknown command %q", name),
		}
	}
	b.finishCommand(name, err)
}

func (b *Bridge) handleFanSpeed(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	b.finishCommand("set_fan_speed", b.dispatcher.SetFanSpeed(ctx, string(msg.Payload())))
}

func (b *Bridge) handleCleanZone(_ mqtt.Client, msg mqtt.Message) {
	zones, err := ParseZonePayload(msg.Payload())
	if err != nil {
		b.finishCommand("clean_zone", &dreame.CommandError{
			Kind:   dreame.CommandInvalidArgument,
			Action: "clean_zone",
			Err:    err,
		})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	b.finishCommand("clean_zone", b.dispatcher.CleanZones(ctx, zones))
}

func (b *Bridge) finishCommand(action string, err error) {
	if err == nil {
		b.log.Info("command dispatched", "component", "bridge", "action", action)
		return
	}

	kind := "error"
	var cerr *dreame.CommandError
	if errors.As(err, &cerr) {
		kind = string(cerr.Kind)
	}
	b.log.Warn("command failed", "component", "bridge", "action", action, "kind", kind, "error", err)

	payload, merr := json.Marshal(map[string]string{
		"action": action,
		"kind":   kind,
		"error":  err.Error(),
	})
	if merr != nil {
		return
	}
	b.publish(b.topics.LastError(), payload, false)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, b.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.log.Warn("mqtt publish timeout", "component", "bridge", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn("mqtt publish", "component", "bridge", "topic", topic, "error", err)
	}
}

// ParseZonePayload decodes the clean_zone payload: a JSON object whose
// zones field holds [x1, y1, x2, y2, repeat] tuples, matching the wire
// layout the device expects.
func ParseZonePayload(payload []byte) ([]dreame.Zone, error) {
	var body struct {
		Zones [][]int `json:"zones"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parse clean_zone payload: %w", err)
	}
	if len(body.Zones) == 0 {
		return nil, fmt.Errorf("clean_zone payload has no zones")
	}

	zones := make([]dreame.Zone, 0, len(body.Zones))
	for i, tuple := range body.Zones {
		if len(tuple) != 5 {
			return nil, fmt.Errorf("zone %d: expected 5 values [x1 y1 x2 y2 repeat], got %d", i, len(tuple))
		}
		zones = append(zones, dreame.Zone{
			X1: tuple[0], Y1: tuple[1], X2: tuple[2], Y2: tuple[3], Repeat: tuple[4],
		})
	}
	return zones, nil
}
