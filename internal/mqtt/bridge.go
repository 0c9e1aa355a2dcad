package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/herald-home/herald/internal/announce"
	"github.com/herald-home/herald/internal/config"
)

// Board is the switch state the bridge reads and writes. Implemented
// by settings.SwitchBoard.
type Board interface {
	Set(kind, id string, enabled bool) error
	Enabled(kind, id string) bool
}

// AnnounceFunc handles an announcement request received over the
// announce command topic.
type AnnounceFunc func(ctx context.Context, req announce.Request)

// SwitchDef describes one discoverable enable switch.
type SwitchDef struct {
	Kind  string // settings.KindPerson or settings.KindRoom
	ID    string // person name or room area ID (the switch board key)
	Label string // entity display name
}

// Bridge manages the MQTT connection: discovery configs and switch
// states on (re-)connect, command topic subscriptions, and outcome
// event publishing.
type Bridge struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	board      Board
	switches   []SwitchDef
	announce   AnnounceFunc
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
	connected  atomic.Bool

	// command topic → switch, resolved once at construction
	bySlug map[string]SwitchDef
}

// NewBridge creates a Bridge but does not connect. Call [Bridge.Start]
// to begin the connection.
func NewBridge(cfg config.MQTTConfig, instanceID string, board Board, switches []SwitchDef, announceFn AnnounceFunc, logger *slog.Logger) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		board:      board,
		switches:   switches,
		announce:   announceFn,
		logger:     logger,
		bySlug:     make(map[string]SwitchDef, len(switches)),
	}
	for _, sw := range switches {
		b.bySlug[switchSlug(sw)] = sw
	}
	return b
}

// Start connects to the MQTT broker and blocks until ctx is cancelled.
// On every (re-)connect it publishes discovery configs, current switch
// states, and a birth message, then re-subscribes to command topics.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.connected.Store(true)
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.Broker)
			b.publishDiscovery(ctx, cm)
			b.publishSwitchStates(ctx, cm)
			b.publishAvailability(ctx, cm, "online")
			b.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			b.connected.Store(false)
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "herald-" + b.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleMessage(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (b *Bridge) AwaitConnection(ctx context.Context) error {
	if b.cm == nil {
		return fmt.Errorf("mqtt bridge not started")
	}
	return b.cm.AwaitConnection(ctx)
}

// Record implements announce.Sink: every outcome is published as a
// JSON event. Publish failures are logged and dropped; outcome events
// are observability data, not request state.
func (b *Bridge) Record(requestID string, o announce.Outcome) {
	if b.cm == nil {
		return
	}
	payload, err := json.Marshal(o)
	if err != nil {
		b.logger.Error("mqtt marshal outcome", "request_id", requestID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   b.outcomeTopic(),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		b.logger.Warn("mqtt outcome publish failed", "request_id", requestID, "error", err)
	}
}

// PublishSwitchState pushes one switch's state topic. Wire it as the
// switch board's change listener so HA reflects toggles from any
// source (MQTT command, API, restart restore).
func (b *Bridge) PublishSwitchState(kind, id string, enabled bool) {
	if b.cm == nil {
		return
	}
	sw, ok := b.bySlug[slug(kind)+"/"+slug(id)]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.publishOneSwitchState(ctx, b.cm, sw, enabled)
}

// Name implements the status reporter interface.
func (b *Bridge) Name() string { return "mqtt" }

// Status implements the status reporter interface.
func (b *Bridge) Status() map[string]any {
	return map[string]any{
		"connected": b.connected.Load(),
		"broker":    b.cfg.Broker,
		"switches":  len(b.switches),
	}
}

// --- Topic helpers ---

func (b *Bridge) baseTopic() string {
	return "herald/" + b.cfg.DeviceName
}

func (b *Bridge) availabilityTopic() string {
	return b.baseTopic() + "/availability"
}

func (b *Bridge) outcomeTopic() string {
	return b.baseTopic() + "/outcome"
}

func (b *Bridge) announceTopic() string {
	return b.baseTopic() + "/announce"
}

func (b *Bridge) switchStateTopic(sw SwitchDef) string {
	return b.baseTopic() + "/switch/" + switchSlug(sw) + "/state"
}

func (b *Bridge) switchCommandTopic(sw SwitchDef) string {
	return b.baseTopic() + "/switch/" + switchSlug(sw) + "/set"
}

func (b *Bridge) discoveryTopic(sw SwitchDef) string {
	return b.cfg.DiscoveryPrefix + "/switch/" + b.cfg.DeviceName + "/" + slug(sw.Kind) + "_" + slug(sw.ID) + "/config"
}

func switchSlug(sw SwitchDef) string {
	return slug(sw.Kind) + "/" + slug(sw.ID)
}

// slug lowercases an identifier and folds whitespace to underscores so
// person names and area IDs are safe in topic paths and unique IDs.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// --- Discovery and state ---

func (b *Bridge) switchConfig(sw SwitchDef) SwitchConfig {
	icon := "mdi:account-voice"
	if sw.Kind == "room" {
		icon = "mdi:speaker"
	}
	return SwitchConfig{
		Name:              b.device.Name + " " + sw.Label + " Announcements",
		ObjectID:          b.cfg.DeviceName + "_" + slug(sw.Kind) + "_" + slug(sw.ID),
		UniqueID:          b.instanceID + "_" + slug(sw.Kind) + "_" + slug(sw.ID),
		StateTopic:        b.switchStateTopic(sw),
		CommandTopic:      b.switchCommandTopic(sw),
		AvailabilityTopic: b.availabilityTopic(),
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            b.device,
		Icon:              icon,
		EntityCategory:    "config",
	}
}

func (b *Bridge) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, sw := range b.switches {
		topic := b.discoveryTopic(sw)
		payload, err := json.Marshal(b.switchConfig(sw))
		if err != nil {
			b.logger.Error("mqtt marshal discovery payload",
				"switch", switchSlug(sw), "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			b.logger.Warn("mqtt discovery publish failed",
				"switch", switchSlug(sw), "topic", topic, "error", err)
		} else {
			b.logger.Debug("mqtt discovery published",
				"switch", switchSlug(sw), "topic", topic)
		}
	}
}

func (b *Bridge) publishSwitchStates(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, sw := range b.switches {
		b.publishOneSwitchState(ctx, cm, sw, b.board.Enabled(sw.Kind, sw.ID))
	}
}

func (b *Bridge) publishOneSwitchState(ctx context.Context, cm *autopaho.ConnectionManager, sw SwitchDef, enabled bool) {
	payload := "OFF"
	if enabled {
		payload = "ON"
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.switchStateTopic(sw),
		Payload: []byte(payload),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Debug("mqtt switch state publish failed",
			"switch", switchSlug(sw), "error", err)
	}
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		b.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Inbound commands ---

func (b *Bridge) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	subs := []paho.SubscribeOptions{
		{Topic: b.baseTopic() + "/switch/+/+/set", QoS: 1},
		{Topic: b.announceTopic(), QoS: 1},
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		b.logger.Warn("mqtt command subscribe failed", "error", err)
		return
	}
	b.logger.Debug("mqtt command topics subscribed", "count", len(subs))
}

func (b *Bridge) handleMessage(ctx context.Context, topic string, payload []byte) {
	if topic == b.announceTopic() {
		b.handleAnnounce(ctx, payload)
		return
	}

	rest, ok := strings.CutPrefix(topic, b.baseTopic()+"/switch/")
	if !ok {
		return
	}
	key, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return
	}
	sw, ok := b.bySlug[key]
	if !ok {
		b.logger.Warn("mqtt command for unknown switch", "topic", topic)
		return
	}

	var enabled bool
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		enabled = true
	case "OFF":
		enabled = false
	default:
		b.logger.Warn("mqtt unrecognized switch payload",
			"switch", key, "payload", string(payload))
		return
	}

	if err := b.board.Set(sw.Kind, sw.ID, enabled); err != nil {
		b.logger.Error("switch update failed",
			"switch", key, "enabled", enabled, "error", err)
		return
	}
	b.logger.Info("switch toggled via mqtt",
		"kind", sw.Kind, "id", sw.ID, "enabled", enabled)
}

func (b *Bridge) handleAnnounce(ctx context.Context, payload []byte) {
	if b.announce == nil {
		return
	}
	var req announce.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("mqtt announce payload invalid", "error", err)
		return
	}
	if err := req.Validate(); err != nil {
		b.logger.Warn("mqtt announce request invalid", "error", err)
		return
	}
	// Runs on the paho receive goroutine; hand off so a slow delivery
	// cannot stall inbound message handling.
	go b.announce(ctx, req)
}
