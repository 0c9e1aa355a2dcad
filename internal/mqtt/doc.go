// Package mqtt publishes Home Assistant MQTT discovery messages and
// subscribes to Herald's command topics. Herald appears as a native HA
// device carrying one enable switch per configured person and room,
// plus availability tracking.
//
// Outbound: retained switch discovery configs, switch state topics,
// announcement outcome events, and a birth/will availability pair.
// Inbound: switch command topics (toggling the persisted switch board)
// and an announce command topic accepting the same JSON body as the
// HTTP API.
//
// The bridge uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// republishes retained discovery configs and current switch states,
// publishes "online" to the availability topic, and re-subscribes to
// the command topics. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects.
package mqtt
