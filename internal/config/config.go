// Package config handles Herald configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "herald", "config.yaml"))
	}

	paths = append(paths, "/etc/herald/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Herald configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Announce      AnnounceConfig      `yaml:"announce"`
	People        []PersonConfig      `yaml:"people"`
	Rooms         []RoomConfig        `yaml:"rooms"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8127
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether a Home Assistant URL has been provided.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != ""
}

// MQTTConfig defines the optional MQTT surface: discovery switches for
// per-person and per-room enablement, outcome events, and the announce
// command topic. Herald runs without it when Enabled is false.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"`      // default: "herald"
	DiscoveryPrefix string `yaml:"discovery_prefix"` // default: "homeassistant"
}

// OllamaConfig defines the optional local model endpoint used for agent
// references of the form "ollama:<model>".
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// AnnounceConfig holds the global announcement toggles and defaults.
// The per-request overrides in a service call take precedence over
// everything here; person profiles take precedence over the defaults.
type AnnounceConfig struct {
	RoomTracking         *bool             `yaml:"room_tracking"`         // default true
	PresenceVerification *bool             `yaml:"presence_verification"` // default false
	HomeAwayTracking     *bool             `yaml:"home_away_tracking"`    // default true
	DefaultTTSPlatform   string            `yaml:"default_tts_platform"`
	DefaultAgent         string            `yaml:"default_agent"`
	DeliveryTimeoutSec   int               `yaml:"delivery_timeout_sec"` // default 30
	DuckVolume           float64           `yaml:"duck_volume"`          // default 0.3
	PreAnnounce          PreAnnounceConfig `yaml:"pre_announce"`
	Group                GroupConfig       `yaml:"group"`
	Prompts              PromptsConfig     `yaml:"prompts"`
}

// PreAnnounceConfig defines the chime played before the spoken message.
type PreAnnounceConfig struct {
	Enabled  *bool  `yaml:"enabled"` // default true
	URL      string `yaml:"url"`     // default /local/sounds/chime.mp3
	DelaySec int    `yaml:"delay_sec"`
}

// GroupConfig is the shared profile used when a room holds more than
// one addressee.
type GroupConfig struct {
	Addressee     string `yaml:"addressee"` // default "Everyone"
	Language      string `yaml:"language"`
	TTSPlatform   string `yaml:"tts_platform"`
	TTSVoice      string `yaml:"tts_voice"`
	EnhanceWithAI bool   `yaml:"enhance_with_ai"`
	Translate     bool   `yaml:"translate_announcement"`
	Agent         string `yaml:"agent"`
}

// PromptsConfig overrides the built-in transformation templates. Each
// template may reference {language} and {message} placeholders.
type PromptsConfig struct {
	Translate string `yaml:"translate"`
	Enhance   string `yaml:"enhance"`
	Both      string `yaml:"both"`
}

// PersonConfig defines a tracked household member and their delivery profile.
type PersonConfig struct {
	Name          string   `yaml:"name"`
	Entity        string   `yaml:"entity"`   // person.* entity ID
	Trackers      []string `yaml:"trackers"` // device_tracker/sensor entities reporting a room
	Strategy      string   `yaml:"strategy"` // state, area_attr, room_attr, or auto (default)
	RequireHome   *bool    `yaml:"require_home"`
	Language      string   `yaml:"language"`
	TTSPlatform   string   `yaml:"tts_platform"`
	TTSVoice      string   `yaml:"tts_voice"`
	EnhanceWithAI bool     `yaml:"enhance_with_ai"`
	Translate     bool     `yaml:"translate_announcement"`
	Agent         string   `yaml:"agent"`
}

// RoomConfig defines a delivery point: a named area with a media player
// and optional presence sensors.
type RoomConfig struct {
	Name            string   `yaml:"name"`
	AreaID          string   `yaml:"area_id"`
	MediaPlayer     string   `yaml:"media_player"`
	PresenceSensors []string `yaml:"presence_sensors"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8127},
		DataDir: "data",
		MQTT: MQTTConfig{
			DeviceName:      "herald",
			DiscoveryPrefix: "homeassistant",
		},
		Announce: AnnounceConfig{
			DeliveryTimeoutSec: 30,
			DuckVolume:         0.3,
			PreAnnounce: PreAnnounceConfig{
				URL:      "/local/sounds/chime.mp3",
				DelaySec: 2,
			},
			Group: GroupConfig{
				Addressee: "Everyone",
				Language:  "english",
			},
		},
	}
}

// Validate checks the configuration for problems that would prevent
// startup. It returns the first error found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	if !c.HomeAssistant.Configured() {
		return fmt.Errorf("homeassistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("homeassistant.token is required")
	}

	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q (expected text or json)", c.LogFormat)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}

	if d := c.Announce.PreAnnounce.DelaySec; d < 0 || d > 10 {
		return fmt.Errorf("announce.pre_announce.delay_sec %d out of range (0-10)", d)
	}
	if v := c.Announce.DuckVolume; v < 0 || v > 1 {
		return fmt.Errorf("announce.duck_volume %v out of range (0-1)", v)
	}

	seenPeople := make(map[string]bool, len(c.People))
	for i, p := range c.People {
		if p.Name == "" {
			return fmt.Errorf("people[%d]: name is required", i)
		}
		if p.Entity == "" {
			return fmt.Errorf("person %q: entity is required", p.Name)
		}
		key := p.Name
		if seenPeople[key] {
			return fmt.Errorf("duplicate person name %q", p.Name)
		}
		seenPeople[key] = true

		switch p.Strategy {
		case "", "auto", "state", "area_attr", "room_attr":
		default:
			return fmt.Errorf("person %q: unknown strategy %q", p.Name, p.Strategy)
		}
	}

	seenRooms := make(map[string]bool, len(c.Rooms))
	for i, r := range c.Rooms {
		if r.AreaID == "" {
			return fmt.Errorf("rooms[%d]: area_id is required", i)
		}
		if r.MediaPlayer == "" {
			return fmt.Errorf("room %q: media_player is required", r.AreaID)
		}
		if seenRooms[r.AreaID] {
			return fmt.Errorf("duplicate room area_id %q", r.AreaID)
		}
		seenRooms[r.AreaID] = true
	}

	return nil
}
