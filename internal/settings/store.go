package settings

import (
	"time"

	"github.com/herald-home/herald/internal/config"
)

// Store combines the static configuration (persons, rooms, group
// profile, globals) with the mutable switch board. It is the single
// source for per-request snapshots.
type Store struct {
	persons []Person
	rooms   []Room
	group   GroupProfile
	globals Globals
	board   *SwitchBoard
}

// NewStore builds a Store from loaded configuration. Profile fallbacks
// are applied here, once: an empty person TTS platform or agent falls
// back to the configured defaults, and languages default to english.
func NewStore(cfg *config.Config, board *SwitchBoard) *Store {
	a := cfg.Announce

	persons := make([]Person, 0, len(cfg.People))
	for _, pc := range cfg.People {
		persons = append(persons, Person{
			Name:          pc.Name,
			Entity:        pc.Entity,
			Trackers:      append([]string(nil), pc.Trackers...),
			Strategy:      parseStrategy(pc.Strategy),
			RequireHome:   boolOr(pc.RequireHome, true),
			Language:      stringOr(pc.Language, "english"),
			TTSPlatform:   stringOr(pc.TTSPlatform, a.DefaultTTSPlatform),
			TTSVoice:      pc.TTSVoice,
			EnhanceWithAI: pc.EnhanceWithAI,
			Translate:     pc.Translate,
			Agent:         stringOr(pc.Agent, a.DefaultAgent),
		})
	}

	rooms := make([]Room, 0, len(cfg.Rooms))
	for _, rc := range cfg.Rooms {
		rooms = append(rooms, Room{
			Name:            stringOr(rc.Name, rc.AreaID),
			AreaID:          rc.AreaID,
			MediaPlayer:     rc.MediaPlayer,
			PresenceSensors: append([]string(nil), rc.PresenceSensors...),
		})
	}

	group := GroupProfile{
		Addressee:     stringOr(a.Group.Addressee, "Everyone"),
		Language:      stringOr(a.Group.Language, "english"),
		TTSPlatform:   stringOr(a.Group.TTSPlatform, a.DefaultTTSPlatform),
		TTSVoice:      a.Group.TTSVoice,
		EnhanceWithAI: a.Group.EnhanceWithAI,
		Translate:     a.Group.Translate,
		Agent:         stringOr(a.Group.Agent, a.DefaultAgent),
	}

	globals := Globals{
		RoomTracking:         boolOr(a.RoomTracking, true),
		PresenceVerification: boolOr(a.PresenceVerification, false),
		HomeAwayTracking:     boolOr(a.HomeAwayTracking, true),
		PreAnnounceEnabled:   boolOr(a.PreAnnounce.Enabled, true),
		PreAnnounceURL:       a.PreAnnounce.URL,
		PreAnnounceDelay:     clampDelay(a.PreAnnounce.DelaySec),
		DeliveryTimeout:      time.Duration(a.DeliveryTimeoutSec) * time.Second,
		DuckVolume:           a.DuckVolume,
	}

	return &Store{
		persons: persons,
		rooms:   rooms,
		group:   group,
		globals: globals,
		board:   board,
	}
}

// Snapshot returns a frozen copy of the settings with the enable
// switches stamped from the board's current state. The snapshot does
// not change when switches are toggled afterwards.
func (s *Store) Snapshot() Snapshot {
	persons := make([]Person, len(s.persons))
	copy(persons, s.persons)
	for i := range persons {
		persons[i].Enabled = s.board == nil || s.board.Enabled(KindPerson, persons[i].Name)
	}

	rooms := make([]Room, len(s.rooms))
	copy(rooms, s.rooms)
	for i := range rooms {
		rooms[i].Enabled = s.board == nil || s.board.Enabled(KindRoom, rooms[i].AreaID)
	}

	return Snapshot{
		Persons: persons,
		Rooms:   rooms,
		Group:   s.group,
		Globals: s.globals,
	}
}

// Board returns the switch board, or nil when switches are not persisted.
func (s *Store) Board() *SwitchBoard {
	return s.board
}

func parseStrategy(s string) TrackStrategy {
	switch TrackStrategy(s) {
	case StrategyState, StrategyAreaAttr, StrategyRoomAttr:
		return TrackStrategy(s)
	default:
		return StrategyAuto
	}
}

func stringOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func boolOr(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}

func clampDelay(sec int) time.Duration {
	if sec < 0 {
		sec = 0
	}
	if sec > 10 {
		sec = 10
	}
	return time.Duration(sec) * time.Second
}
