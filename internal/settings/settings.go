// Package settings holds the announcement configuration model: person
// and room profiles, the group profile, global toggles, and the mutable
// enable switches. Everything a request needs is captured in a frozen
// [Snapshot] taken at request start, so mid-flight configuration
// changes only affect the next request.
package settings

import (
	"strings"
	"time"
)

// TrackStrategy selects how a tracker entity reports the room a person
// is in. Resolved once at configuration time, not per call.
type TrackStrategy string

const (
	// StrategyAuto tries state, then the area attribute, then the room
	// attribute. This matches trackers like Bermuda and ESPresense that
	// report the area name directly as the entity state.
	StrategyAuto TrackStrategy = "auto"

	// StrategyState reads the area name from the entity state.
	StrategyState TrackStrategy = "state"

	// StrategyAreaAttr reads the "area" attribute.
	StrategyAreaAttr TrackStrategy = "area_attr"

	// StrategyRoomAttr reads the "room" attribute.
	StrategyRoomAttr TrackStrategy = "room_attr"
)

// Person is a tracked household member and their delivery profile.
type Person struct {
	Name          string
	Entity        string
	Trackers      []string
	Strategy      TrackStrategy
	RequireHome   bool
	Language      string
	TTSPlatform   string
	TTSVoice      string
	EnhanceWithAI bool
	Translate     bool
	Agent         string
	Enabled       bool
}

// Room is a delivery point: an area with a media player and optional
// presence sensors.
type Room struct {
	Name            string
	AreaID          string
	MediaPlayer     string
	PresenceSensors []string
	Enabled         bool
}

// GroupProfile is the shared profile used for group-mode deliveries.
type GroupProfile struct {
	Addressee     string
	Language      string
	TTSPlatform   string
	TTSVoice      string
	EnhanceWithAI bool
	Translate     bool
	Agent         string
}

// Globals are the installation-wide toggles and delivery defaults.
type Globals struct {
	RoomTracking         bool
	PresenceVerification bool
	HomeAwayTracking     bool
	PreAnnounceEnabled   bool
	PreAnnounceURL       string
	PreAnnounceDelay     time.Duration
	DeliveryTimeout      time.Duration
	DuckVolume           float64
}

// Snapshot is an immutable copy of the full settings state at a point
// in time. Requests operate exclusively on a snapshot.
type Snapshot struct {
	Persons []Person
	Rooms   []Room
	Group   GroupProfile
	Globals Globals
}

// PersonByName finds a person by display name, case-insensitively.
func (s *Snapshot) PersonByName(name string) (Person, bool) {
	name = strings.TrimSpace(name)
	for _, p := range s.Persons {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Person{}, false
}

// RoomByArea finds a room by area ID, case-insensitively.
func (s *Snapshot) RoomByArea(areaID string) (Room, bool) {
	for _, r := range s.Rooms {
		if strings.EqualFold(r.AreaID, areaID) || strings.EqualFold(r.Name, areaID) {
			return r, true
		}
	}
	return Room{}, false
}

// EnabledRooms returns the rooms whose switch is on.
func (s *Snapshot) EnabledRooms() []Room {
	rooms := make([]Room, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		if r.Enabled {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// EnabledPersons returns the persons whose switch is on.
func (s *Snapshot) EnabledPersons() []Person {
	persons := make([]Person, 0, len(s.Persons))
	for _, p := range s.Persons {
		if p.Enabled {
			persons = append(persons, p)
		}
	}
	return persons
}
