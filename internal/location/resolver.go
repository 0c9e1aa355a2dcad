// Package location resolves where tracked people currently are, and
// reads presence sensors. It is the only package that interprets
// tracker entity state; everything downstream works with area IDs.
package location

import (
	"context"
	"log/slog"
	"strings"

	"github.com/herald-home/herald/internal/homeassistant"
	"github.com/herald-home/herald/internal/settings"
)

// nonAreaStates are tracker states that never name a room.
var nonAreaStates = map[string]bool{
	"home":        true,
	"not_home":    true,
	"unknown":     true,
	"unavailable": true,
	"":            true,
}

// StateGetter abstracts the Home Assistant REST client for fetching
// entity state. Using an interface keeps the resolver testable without
// a real HA instance.
type StateGetter interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// Resolver maps people to rooms using their tracker entities, and
// answers presence-sensor queries. Safe for concurrent use; it holds
// no mutable state.
type Resolver struct {
	ha     StateGetter
	logger *slog.Logger
}

// NewResolver creates a location resolver backed by the given state source.
func NewResolver(ha StateGetter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{ha: ha, logger: logger}
}

// RoomFor returns the area ID of the room the person is currently in,
// matched against the given room table. The second return is false
// when the location cannot be resolved: the person is away (with the
// home gate active), no tracker reports a known room, or state reads
// fail.
func (r *Resolver) RoomFor(ctx context.Context, person settings.Person, rooms []settings.Room, homeGate bool) (string, bool) {
	trackers := person.Trackers

	personState, err := r.ha.GetState(ctx, person.Entity)
	if err != nil {
		r.logger.Debug("person entity unavailable",
			"person", person.Name, "entity", person.Entity, "error", err)
		personState = nil
	}

	if homeGate && person.RequireHome {
		if personState == nil || personState.State != "home" {
			state := "unavailable"
			if personState != nil {
				state = personState.State
			}
			r.logger.Debug("person not home, skipping room resolution",
				"person", person.Name, "state", state)
			return "", false
		}
	}

	// Fall back to the person entity's source trackers when none are
	// configured explicitly.
	if len(trackers) == 0 && personState != nil {
		trackers = sourceTrackers(personState)
	}

	for _, trackerID := range trackers {
		state, err := r.ha.GetState(ctx, trackerID)
		if err != nil {
			r.logger.Debug("tracker unavailable", "tracker", trackerID, "error", err)
			continue
		}

		if area := areaFromTracker(state, person.Strategy); area != "" {
			if room, ok := matchRoom(area, rooms); ok {
				r.logger.Debug("person located",
					"person", person.Name, "tracker", trackerID, "area", room.AreaID)
				return room.AreaID, true
			}
			r.logger.Debug("tracker reports unconfigured area",
				"tracker", trackerID, "area", area)
		}
	}

	return "", false
}

// AnySensorActive reports whether at least one of the given binary
// sensors is "on". Sensors that fail to read are treated as inactive.
func (r *Resolver) AnySensorActive(ctx context.Context, sensors []string) bool {
	for _, sensorID := range sensors {
		state, err := r.ha.GetState(ctx, sensorID)
		if err != nil {
			r.logger.Debug("presence sensor unavailable", "sensor", sensorID, "error", err)
			continue
		}
		if state.State == "on" {
			return true
		}
	}
	return false
}

// areaFromTracker extracts the area name a tracker reports, honoring
// the configured strategy. StrategyAuto tries state first, then the
// area attribute, then the room attribute.
func areaFromTracker(state *homeassistant.State, strategy settings.TrackStrategy) string {
	fromState := func() string {
		if nonAreaStates[strings.ToLower(state.State)] {
			return ""
		}
		return state.State
	}
	fromAttr := func(key string) string {
		if v, ok := state.Attributes[key].(string); ok {
			return v
		}
		return ""
	}

	switch strategy {
	case settings.StrategyState:
		return fromState()
	case settings.StrategyAreaAttr:
		return fromAttr("area")
	case settings.StrategyRoomAttr:
		return fromAttr("room")
	default:
		if area := fromState(); area != "" {
			return area
		}
		if area := fromAttr("area"); area != "" {
			return area
		}
		return fromAttr("room")
	}
}

// matchRoom matches a tracker-reported area name against the room
// table by area ID or display name, case-insensitively.
func matchRoom(area string, rooms []settings.Room) (settings.Room, bool) {
	for _, room := range rooms {
		if strings.EqualFold(room.AreaID, area) || strings.EqualFold(room.Name, area) {
			return room, true
		}
	}
	return settings.Room{}, false
}

// sourceTrackers reads the person entity's source attribute, which HA
// populates with the device trackers backing the person.
func sourceTrackers(state *homeassistant.State) []string {
	switch src := state.Attributes["source"].(type) {
	case string:
		return []string{src}
	case []any:
		trackers := make([]string, 0, len(src))
		for _, v := range src {
			if s, ok := v.(string); ok {
				trackers = append(trackers, s)
			}
		}
		return trackers
	default:
		return nil
	}
}
