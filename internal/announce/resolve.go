package announce

import (
	"context"
	"log/slog"
	"strings"

	"github.com/herald-home/herald/internal/settings"
)

// Locator answers where a person currently is. Implemented by
// location.Resolver; faked in tests.
type Locator interface {
	RoomFor(ctx context.Context, person settings.Person, rooms []settings.Room, homeGate bool) (string, bool)
}

// pair couples a candidate room with the occupants the announcement
// addresses there. No two pairs share a room.
type pair struct {
	room      settings.Room
	occupants []settings.Person
}

// resolution is the output of target resolution: candidate pairs plus
// the outcomes for targets that never produced a pair.
type resolution struct {
	pairs          []pair
	outcomes       []Outcome
	personTargeted bool
}

// resolveTargets turns a request into candidate (room, occupants)
// pairs against a frozen settings snapshot.
//
// Precedence: with room tracking disabled (request override or global)
// every configured room becomes a candidate — the broadcast path — and
// per-person location resolution is skipped entirely; an explicit
// target_area or target_person still narrows the set. With tracking
// active, target_area names one room, target_person resolves each
// named person's room, and an untargeted request resolves every
// enabled person.
func resolveTargets(ctx context.Context, req Request, snap settings.Snapshot, loc Locator, logger *slog.Logger) resolution {
	var res resolution

	names := req.TargetPersons()
	res.personTargeted = len(names) > 0

	// Match names against configured persons. Unknown names fail
	// individually without aborting the rest of the request.
	var matched []settings.Person
	for _, name := range names {
		p, ok := snap.PersonByName(name)
		if !ok {
			logger.Warn("target person not configured", "name", name)
			res.outcomes = append(res.outcomes, Outcome{
				Person: name,
				Status: StatusFailed,
				Reason: ReasonUnknownPerson,
			})
			continue
		}
		matched = append(matched, p)
	}

	if req.TargetArea != "" {
		room, ok := snap.RoomByArea(req.TargetArea)
		if !ok {
			logger.Warn("target area not configured", "area", req.TargetArea)
			res.outcomes = append(res.outcomes, Outcome{
				Room:   req.TargetArea,
				Status: StatusFailed,
				Reason: ReasonUnknownArea,
			})
			return res
		}
		res.pairs = []pair{{room: room, occupants: matched}}
		return res
	}

	roomTracking := override(req.RoomTracking, snap.Globals.RoomTracking)
	if !roomTracking {
		// Broadcast path: every room, occupancy unknown. Named persons
		// still narrow the addressing within each room.
		for _, room := range snap.Rooms {
			res.pairs = append(res.pairs, pair{room: room, occupants: matched})
		}
		return res
	}

	if res.personTargeted {
		byRoom := make(map[string]int)
		for _, p := range matched {
			area, ok := loc.RoomFor(ctx, p, snap.Rooms, snap.Globals.HomeAwayTracking)
			if !ok {
				logger.Info("target person location unresolved", "person", p.Name)
				res.outcomes = append(res.outcomes, Outcome{
					Person: p.Name,
					Status: StatusSkipped,
					Reason: ReasonLocationUnresolved,
				})
				continue
			}
			if i, seen := byRoom[area]; seen {
				res.pairs[i].occupants = append(res.pairs[i].occupants, p)
				continue
			}
			room, _ := snap.RoomByArea(area)
			byRoom[area] = len(res.pairs)
			res.pairs = append(res.pairs, pair{room: room, occupants: []settings.Person{p}})
		}
		return res
	}

	// Untargeted: resolve every enabled person, grouping by room.
	// Rooms with no resolved occupants are not candidates.
	byRoom := make(map[string]int)
	for _, p := range snap.EnabledPersons() {
		area, ok := loc.RoomFor(ctx, p, snap.Rooms, snap.Globals.HomeAwayTracking)
		if !ok {
			continue
		}
		if i, seen := byRoom[area]; seen {
			res.pairs[i].occupants = append(res.pairs[i].occupants, p)
			continue
		}
		room, _ := snap.RoomByArea(area)
		byRoom[area] = len(res.pairs)
		res.pairs = append(res.pairs, pair{room: room, occupants: []settings.Person{p}})
	}
	return res
}

// applyGate filters resolved pairs through the enable switches. It is
// purely a filter: classification happens afterwards, on what remains.
func applyGate(res resolution, logger *slog.Logger) ([]pair, []Outcome) {
	var kept []pair
	var outcomes []Outcome

	for _, pr := range res.pairs {
		if !pr.room.Enabled {
			logger.Info("room disabled, skipping", "room", pr.room.AreaID)
			outcomes = append(outcomes, Outcome{
				Room:   pr.room.AreaID,
				Status: StatusSkipped,
				Reason: ReasonRoomDisabled,
			})
			continue
		}

		enabled := pr.occupants[:0:0]
		var disabled []string
		for _, p := range pr.occupants {
			if p.Enabled {
				enabled = append(enabled, p)
			} else {
				disabled = append(disabled, p.Name)
			}
		}

		if len(enabled) == 0 && len(pr.occupants) > 0 && res.personTargeted {
			logger.Info("all targeted occupants disabled, skipping room",
				"room", pr.room.AreaID, "persons", strings.Join(disabled, ", "))
			outcomes = append(outcomes, Outcome{
				Room:   pr.room.AreaID,
				Person: strings.Join(disabled, ", "),
				Status: StatusSkipped,
				Reason: ReasonPersonDisabled,
			})
			continue
		}

		pr.occupants = enabled
		kept = append(kept, pr)
	}

	return kept, outcomes
}
