// Package announce implements the announcement routing core: target
// resolution, the enable-switch gate, individual/group classification,
// presence verification, text transformation, and per-room delivery
// with failure isolation between rooms.
package announce

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/herald-home/herald/internal/settings"
)

// SettingsSource provides the frozen per-request settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Snapshot
}

// PresenceReader answers whether any of a room's presence sensors is
// active. Implemented by location.Resolver; faked in tests.
type PresenceReader interface {
	AnySensorActive(ctx context.Context, sensors []string) bool
}

// Announcer routes one announcement request to zero or more rooms.
// Each resolved assignment runs as its own task; no room's failure can
// fail or skip another room's delivery.
type Announcer struct {
	store        SettingsSource
	locator      Locator
	presence     PresenceReader
	pipeline     *Pipeline
	orchestrator *Orchestrator
	logger       *slog.Logger

	sinksMu sync.RWMutex
	sinks   []Sink
}

// New creates an announcer.
func New(store SettingsSource, locator Locator, presence PresenceReader, pipeline *Pipeline, orchestrator *Orchestrator, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		store:        store,
		locator:      locator,
		presence:     presence,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// AddSink registers an outcome sink (history journal, metrics, MQTT
// events). Sinks receive every outcome as it is determined.
func (a *Announcer) AddSink(s Sink) {
	a.sinksMu.Lock()
	defer a.sinksMu.Unlock()
	a.sinks = append(a.sinks, s)
}

// Announce processes one request to completion and returns all
// outcomes. The only synchronous error is ErrInvalidRequest; every
// other failure is isolated to its room assignment and reported
// through the outcomes.
func (a *Announcer) Announce(ctx context.Context, req Request) ([]Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	logger := a.logger.With("request_id", req.ID)
	logger.Info("announce requested",
		"message", req.Message,
		"target_person", req.TargetPerson,
		"target_area", req.TargetArea,
	)

	// The snapshot is frozen for the life of the request; switch
	// toggles and config changes apply to the next request.
	snap := a.store.Snapshot()

	res := resolveTargets(ctx, req, snap, a.locator, logger)
	pairs, gateOutcomes := applyGate(res, logger)

	var outcomes []Outcome
	for _, o := range res.outcomes {
		outcomes = append(outcomes, a.record(req, o))
	}
	for _, o := range gateOutcomes {
		outcomes = append(outcomes, a.record(req, o))
	}

	assignments := classify(pairs, res.personTargeted, snap, req.Message)
	if len(assignments) == 0 {
		logger.Warn("no rooms resolved for announcement")
		return outcomes, nil
	}

	// Fan out: one task per room assignment, no ordering between them.
	results := make(chan Outcome, len(assignments))
	var wg sync.WaitGroup
	for _, assignment := range assignments {
		wg.Add(1)
		go func(as Assignment) {
			defer wg.Done()
			results <- a.deliverOne(ctx, req, snap, as)
		}(assignment)
	}
	wg.Wait()
	close(results)

	for o := range results {
		outcomes = append(outcomes, a.record(req, o))
	}

	return outcomes, nil
}

// deliverOne runs the presence check, text pipeline, and delivery
// sequence for a single assignment.
func (a *Announcer) deliverOne(ctx context.Context, req Request, snap settings.Snapshot, as Assignment) Outcome {
	out := Outcome{
		Room:    as.Room.AreaID,
		Mode:    as.Mode,
		Profile: as.Profile.Name,
	}
	if as.Target != nil {
		out.Person = as.Target.Name
	}

	verify := override(req.PresenceVerification, snap.Globals.PresenceVerification)
	if verify && len(as.Room.PresenceSensors) > 0 {
		// An empty sensor set trusts tracking; otherwise any active
		// sensor confirms the room.
		if !a.presence.AnySensorActive(ctx, as.Room.PresenceSensors) {
			a.logger.Info("presence not confirmed, skipping room",
				"request_id", req.ID, "room", as.Room.AreaID)
			out.Status = StatusSkipped
			out.Reason = ReasonPresenceNotConfirmed
			return out
		}
	}

	enhance := override(req.EnhanceWithAI, as.Profile.EnhanceWithAI)
	translate := override(req.Translate, as.Profile.Translate)
	message, warning := a.pipeline.Transform(ctx, as.Message, as.Profile, enhance, translate)
	out.Warning = warning

	opts := DeliveryOptions{
		PreAnnounce: override(req.PreAnnounce, snap.Globals.PreAnnounceEnabled),
		ChimeURL:    snap.Globals.PreAnnounceURL,
		ChimeDelay:  snap.Globals.PreAnnounceDelay,
	}

	status, reason := a.orchestrator.Deliver(ctx, as.Room, as.Profile, message, opts)
	out.Status = status
	out.Reason = reason
	if status == StatusDelivered {
		out.Message = message
	}
	return out
}

// record stamps the request ID on an outcome, logs it, and fans it out
// to the registered sinks.
func (a *Announcer) record(req Request, o Outcome) Outcome {
	o.RequestID = req.ID

	switch o.Status {
	case StatusDelivered:
		a.logger.Info("announcement delivered",
			"request_id", req.ID, "room", o.Room, "mode", o.Mode,
			"profile", o.Profile, "message", o.Message)
	default:
		a.logger.Info("announcement not delivered",
			"request_id", req.ID, "room", o.Room, "status", o.Status,
			"reason", o.Reason, "person", o.Person)
	}

	a.sinksMu.RLock()
	sinks := a.sinks
	a.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Record(req.ID, o)
	}

	return o
}
