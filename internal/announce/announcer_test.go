package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/herald-home/herald/internal/prompts"
	"github.com/herald-home/herald/internal/settings"
)

type fakeStore struct {
	mu   sync.Mutex
	snap settings.Snapshot
}

func (s *fakeStore) Snapshot() settings.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeStore) set(snap settings.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// fakePresence maps sensor entity ID to active state.
type fakePresence struct {
	active map[string]bool
}

func (p *fakePresence) AnySensorActive(_ context.Context, sensors []string) bool {
	for _, s := range sensors {
		if p.active[s] {
			return true
		}
	}
	return false
}

// memSink collects outcomes for assertions.
type memSink struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *memSink) Record(_ string, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func newTestAnnouncer(snap settings.Snapshot, loc Locator, presence PresenceReader, agent *fakeAgent, media *fakeMedia) (*Announcer, *memSink) {
	if presence == nil {
		presence = &fakePresence{}
	}
	pipeline := NewPipeline(agentOrNil(agent), prompts.NewTemplates("", "", ""), discardLogger())
	orchestrator := NewOrchestrator(media, snap.Globals.DuckVolume, snap.Globals.DeliveryTimeout, discardLogger())

	a := New(&fakeStore{snap: snap}, loc, presence, pipeline, orchestrator, discardLogger())
	sink := &memSink{}
	a.AddSink(sink)
	return a, sink
}

func agentOrNil(a *fakeAgent) *fakeAgent {
	if a == nil {
		return &fakeAgent{reply: "unused"}
	}
	return a
}

func outcomeFor(outcomes []Outcome, room string) (Outcome, bool) {
	for _, o := range outcomes {
		if o.Room == room {
			return o, true
		}
	}
	return Outcome{}, false
}

func TestAnnounceGroupInSharedRoom(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "living_room", "Alice": "living_room"}}
	media := &fakeMedia{state: playingState(0.8)}
	a, sink := newTestAnnouncer(snap, loc, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "Dinner is ready"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %v", outcomes)
	}
	o := outcomes[0]
	if o.Status != StatusDelivered || o.Mode != ModeGroup || o.Room != "living_room" {
		t.Errorf("unexpected outcome %+v", o)
	}
	if o.Profile != "Everyone" {
		t.Errorf("expected group profile, got %q", o.Profile)
	}
	if o.Message != "Everyone, Dinner is ready" {
		t.Errorf("unexpected message %q", o.Message)
	}
	if o.RequestID == "" {
		t.Error("expected generated request ID")
	}
	if len(sink.outcomes) != 1 {
		t.Errorf("sink saw %d outcomes, want 1", len(sink.outcomes))
	}
}

func TestAnnounceTargetedIndividualIgnoresOtherOccupants(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "living_room", "Alice": "living_room"}}
	media := &fakeMedia{state: playingState(0.8)}
	a, _ := newTestAnnouncer(snap, loc, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "Phone call", TargetPerson: "John"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %v", outcomes)
	}
	o := outcomes[0]
	if o.Mode != ModeIndividual || o.Person != "John" || o.Profile != "John" {
		t.Errorf("unexpected outcome %+v", o)
	}
	if o.Message != "John, Phone call" {
		t.Errorf("unexpected message %q", o.Message)
	}
}

func TestAnnounceTwoRoomsTwoIndividuals(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "living_room", "Alice": "kitchen"}}
	media := &fakeMedia{state: playingState(0.8)}
	a, _ := newTestAnnouncer(snap, loc, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "Dinner is ready"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %v", outcomes)
	}
	lr, ok := outcomeFor(outcomes, "living_room")
	if !ok || lr.Mode != ModeIndividual || lr.Message != "John, Dinner is ready" {
		t.Errorf("living_room outcome %+v", lr)
	}
	kt, ok := outcomeFor(outcomes, "kitchen")
	if !ok || kt.Mode != ModeIndividual || kt.Message != "Alice, Dinner is ready" {
		t.Errorf("kitchen outcome %+v", kt)
	}
}

func TestAnnouncePresenceNotConfirmed(t *testing.T) {
	snap := testSnapshot()
	snap.Rooms[0].PresenceSensors = []string{"binary_sensor.living_room_motion"}
	loc := &fakeLocator{where: map[string]string{"John": "living_room"}}
	media := &fakeMedia{state: playingState(0.8)}
	presence := &fakePresence{active: map[string]bool{}}
	a, _ := newTestAnnouncer(snap, loc, presence, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %v", outcomes)
	}
	o := outcomes[0]
	if o.Status != StatusSkipped || o.Reason != ReasonPresenceNotConfirmed {
		t.Errorf("unexpected outcome %+v", o)
	}
	if countCalls(media, "speak") != 0 {
		t.Error("unverified room must not receive TTS")
	}
}

func TestAnnounceNoSensorsMeansVerified(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "living_room"}}
	media := &fakeMedia{state: playingState(0.8)}
	presence := &fakePresence{active: map[string]bool{}}
	a, _ := newTestAnnouncer(snap, loc, presence, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != StatusDelivered {
		t.Errorf("room without sensors must be trusted, got %+v", outcomes[0])
	}
}

func TestAnnouncePresenceOverridePerRequest(t *testing.T) {
	snap := testSnapshot()
	snap.Rooms[0].PresenceSensors = []string{"binary_sensor.living_room_motion"}
	loc := &fakeLocator{where: map[string]string{"John": "living_room"}}
	media := &fakeMedia{state: playingState(0.8)}
	presence := &fakePresence{active: map[string]bool{}}
	a, _ := newTestAnnouncer(snap, loc, presence, nil, media)

	off := false
	outcomes, err := a.Announce(context.Background(), Request{Message: "hi", PresenceVerification: &off})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != StatusDelivered {
		t.Errorf("override off should skip verification, got %+v", outcomes[0])
	}
}

func TestAnnounceRoomFailureIsolated(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "living_room", "Alice": "kitchen"}}
	media := &fakeMedia{state: playingState(0.8), speakErrFor: "media_player.kitchen"}
	a, _ := newTestAnnouncer(snap, loc, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	lr, _ := outcomeFor(outcomes, "living_room")
	kt, _ := outcomeFor(outcomes, "kitchen")
	if lr.Status != StatusDelivered {
		t.Errorf("living_room should deliver despite kitchen failure, got %+v", lr)
	}
	if kt.Status != StatusFailed || kt.Reason != ReasonTTSError {
		t.Errorf("kitchen outcome %+v", kt)
	}
}

func TestAnnouncePipelineFailureStillDelivers(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"Alice": "kitchen"}}
	media := &fakeMedia{state: playingState(0.8)}
	agent := &fakeAgent{err: errors.New("model offline")}
	a, _ := newTestAnnouncer(snap, loc, nil, agent, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "Dinner is ready"})
	if err != nil {
		t.Fatal(err)
	}
	o := outcomes[0]
	// Alice's profile has translate enabled; the failed translation
	// falls back to the addressed original and flags a warning.
	if o.Status != StatusDelivered {
		t.Fatalf("expected delivery, got %+v", o)
	}
	if o.Warning != ReasonTranslationError {
		t.Errorf("expected translation warning, got %q", o.Warning)
	}
	if o.Message != "Alice, Dinner is ready" {
		t.Errorf("expected original addressed message, got %q", o.Message)
	}
}

func TestAnnounceInvalidRequest(t *testing.T) {
	snap := testSnapshot()
	a, sink := newTestAnnouncer(snap, &fakeLocator{}, nil, nil, &fakeMedia{})

	_, err := a.Announce(context.Background(), Request{Message: "   "})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(sink.outcomes) != 0 {
		t.Errorf("invalid request must not reach sinks, got %v", sink.outcomes)
	}
}

func TestAnnounceBroadcast(t *testing.T) {
	snap := testSnapshot()
	snap.Globals.RoomTracking = false
	media := &fakeMedia{state: playingState(0.8)}
	a, _ := newTestAnnouncer(snap, &fakeLocator{}, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{Message: "Leaving in five minutes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected all 3 rooms, got %v", outcomes)
	}
	for _, o := range outcomes {
		if o.Status != StatusDelivered || o.Mode != ModeGroup {
			t.Errorf("broadcast outcome %+v", o)
		}
		if o.Message != "Everyone, Leaving in five minutes" {
			t.Errorf("unexpected message %q", o.Message)
		}
	}
}

func TestAnnounceRequestIDPreserved(t *testing.T) {
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "office"}}
	media := &fakeMedia{state: playingState(0.8)}
	a, _ := newTestAnnouncer(snap, loc, nil, nil, media)

	outcomes, err := a.Announce(context.Background(), Request{ID: "req-42", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].RequestID != "req-42" {
		t.Errorf("request ID not preserved: %+v", outcomes[0])
	}
}

func TestAnnounceSnapshotFrozenMidRequest(t *testing.T) {
	// A slow delivery must not observe switch flips that happen after
	// the request started.
	snap := testSnapshot()
	loc := &fakeLocator{where: map[string]string{"John": "office"}}
	media := &fakeMedia{state: playingState(0.8)}
	store := &fakeStore{snap: snap}

	pipeline := NewPipeline(&fakeAgent{}, prompts.NewTemplates("", "", ""), discardLogger())
	orchestrator := NewOrchestrator(media, 0.3, time.Second, discardLogger())
	a := New(store, loc, &fakePresence{}, pipeline, orchestrator, discardLogger())

	done := make(chan []Outcome, 1)
	go func() {
		outcomes, _ := a.Announce(context.Background(), Request{Message: "hi"})
		done <- outcomes
	}()

	// Flip the store's room off while the request may be in flight. The
	// snapshot the request took is unaffected either way; this test
	// pins that no later re-read happens.
	flipped := testSnapshot()
	flipped.Rooms[2].Enabled = false
	store.set(flipped)

	outcomes := <-done
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %v", outcomes)
	}
}
