package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/herald-home/herald/internal/announce"
	"github.com/herald-home/herald/internal/history"
	"github.com/herald-home/herald/internal/homeassistant"
	"github.com/herald-home/herald/internal/prompts"
	"github.com/herald-home/herald/internal/settings"
)

type stubStore struct{ snap settings.Snapshot }

func (s *stubStore) Snapshot() settings.Snapshot { return s.snap }

type stubLocator struct{ area string }

func (l *stubLocator) RoomFor(context.Context, settings.Person, []settings.Room, bool) (string, bool) {
	return l.area, l.area != ""
}

type stubPresence struct{}

func (stubPresence) AnySensorActive(context.Context, []string) bool { return false }

type stubAgent struct{}

func (stubAgent) Generate(_ context.Context, _, _ string) (string, error) { return "", nil }

type stubMedia struct{}

func (stubMedia) PlayerState(context.Context, string) (*homeassistant.PlayerState, error) {
	return &homeassistant.PlayerState{State: "idle"}, nil
}
func (stubMedia) SetVolume(context.Context, string, float64) error        { return nil }
func (stubMedia) PlayMedia(context.Context, string, string, bool) error   { return nil }
func (stubMedia) Speak(context.Context, string, string, string, string, string) error {
	return nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	snap := settings.Snapshot{
		Persons: []settings.Person{{Name: "John", TTSPlatform: "tts.piper", Enabled: true}},
		Rooms:   []settings.Room{{Name: "Office", AreaID: "office", MediaPlayer: "media_player.office", Enabled: true}},
		Group:   settings.GroupProfile{Addressee: "Everyone", TTSPlatform: "tts.piper"},
		Globals: settings.Globals{RoomTracking: true, DeliveryTimeout: time.Second},
	}

	pipeline := announce.NewPipeline(stubAgent{}, prompts.NewTemplates("", "", ""), logger)
	orchestrator := announce.NewOrchestrator(stubMedia{}, 0, time.Second, logger)
	announcer := announce.New(&stubStore{snap: snap}, &stubLocator{area: "office"}, stubPresence{}, pipeline, orchestrator, logger)

	journal, err := history.Open(filepath.Join(t.TempDir(), "api_test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { journal.Close() })
	announcer.AddSink(journal)

	return NewServer("127.0.0.1", 0, announcer, journal, logger)
}

func TestHandleAnnounceWait(t *testing.T) {
	s := testServer(t)

	body := strings.NewReader(`{"message": "Dinner is ready"}`)
	r := httptest.NewRequest("POST", "/api/announce?wait=true", body)
	w := httptest.NewRecorder()
	s.handleAnnounce(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		RequestID string             `json:"request_id"`
		Outcomes  []announce.Outcome `json:"outcomes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID == "" {
		t.Error("expected a request ID")
	}
	if len(resp.Outcomes) != 1 || resp.Outcomes[0].Status != announce.StatusDelivered {
		t.Errorf("outcomes = %v", resp.Outcomes)
	}
}

func TestHandleAnnounceAsyncAccepted(t *testing.T) {
	s := testServer(t)

	body := strings.NewReader(`{"id": "req-7", "message": "hi"}`)
	r := httptest.NewRequest("POST", "/api/announce", body)
	w := httptest.NewRecorder()
	s.handleAnnounce(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["request_id"] != "req-7" || resp["status"] != "accepted" {
		t.Errorf("response = %v", resp)
	}
}

func TestHandleAnnounceInvalid(t *testing.T) {
	s := testServer(t)

	for _, body := range []string{`{"message": "  "}`, `not json`} {
		r := httptest.NewRequest("POST", "/api/announce", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.handleAnnounce(w, r)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestHandleAnnouncementsListsJournal(t *testing.T) {
	s := testServer(t)

	r := httptest.NewRequest("POST", "/api/announce?wait=true", strings.NewReader(`{"message": "hi"}`))
	s.handleAnnounce(httptest.NewRecorder(), r)

	w := httptest.NewRecorder()
	s.handleAnnouncements(w, httptest.NewRequest("GET", "/api/announcements", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count         int             `json:"count"`
		Announcements []history.Entry `json:"announcements"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || len(resp.Announcements) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Announcements[0].Outcomes) == 0 {
		t.Error("expected journaled outcomes")
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("status %d body %s", w.Code, w.Body.String())
	}
}

func TestHandleStatusIncludesReporters(t *testing.T) {
	s := testServer(t)
	s.AddStatusReporter(staticReporter{})

	w := httptest.NewRecorder()
	s.handleStatus(w, httptest.NewRequest("GET", "/api/status", nil))

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	section, ok := resp["homeassistant"].(map[string]any)
	if !ok || section["connected"] != true {
		t.Errorf("status = %v", resp)
	}
}

type staticReporter struct{}

func (staticReporter) Name() string            { return "homeassistant" }
func (staticReporter) Status() map[string]any  { return map[string]any{"connected": true} }
