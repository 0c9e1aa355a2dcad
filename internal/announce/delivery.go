package announce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-home/herald/internal/homeassistant"
	"github.com/herald-home/herald/internal/settings"
)

// restoreTimeout bounds the restore step so a dead media player
// cannot pin a room task forever.
const restoreTimeout = 10 * time.Second

// MediaController is the media-player and TTS surface the orchestrator
// drives. Implemented by homeassistant.Client; faked in tests.
type MediaController interface {
	PlayerState(ctx context.Context, entityID string) (*homeassistant.PlayerState, error)
	SetVolume(ctx context.Context, entityID string, level float64) error
	PlayMedia(ctx context.Context, entityID, mediaURL string, announce bool) error
	Speak(ctx context.Context, engine, mediaPlayer, message, language, voice string) error
}

// DeliveryOptions carry the per-request chime settings.
type DeliveryOptions struct {
	PreAnnounce bool
	ChimeURL    string
	ChimeDelay  time.Duration
}

// Orchestrator executes the per-room delivery sequence: capture state,
// duck, chime, speak, restore. Restore is unconditional once ducking
// happened — the core correctness invariant of this component. Rooms
// are independent failure domains; a media player is exclusively owned
// by the task addressing it, so concurrent announcements to the same
// player serialize.
type Orchestrator struct {
	media      MediaController
	duckVolume float64
	timeout    time.Duration
	players    *playerLocks
	logger     *slog.Logger
}

// NewOrchestrator creates a delivery orchestrator. duckVolume is the
// level players are lowered to before the announcement (0 disables
// ducking); timeout bounds the TTS wait.
func NewOrchestrator(media MediaController, duckVolume float64, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		media:      media,
		duckVolume: duckVolume,
		timeout:    timeout,
		players:    newPlayerLocks(),
		logger:     logger,
	}
}

// Deliver runs the full sequence for one assignment and returns its
// terminal status. It blocks until the sequence completes or the
// bounded waits expire; on cancellation the restore step still runs
// before returning.
func (o *Orchestrator) Deliver(ctx context.Context, room settings.Room, prof Profile, message string, opts DeliveryOptions) (Status, Reason) {
	player := room.MediaPlayer

	unlock := o.players.lock(player)
	defer unlock()

	if prof.TTSPlatform == "" {
		o.logger.Error("no TTS platform bound, cannot deliver",
			"room", room.AreaID, "profile", prof.Name)
		return StatusFailed, ReasonTTSError
	}

	// Step 1: capture current playback state for restore. A failed
	// read means nothing to restore; delivery proceeds without ducking.
	captured, err := o.media.PlayerState(ctx, player)
	if err != nil {
		o.logger.Warn("could not capture player state, skipping duck",
			"player", player, "error", err)
		captured = nil
	}

	// Step 2: duck. The token is released in the deferred restore no
	// matter how the remaining steps end.
	ducked := false
	if captured != nil && captured.HasVolume && o.duckVolume > 0 && captured.VolumeLevel > o.duckVolume {
		if err := o.media.SetVolume(ctx, player, o.duckVolume); err != nil {
			o.logger.Warn("duck failed, continuing at current volume",
				"player", player, "error", err)
		} else {
			ducked = true
			o.logger.Debug("player ducked",
				"player", player, "from", captured.VolumeLevel, "to", o.duckVolume)
		}
	}
	defer func() {
		if !ducked {
			return
		}
		// Restore runs even when the request context is already
		// cancelled; a stuck ducked player is worse than a late restore.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if err := o.media.SetVolume(rctx, player, captured.VolumeLevel); err != nil {
			o.logger.Error("volume restore failed",
				"player", player, "volume", captured.VolumeLevel, "error", err)
		} else {
			o.logger.Debug("player restored", "player", player, "volume", captured.VolumeLevel)
		}
	}()

	// Step 3: pre-announce chime.
	if opts.PreAnnounce && opts.ChimeURL != "" {
		if err := o.media.PlayMedia(ctx, player, opts.ChimeURL, true); err != nil {
			o.logger.Warn("pre-announce chime failed",
				"player", player, "url", opts.ChimeURL, "error", err)
		} else if opts.ChimeDelay > 0 {
			timer := time.NewTimer(opts.ChimeDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return StatusFailed, ReasonTimeout
			case <-timer.C:
			}
		}
	}

	// Step 4: speak, bounded by the delivery timeout.
	ttsCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err = o.media.Speak(ttsCtx, prof.TTSPlatform, player, message, settings.LanguageCode(prof.Language), prof.TTSVoice)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ttsCtx.Err() != nil {
			o.logger.Error("TTS timed out", "room", room.AreaID, "player", player)
			return StatusFailed, ReasonTimeout
		}
		o.logger.Error("TTS failed", "room", room.AreaID, "player", player, "error", err)
		return StatusFailed, ReasonTTSError
	}

	return StatusDelivered, ReasonNone
}

// playerLocks serializes delivery per media player so a second
// announcement cannot interleave its duck/restore with one in flight.
type playerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for a player, creating it on first use, and
// returns the unlock function.
func (l *playerLocks) lock(player string) func() {
	l.mu.Lock()
	m, ok := l.locks[player]
	if !ok {
		m = &sync.Mutex{}
		l.locks[player] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
