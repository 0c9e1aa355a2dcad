package announce

import (
	"errors"
	"strings"
)

// ErrInvalidRequest is returned when a request fails validation before
// any resolution happens. It is the only error the announce operation
// reports synchronously.
var ErrInvalidRequest = errors.New("invalid request")

// Request is a single announcement invocation. It is immutable for the
// life of the request; per-call overrides are tri-state (nil = use the
// configured default).
type Request struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`

	// TargetPerson is one name or a comma-separated list, matched
	// case-insensitively against configured persons.
	TargetPerson string `json:"target_person,omitempty"`

	// TargetArea names a single room by area ID.
	TargetArea string `json:"target_area,omitempty"`

	EnhanceWithAI        *bool `json:"enhance_with_ai,omitempty"`
	Translate            *bool `json:"translate_announcement,omitempty"`
	PreAnnounce          *bool `json:"pre_announce_sound,omitempty"`
	RoomTracking         *bool `json:"room_tracking,omitempty"`
	PresenceVerification *bool `json:"presence_verification,omitempty"`
}

// Validate checks the request before resolution.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("message must not be empty"))
	}
	return nil
}

// TargetPersons splits the target person list on commas, trims each
// name, and collapses duplicates case-insensitively. Order follows
// first appearance.
func (r Request) TargetPersons() []string {
	if strings.TrimSpace(r.TargetPerson) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, raw := range strings.Split(r.TargetPerson, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, name)
	}
	return names
}

// override resolves a tri-state request flag against its configured default.
func override(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
