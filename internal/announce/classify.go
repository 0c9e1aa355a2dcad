package announce

import (
	"strings"

	"github.com/herald-home/herald/internal/settings"
)

// Profile is the settings bundle bound to an assignment: either a
// person's profile or the group profile, flattened so that delivery
// and the text pipeline never look back at the settings store.
type Profile struct {
	Name          string // person name or group addressee
	Language      string
	TTSPlatform   string
	TTSVoice      string
	EnhanceWithAI bool
	Translate     bool
	Agent         string
}

func personProfile(p settings.Person) Profile {
	return Profile{
		Name:          p.Name,
		Language:      p.Language,
		TTSPlatform:   p.TTSPlatform,
		TTSVoice:      p.TTSVoice,
		EnhanceWithAI: p.EnhanceWithAI,
		Translate:     p.Translate,
		Agent:         p.Agent,
	}
}

func groupProfile(g settings.GroupProfile) Profile {
	return Profile{
		Name:          g.Addressee,
		Language:      g.Language,
		TTSPlatform:   g.TTSPlatform,
		TTSVoice:      g.TTSVoice,
		EnhanceWithAI: g.EnhanceWithAI,
		Translate:     g.Translate,
		Agent:         g.Agent,
	}
}

// Assignment is one room's delivery plan: transient, derived fresh per
// request, never persisted.
type Assignment struct {
	Room      settings.Room
	Occupants []settings.Person
	Mode      Mode
	Profile   Profile

	// Target is set when the request explicitly named exactly the
	// person this assignment addresses. Targeting overrides
	// occupancy-based classification.
	Target *settings.Person

	// Message is the addressed (prefixed) message before any text
	// transformation.
	Message string
}

// classify binds each surviving pair to a mode and profile.
//
// A pair with exactly one occupant is individual with that person's
// profile. Two or more occupants is group with the group profile. In
// person-targeted requests the occupant set contains only the named
// people, so a single named target stays individual no matter who else
// is physically present, and multiple named targets resolved to the
// same room collapse into one group assignment. Zero occupants only
// occurs on the broadcast and area paths, where occupancy is unknown:
// group mode with the configured addressee.
func classify(pairs []pair, personTargeted bool, snap settings.Snapshot, message string) []Assignment {
	assignments := make([]Assignment, 0, len(pairs))

	for _, pr := range pairs {
		a := Assignment{
			Room:      pr.room,
			Occupants: pr.occupants,
		}

		if len(pr.occupants) == 1 {
			p := pr.occupants[0]
			a.Mode = ModeIndividual
			a.Profile = personProfile(p)
			if personTargeted {
				a.Target = &p
			}
			a.Message = addressMessage(message, p.Name)
		} else {
			a.Mode = ModeGroup
			a.Profile = groupProfile(snap.Group)
			a.Message = addressMessage(message, snap.Group.Addressee)
		}

		assignments = append(assignments, a)
	}

	return assignments
}

// addressMessage prepends the addressee to the message. Messages that
// carry a {{ name }} placeholder get substitution instead of a prefix.
func addressMessage(message, addressee string) string {
	if strings.Contains(message, "{{ name }}") || strings.Contains(message, "{{name}}") {
		message = strings.ReplaceAll(message, "{{ name }}", addressee)
		return strings.ReplaceAll(message, "{{name}}", addressee)
	}
	return addressee + ", " + message
}
