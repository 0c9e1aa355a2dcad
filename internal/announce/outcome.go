package announce

// Status is the terminal state of a room assignment.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Reason is the closed set of skip/failure reasons. Reasons are stable
// strings: they appear in outcome events, the history journal, and
// metrics labels.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInvalidRequest       Reason = "invalid_request"
	ReasonUnknownPerson        Reason = "unknown_person"
	ReasonUnknownArea          Reason = "unknown_area"
	ReasonLocationUnresolved   Reason = "location_unresolved"
	ReasonRoomDisabled         Reason = "room_disabled"
	ReasonPersonDisabled       Reason = "person_disabled"
	ReasonPresenceNotConfirmed Reason = "presence_not_confirmed"
	ReasonTranslationError     Reason = "translation_error"
	ReasonEnhancementError     Reason = "enhancement_error"
	ReasonPipelineError        Reason = "pipeline_error"
	ReasonTTSError             Reason = "tts_error"
	ReasonTimeout              Reason = "timeout"
)

// Mode classifies how an assignment addresses its room.
type Mode string

const (
	ModeIndividual Mode = "individual"
	ModeGroup      Mode = "group"
)

// Outcome is the caller-visible result for one room assignment (or for
// a target that never produced an assignment, such as an unknown
// person name). Outcomes are emitted for logging and observability;
// they are not request state.
type Outcome struct {
	RequestID string `json:"request_id"`
	Room      string `json:"room,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	Profile   string `json:"profile,omitempty"` // person name or group addressee
	Person    string `json:"person,omitempty"`  // targeted person, when applicable
	Status    Status `json:"status"`
	Reason    Reason `json:"reason,omitempty"`

	// Warning carries a recovered text-pipeline failure. The delivery
	// proceeded with the untransformed message.
	Warning Reason `json:"warning,omitempty"`

	// Message is the final spoken text for delivered outcomes.
	Message string `json:"message,omitempty"`
}

// Sink receives every outcome as it is determined. Implementations
// must not block for long; they run on the room task's goroutine.
type Sink interface {
	Record(requestID string, o Outcome)
}
