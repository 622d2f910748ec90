// Package observation defines Observation, the single tagged-event type
// that flows between every component of the dispatch core: the input
// bus, the session router, the gate pipeline, the reflex controller, and
// the egress hub.
package observation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the shape of an Observation's payload.
type Type string

// The complete set of observation types.
const (
	TypeMessage   Type = "MESSAGE"
	TypeAlert     Type = "ALERT"
	TypeControl   Type = "CONTROL"
	TypeSchedule  Type = "SCHEDULE"
	TypeWorldData Type = "WORLD_DATA"
	TypeSystem    Type = "SYSTEM"
)

// ActorType classifies who or what originated an Observation.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorAgent   ActorType = "agent"
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
	ActorUnknown ActorType = "unknown"
)

// SourceKind labels the provenance of an Observation.
type SourceKind string

const (
	SourceExternal SourceKind = "external"
	SourceInternal SourceKind = "internal"
	SourceSystem   SourceKind = "system"
)

// AgentSourcePrefix marks a source_name as handler-emitted. This is the
// canonical self-loop-prevention signal: anything published with this
// prefix (or with actor_id "agent") must never be handed back to the
// handler as a consequence of its own output.
const AgentSourcePrefix = "agent:"

// AgentActorID is the reserved actor_id used by handler-emitted
// Observations, checked alongside AgentSourcePrefix for self-loop
// prevention.
const AgentActorID = "agent"

// SystemSessionKey is the reserved session_key identifying the system
// session, used for ALERT, SCHEDULE, SYSTEM and system-directed CONTROL
// traffic.
const SystemSessionKey = "system"

// Severity grades an ALERT's urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Quality flags mark anomalies detected during normalization.
const (
	QualityEmptyContent = "EMPTY_CONTENT"
)

// Actor identifies who or what produced an Observation.
type Actor struct {
	ActorID     string    `json:"actor_id"`
	ActorType   ActorType `json:"actor_type"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Evidence links an Observation back to the raw event it was derived
// from, for traceability into adapter-specific logs.
type Evidence struct {
	RawEventID  string `json:"raw_event_id"`
	RawEventURI string `json:"raw_event_uri,omitempty"`
}

// Attachment describes a single file or media reference carried by a
// MESSAGE payload.
type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	URI         string `json:"uri,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// MessagePayload is the payload variant for TypeMessage.
type MessagePayload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
}

// AlertPayload is the payload variant for TypeAlert.
type AlertPayload struct {
	Severity      Severity       `json:"severity"`
	SourceKind    string         `json:"source_kind"`
	SourceID      string         `json:"source_id"`
	ExceptionType string         `json:"exception_type,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Well-known CONTROL kinds.
const (
	ControlTuningSuggestion = "tuning_suggestion"
	ControlTuningApplied    = "tuning_applied"
	ControlSystemModeChange = "system_mode_changed"
	ControlTuningReverted   = "tuning_reverted"
)

// ControlPayload is the payload variant for TypeControl.
type ControlPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// OpaquePayload carries unstructured fields for SCHEDULE, WORLD_DATA and
// SYSTEM observations, whose shape is adapter-defined and opaque to the
// core.
type OpaquePayload struct {
	Fields map[string]any `json:"fields,omitempty"`
}

// Payload is the tagged-union payload carried by an Observation. Exactly
// one of the typed fields is populated, selected by the owning
// Observation's Type. Using discrete fields (rather than a single `any`)
// keeps the common-case access (Observation.Payload.Message.Text) type
// safe; Opaque remains a map only where the spec itself leaves the shape
// adapter-defined.
type Payload struct {
	Message  *MessagePayload `json:"message,omitempty"`
	Alert    *AlertPayload   `json:"alert,omitempty"`
	Control  *ControlPayload `json:"control,omitempty"`
	Schedule *OpaquePayload  `json:"schedule,omitempty"`
	World    *OpaquePayload  `json:"world_data,omitempty"`
	System   *OpaquePayload  `json:"system,omitempty"`
}

// Observation is the universal event carried through the dispatch core.
type Observation struct {
	ObsID     string    `json:"obs_id"`
	ObsType   Type      `json:"obs_type"`
	Session   string    `json:"session_key"`
	Actor     Actor     `json:"actor"`
	Source    string    `json:"source_name"`
	SourceKnd SourceKind `json:"source_kind"`

	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	Payload Payload `json:"payload"`

	Evidence Evidence `json:"evidence"`

	// Metadata is mutated in-flight by pipeline stages and the
	// orchestrator (e.g. writing back a memory event id). Callers must
	// treat a nil map as "no metadata yet" and lazily create it via
	// SetMetadata rather than writing to the map directly, since
	// Observation values are frequently passed by value across stage
	// boundaries before metadata exists.
	Metadata map[string]string `json:"metadata,omitempty"`

	QualityFlags []string `json:"quality_flags,omitempty"`
}

// New creates an Observation with a freshly generated obs_id and
// received_at stamped to now. Timestamp defaults to the same instant
// unless overridden by the caller after construction.
func New(obsType Type, sessionKey string, actor Actor, sourceName string, sourceKind SourceKind, payload Payload) Observation {
	now := time.Now()
	return Observation{
		ObsID:      uuid.NewString(),
		ObsType:    obsType,
		Session:    sessionKey,
		Actor:      actor,
		Source:     sourceName,
		SourceKnd:  sourceKind,
		Timestamp:  now,
		ReceivedAt: now,
		Payload:    payload,
		Evidence:   Evidence{RawEventID: uuid.NewString()},
	}
}

// SetMetadata writes a key into the Observation's metadata map,
// allocating it on first use.
func (o *Observation) SetMetadata(key, value string) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string, 1)
	}
	o.Metadata[key] = value
}

// HasQualityFlag reports whether the given flag is present.
func (o *Observation) HasQualityFlag(flag string) bool {
	for _, f := range o.QualityFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsAgentSourced reports whether this Observation was emitted by the
// intelligent handler, per the source_name/actor_id self-loop-prevention
// convention (spec section 4.7, 4.8, 9).
func (o *Observation) IsAgentSourced() bool {
	if strings.HasPrefix(o.Source, AgentSourcePrefix) {
		return true
	}
	return o.Actor.ActorID == AgentActorID
}

// Validate checks an Observation before it may be published to the bus:
// a non-empty source_name and obs_id, non-zero timestamp and
// received_at, and a known obs_type. It does not check that an empty
// MESSAGE carries QualityEmptyContent; NormalizeMessage sets that flag,
// and Validate accepts a MESSAGE with or without it.
func (o *Observation) Validate() error {
	if o.Source == "" {
		return fmt.Errorf("observation %s: source_name must not be empty", o.ObsID)
	}
	if o.ObsID == "" {
		return fmt.Errorf("observation: obs_id must not be empty")
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("observation %s: timestamp must not be zero", o.ObsID)
	}
	if o.ReceivedAt.IsZero() {
		return fmt.Errorf("observation %s: received_at must not be zero", o.ObsID)
	}
	switch o.ObsType {
	case TypeMessage, TypeAlert, TypeControl, TypeSchedule, TypeWorldData, TypeSystem:
	default:
		return fmt.Errorf("observation %s: unknown obs_type %q", o.ObsID, o.ObsType)
	}
	return nil
}

// NormalizeMessage trims the message text and, if the result is empty
// and there are no attachments, tags the Observation with
// QualityEmptyContent. Adapters should call this before publishing a
// MESSAGE observation; the gate's hard-bypass stage relies on the flag
// rather than re-deriving emptiness itself.
func (o *Observation) NormalizeMessage() {
	if o.ObsType != TypeMessage || o.Payload.Message == nil {
		return
	}
	m := o.Payload.Message
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" && len(m.Attachments) == 0 {
		if !o.HasQualityFlag(QualityEmptyContent) {
			o.QualityFlags = append(o.QualityFlags, QualityEmptyContent)
		}
	}
}
