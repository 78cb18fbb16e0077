package eventcenter

import (
	"encoding/json"

	"argela.com/bpsim/datamodel"
)

// Kind of the event. It is used as the SSE event name.
type EventType string

const (
	EventTypeSession        EventType = "session"
	EventTypeSessionRemoved EventType = "session_removed"
	EventTypeStormStatus    EventType = "storm_status"
	EventTypeCleared        EventType = "cleared"
)

// Returns all event types.
func EventTypes() []EventType {
	return []EventType{EventTypeSession, EventTypeSessionRemoved, EventTypeStormStatus, EventTypeCleared}
}

// Event dispatched to the SSE subscribers and the sinks. Exactly one of
// the session and the storm status is set, except for the cleared event
// which carries neither.
type Event struct {
	Type    EventType
	Session *datamodel.Session
	Storm   *datamodel.StormStatus
}

// Creates the session event.
func NewSessionEvent(session *datamodel.Session, removed bool) *Event {
	event := &Event{Type: EventTypeSession, Session: session}
	if removed {
		event.Type = EventTypeSessionRemoved
	}
	return event
}

// Creates the storm status event.
func NewStormEvent(status *datamodel.StormStatus) *Event {
	return &Event{Type: EventTypeStormStatus, Storm: status}
}

// Returns the key identifying the object the event relates to: the
// client MAC of the session or the storm run id.
func (e *Event) Key() string {
	switch {
	case e.Session != nil:
		return e.Session.ClientMAC
	case e.Storm != nil:
		return e.Storm.RunID
	default:
		return string(e.Type)
	}
}

// Serializes the event payload.
func (e *Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.Session != nil:
		return json.Marshal(e.Session)
	case e.Storm != nil:
		return json.Marshal(e.Storm)
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
