package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a broadcast event variant.
type EventType string

const (
	EventStarted             EventType = "started"
	EventProgressUpdated     EventType = "progress_updated"
	EventStateChanged        EventType = "state_changed"
	EventErrorOccurred       EventType = "error_occurred"
	EventProcessingCompleted EventType = "processing_completed"
)

// EventData is the closed set of event payloads. Only types in this package implement it.
type EventData interface {
	EventType() EventType
	sealed()
}

// StartedData is sent when extraction begins.
type StartedData struct {
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressData is sent on a progress tick within one status.
type ProgressData struct {
	Status    Status    `json:"status"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// StateChangedData is sent when the status changes.
type StateChangedData struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is sent when a document fails.
type ErrorData struct {
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Error     ErrorInfo `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletedData is sent when a document completes.
type CompletedData struct {
	Stage        string    `json:"stage"`
	Progress     int       `json:"progress"`
	DocumentType string    `json:"documentType,omitempty"`
	PageCount    int       `json:"pageCount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (StartedData) EventType() EventType      { return EventStarted }
func (ProgressData) EventType() EventType     { return EventProgressUpdated }
func (StateChangedData) EventType() EventType { return EventStateChanged }
func (ErrorData) EventType() EventType        { return EventErrorOccurred }
func (CompletedData) EventType() EventType    { return EventProcessingCompleted }

func (StartedData) sealed()      {}
func (ProgressData) sealed()     {}
func (StateChangedData) sealed() {}
func (ErrorData) sealed()        {}
func (CompletedData) sealed()    {}

// Event is one published state or progress update.
type Event struct {
	DocumentID string
	UserID     string
	Data       EventData
}

// NewEvent builds an Event for documentID.
func NewEvent(documentID, userID string, data EventData) Event {
	return Event{DocumentID: documentID, UserID: userID, Data: data}
}

// Type returns the variant tag of e.
func (e Event) Type() EventType {
	if e.Data == nil {
		return ""
	}
	return e.Data.EventType()
}

type eventWire struct {
	Type       EventType       `json:"type"`
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data"`
	UserID     string          `json:"userId,omitempty"`
}

// MarshalJSON encodes e as {type, documentId, data, userId?}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("event for document %q has no data", e.DocumentID)
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventWire{
		Type:       e.Data.EventType(),
		DocumentID: e.DocumentID,
		Data:       data,
		UserID:     e.UserID,
	})
}

// UnmarshalJSON decodes the wire shape, choosing the payload type from the tag.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var data EventData
	var err error
	switch w.Type {
	case EventStarted:
		data, err = decodeData[StartedData](w.Data)
	case EventProgressUpdated:
		data, err = decodeData[ProgressData](w.Data)
	case EventStateChanged:
		data, err = decodeData[StateChangedData](w.Data)
	case EventErrorOccurred:
		data, err = decodeData[ErrorData](w.Data)
	case EventProcessingCompleted:
		data, err = decodeData[CompletedData](w.Data)
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s data: %w", w.Type, err)
	}
	*e = Event{DocumentID: w.DocumentID, UserID: w.UserID, Data: data}
	return nil
}

func decodeData[T EventData](raw json.RawMessage) (EventData, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
