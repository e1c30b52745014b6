package model

import (
	"encoding/json"
	"time"
)

// FlowEventTimes records when each stage of a hop happened. Nil means the
// stage has not happened (or did not apply).
type FlowEventTimes struct {
	EventStart      *time.Time `json:"event_start,omitempty"`
	PollStarted     *time.Time `json:"poll_started,omitempty"`
	PayloadSent     *time.Time `json:"payload_sent,omitempty"`
	TargetResponse  *time.Time `json:"target_response,omitempty"`
	SentToOutbox    *time.Time `json:"sent_to_outbox,omitempty"`
	PayloadEgressed *time.Time `json:"payload_egressed,omitempty"`
	EventComplete   *time.Time `json:"event_complete,omitempty"`
}

// Stamp is a value extracted from a payload by keychain.
type Stamp struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FlowEvent is the persisted record of one hop of one payload through one
// adapter.
type FlowEvent struct {
	ID               string          `json:"id"`
	BatchID          string          `json:"batch_id"`
	GraphName        string          `json:"graph_name"`
	AdapterID        string          `json:"adapter_id"`
	AdapterName      string          `json:"adapter_name"`
	InputPayload     json.RawMessage `json:"input_payload,omitempty"`
	OutputPayload    json.RawMessage `json:"output_payload,omitempty"`
	HTTPResponseCode int             `json:"http_response_code,omitempty"`
	Times            FlowEventTimes  `json:"times"`
	InputStamps      []Stamp         `json:"input_stamps,omitempty"`
	OutputStamps     []Stamp         `json:"output_stamps,omitempty"`
	MessageIDs       []string        `json:"message_ids,omitempty"`
}

// IsComplete reports whether the event has been stamped complete.
func (e *FlowEvent) IsComplete() bool {
	return e.Times.EventComplete != nil
}

// FlowEventFilter narrows a flow event listing. Zero fields are ignored.
type FlowEventFilter struct {
	BatchID   string
	AdapterID string
	GraphName string
	Since     *time.Time
	Limit     int
}

// InboxMessage is a pending unit of work addressed to one adapter.
type InboxMessage struct {
	ID                string          `json:"id"`
	FlowEventID       string          `json:"flow_event_id"`
	BatchID           string          `json:"batch_id"`
	SourceAdapterID   string          `json:"source_adapter_id"`
	SourceAdapterName string          `json:"source_adapter_name"`
	TargetAdapterID   string          `json:"target_adapter_id"`
	Payload           json.RawMessage `json:"payload"`
	Attempts          int             `json:"attempts"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BackPressure is the reading reported on an adapter's back-pressure route.
type BackPressure struct {
	Ingress IngressPressure `json:"ingress"`
	Egress  *EgressPressure `json:"egress,omitempty"`
}

// IngressPressure describes the adapter's inbox.
type IngressPressure struct {
	QueuedRecords      int64 `json:"queued_records"`
	QueueRatePerMinute int64 `json:"queue_rate_per_minute"`
}

// EgressPressure describes in-flight asynchronous dispatches.
type EgressPressure struct {
	CurrentOpenMessages int64 `json:"current_open_messages"`
	MaxOpenMessages     int64 `json:"max_open_messages"`
}

// QueueRead is the response of a queue peek or pop.
type QueueRead struct {
	FlowEvent     *FlowEvent    `json:"flow_event,omitempty"`
	Message       *InboxMessage `json:"message,omitempty"`
	QueuedRecords int64         `json:"queued_records"`
}
