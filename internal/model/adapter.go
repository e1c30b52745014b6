package model

import (
	"strings"
	"time"
)

// AdapterType selects which capabilities a runtime adapter is built with.
type AdapterType string

const (
	AdapterPush      AdapterType = "push"
	AdapterPoll      AdapterType = "poll"
	AdapterQueue     AdapterType = "queue"
	AdapterSubscribe AdapterType = "subscribe"
	AdapterMerge     AdapterType = "merge"
	AdapterEgress    AdapterType = "egress"
	AdapterHidden    AdapterType = "hidden"
)

// String returns the string representation of the adapter type.
func (t AdapterType) String() string {
	return string(t)
}

// IsValid checks whether the adapter type is a known value.
func (t AdapterType) IsValid() bool {
	switch t {
	case AdapterPush, AdapterPoll, AdapterQueue, AdapterSubscribe, AdapterMerge, AdapterEgress, AdapterHidden:
		return true
	}
	return false
}

// HasInbox reports whether adapters of this type consume messages from
// upstream. Only these types may appear on the right-hand side of an edge.
func (t AdapterType) HasInbox() bool {
	switch t {
	case AdapterQueue, AdapterMerge, AdapterEgress, AdapterHidden:
		return true
	}
	return false
}

// IsTerminal reports whether adapters of this type are always the last hop.
func (t AdapterType) IsTerminal() bool {
	return t == AdapterQueue || t == AdapterEgress
}

// CallsTarget reports whether adapters of this type dispatch payloads to
// an external component endpoint.
func (t AdapterType) CallsTarget() bool {
	switch t {
	case AdapterPush, AdapterPoll, AdapterSubscribe, AdapterMerge, AdapterEgress, AdapterHidden:
		return true
	}
	return false
}

// EgressType selects how a dispatcher waits for the target component.
type EgressType string

const (
	EgressSync  EgressType = "synchronous"
	EgressAsync EgressType = "asynchronous"
)

// IsValid checks whether the egress type is a known value.
func (t EgressType) IsValid() bool {
	return t == EgressSync || t == EgressAsync
}

// Default settings applied when a declaration leaves a field unset.
const (
	DefaultStimulateFrequency        = 5000
	DefaultInboxPollFrequency        = 1000
	DefaultBackPressurePollFrequency = 5000
	DefaultEgressConcurrency         = 10
	DefaultPollFrequency             = 5000
)

// Settings are the per-adapter behaviour switches. Frequencies are in
// milliseconds.
type Settings struct {
	StimulateInputPayload       bool     `json:"stimulate_input_payload,omitempty"`
	ValidateInputPayload        bool     `json:"validate_input_payload,omitempty"`
	ValidateOutputPayload       bool     `json:"validate_output_payload,omitempty"`
	PersistInputPayload         bool     `json:"persist_input_payload,omitempty"`
	PersistOutputPayload        bool     `json:"persist_output_payload,omitempty"`
	Passthrough                 bool     `json:"passthrough,omitempty"`
	StimulateFrequencyMs        int64    `json:"stimulate_frequency_ms,omitempty"`
	InboxPollFrequencyMs        int64    `json:"inbox_poll_frequency_ms,omitempty"`
	BackPressurePollFrequencyMs int64    `json:"backpressure_poll_frequency_ms,omitempty"`
	InboxPageSize               int      `json:"inbox_page_size,omitempty"`
	PushRateLimit               float64  `json:"push_rate_limit,omitempty"`
	InputStampKeychains         []string `json:"input_stamp_keychains,omitempty"`
	OutputStampKeychains        []string `json:"output_stamp_keychains,omitempty"`
}

// WithDefaults returns a copy of s with zero frequencies replaced by defaults.
func (s Settings) WithDefaults() Settings {
	if s.StimulateFrequencyMs <= 0 {
		s.StimulateFrequencyMs = DefaultStimulateFrequency
	}
	if s.InboxPollFrequencyMs <= 0 {
		s.InboxPollFrequencyMs = DefaultInboxPollFrequency
	}
	if s.BackPressurePollFrequencyMs <= 0 {
		s.BackPressurePollFrequencyMs = DefaultBackPressurePollFrequency
	}
	return s
}

func (s Settings) StimulateFrequency() time.Duration {
	return time.Duration(s.StimulateFrequencyMs) * time.Millisecond
}

func (s Settings) InboxPollFrequency() time.Duration {
	return time.Duration(s.InboxPollFrequencyMs) * time.Millisecond
}

func (s Settings) BackPressurePollFrequency() time.Duration {
	return time.Duration(s.BackPressurePollFrequencyMs) * time.Millisecond
}

// EgressSettings configure the dispatch leg of an adapter.
type EgressSettings struct {
	Type        EgressType `json:"type,omitempty"`
	Method      string     `json:"method,omitempty"`
	Concurrency int        `json:"concurrency,omitempty"`
}

// WithDefaults returns a copy with the method upper-cased and unset fields
// defaulted to synchronous POST.
func (e EgressSettings) WithDefaults() EgressSettings {
	if e.Type == "" {
		e.Type = EgressSync
	}
	e.Method = strings.ToUpper(e.Method)
	if e.Method == "" {
		e.Method = "POST"
	}
	if e.Concurrency <= 0 {
		e.Concurrency = DefaultEgressConcurrency
	}
	return e
}

// PollSettings configure the external endpoint a poll adapter reads from.
type PollSettings struct {
	Endpoint    string `json:"endpoint"`
	FrequencyMs int64  `json:"frequency_ms,omitempty"`
}

// Frequency returns the poll period, falling back to the default.
func (p PollSettings) Frequency() time.Duration {
	if p.FrequencyMs <= 0 {
		return DefaultPollFrequency * time.Millisecond
	}
	return time.Duration(p.FrequencyMs) * time.Millisecond
}

// BrokerSettings name the broker topic a subscribe adapter listens on.
type BrokerSettings struct {
	Topic string `json:"topic"`
}

// AdapterDecl is one node of a graph as registered by the user. ID,
// Upstream and Downstream are filled in at registration by Link.
type AdapterDecl struct {
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name"`
	Type            AdapterType     `json:"type"`
	Endpoint        string          `json:"endpoint,omitempty"`
	Settings        Settings        `json:"settings"`
	Egress          EgressSettings  `json:"egress"`
	Poll            *PollSettings   `json:"poll,omitempty"`
	Broker          *BrokerSettings `json:"broker,omitempty"`
	InputSubSchemas []string        `json:"input_sub_schemas,omitempty"`
	OutputSubSchema string          `json:"output_sub_schema,omitempty"`
	Upstream        []string        `json:"upstream,omitempty"`
	Downstream      []string        `json:"downstream,omitempty"`
}

// SettingsOverride is a partial Settings applied at deploy time. Nil fields
// keep the registered value.
type SettingsOverride struct {
	Endpoint                    *string     `json:"endpoint,omitempty"`
	StimulateInputPayload       *bool       `json:"stimulate_input_payload,omitempty"`
	ValidateInputPayload        *bool       `json:"validate_input_payload,omitempty"`
	ValidateOutputPayload       *bool       `json:"validate_output_payload,omitempty"`
	PersistInputPayload         *bool       `json:"persist_input_payload,omitempty"`
	PersistOutputPayload        *bool       `json:"persist_output_payload,omitempty"`
	Passthrough                 *bool       `json:"passthrough,omitempty"`
	StimulateFrequencyMs        *int64      `json:"stimulate_frequency_ms,omitempty"`
	InboxPollFrequencyMs        *int64      `json:"inbox_poll_frequency_ms,omitempty"`
	BackPressurePollFrequencyMs *int64      `json:"backpressure_poll_frequency_ms,omitempty"`
	InboxPageSize               *int        `json:"inbox_page_size,omitempty"`
	PushRateLimit               *float64    `json:"push_rate_limit,omitempty"`
	EgressType                  *EgressType `json:"egress_type,omitempty"`
	EgressConcurrency           *int        `json:"egress_concurrency,omitempty"`
}

// Apply returns a copy of d with the override's non-nil fields applied.
func (o SettingsOverride) Apply(d AdapterDecl) AdapterDecl {
	s := &d.Settings
	if o.Endpoint != nil {
		d.Endpoint = *o.Endpoint
	}
	if o.StimulateInputPayload != nil {
		s.StimulateInputPayload = *o.StimulateInputPayload
	}
	if o.ValidateInputPayload != nil {
		s.ValidateInputPayload = *o.ValidateInputPayload
	}
	if o.ValidateOutputPayload != nil {
		s.ValidateOutputPayload = *o.ValidateOutputPayload
	}
	if o.PersistInputPayload != nil {
		s.PersistInputPayload = *o.PersistInputPayload
	}
	if o.PersistOutputPayload != nil {
		s.PersistOutputPayload = *o.PersistOutputPayload
	}
	if o.Passthrough != nil {
		s.Passthrough = *o.Passthrough
	}
	if o.StimulateFrequencyMs != nil {
		s.StimulateFrequencyMs = *o.StimulateFrequencyMs
	}
	if o.InboxPollFrequencyMs != nil {
		s.InboxPollFrequencyMs = *o.InboxPollFrequencyMs
	}
	if o.BackPressurePollFrequencyMs != nil {
		s.BackPressurePollFrequencyMs = *o.BackPressurePollFrequencyMs
	}
	if o.InboxPageSize != nil {
		s.InboxPageSize = *o.InboxPageSize
	}
	if o.PushRateLimit != nil {
		s.PushRateLimit = *o.PushRateLimit
	}
	if o.EgressType != nil {
		d.Egress.Type = *o.EgressType
	}
	if o.EgressConcurrency != nil {
		d.Egress.Concurrency = *o.EgressConcurrency
	}
	return d
}
