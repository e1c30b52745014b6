package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanFlowEvent scans a single row into a model.FlowEvent.
// The row must contain columns in the order defined by flowEventColumns.
func scanFlowEvent(row scannable) (*model.FlowEvent, error) {
	var ev model.FlowEvent
	var (
		input, output   []byte
		eventStart      sql.NullTime
		pollStarted     sql.NullTime
		payloadSent     sql.NullTime
		targetResponse  sql.NullTime
		sentToOutbox    sql.NullTime
		payloadEgressed sql.NullTime
		eventComplete   sql.NullTime
		inStamps        []byte
		outStamps       []byte
		messageIDs      []byte
	)

	err := row.Scan(
		&ev.ID,
		&ev.BatchID,
		&ev.GraphName,
		&ev.AdapterID,
		&ev.AdapterName,
		&input,
		&output,
		&ev.HTTPResponseCode,
		&eventStart,
		&pollStarted,
		&payloadSent,
		&targetResponse,
		&sentToOutbox,
		&payloadEgressed,
		&eventComplete,
		&inStamps,
		&outStamps,
		&messageIDs,
	)
	if err != nil {
		return nil, err
	}

	if len(input) > 0 {
		ev.InputPayload = json.RawMessage(input)
	}
	if len(output) > 0 {
		ev.OutputPayload = json.RawMessage(output)
	}
	ev.Times = model.FlowEventTimes{
		EventStart:      timePtr(eventStart),
		PollStarted:     timePtr(pollStarted),
		PayloadSent:     timePtr(payloadSent),
		TargetResponse:  timePtr(targetResponse),
		SentToOutbox:    timePtr(sentToOutbox),
		PayloadEgressed: timePtr(payloadEgressed),
		EventComplete:   timePtr(eventComplete),
	}
	if err := decodeList(inStamps, &ev.InputStamps); err != nil {
		return nil, fmt.Errorf("decode input stamps: %w", err)
	}
	if err := decodeList(outStamps, &ev.OutputStamps); err != nil {
		return nil, fmt.Errorf("decode output stamps: %w", err)
	}
	if err := decodeList(messageIDs, &ev.MessageIDs); err != nil {
		return nil, fmt.Errorf("decode message ids: %w", err)
	}
	return &ev, nil
}

// scanFlowEvents scans multiple rows into a slice of model.FlowEvent pointers.
func scanFlowEvents(rows *sql.Rows) ([]*model.FlowEvent, error) {
	var out []*model.FlowEvent
	for rows.Next() {
		ev, err := scanFlowEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanMessage scans a single row into a model.InboxMessage.
func scanMessage(row scannable) (*model.InboxMessage, error) {
	var m model.InboxMessage
	var payload []byte
	err := row.Scan(
		&m.ID,
		&m.FlowEventID,
		&m.BatchID,
		&m.SourceAdapterID,
		&m.SourceAdapterName,
		&m.TargetAdapterID,
		&payload,
		&m.Attempts,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Payload = json.RawMessage(payload)
	return &m, nil
}

// scanMessages scans multiple rows into a slice of model.InboxMessage pointers.
func scanMessages(rows *sql.Rows) ([]*model.InboxMessage, error) {
	var out []*model.InboxMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// payloadBytes converts json.RawMessage to a []byte for the JSON payload
// columns. JSON, unlike JSONB, keeps the bytes as written.
func payloadBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// jsonList encodes a slice for a NOT NULL JSONB array column.
func jsonList[T any](items []T) []byte {
	if len(items) == 0 {
		return []byte("[]")
	}
	data, err := json.Marshal(items)
	if err != nil {
		return []byte("[]")
	}
	return data
}

func decodeList[T any](data []byte, dst *[]T) error {
	if len(data) == 0 {
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if len(items) > 0 {
		*dst = items
	}
	return nil
}
