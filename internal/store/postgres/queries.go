package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// flowEventColumns is the column list used for SELECT statements on the flow_events table.
const flowEventColumns = `id, batch_id, graph_name, adapter_id, adapter_name,
	input_payload, output_payload, http_response_code,
	event_start, poll_started, payload_sent, target_response,
	sent_to_outbox, payload_egressed, event_complete,
	input_stamps, output_stamps, message_ids`

// messageColumns is the column list used for SELECT statements on the inbox_messages table.
const messageColumns = `id, flow_event_id, batch_id, source_adapter_id, source_adapter_name,
	target_adapter_id, payload, attempts, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func queryCreateGraph(ctx context.Context, db executor, g *model.Graph) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO graphs (name, version, description, document, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		g.Name, g.Version, g.Description, doc, g.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("graph %s@%s: %w", g.Name, g.Version, store.ErrConflict)
	}
	return err
}

func queryGetGraph(ctx context.Context, db executor, name, version string) (*model.Graph, error) {
	var doc []byte
	err := db.QueryRowContext(ctx,
		`SELECT document FROM graphs WHERE name = $1 AND version = $2`, name, version,
	).Scan(&doc)
	if err != nil {
		return nil, err
	}
	var g model.Graph
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("decode graph %s@%s: %w", name, version, err)
	}
	return &g, nil
}

func queryListGraphs(ctx context.Context, db executor) ([]*model.GraphSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, version, jsonb_array_length(document->'adapters'), created_at
		FROM graphs ORDER BY name, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer rows.Close()

	var out []*model.GraphSummary
	for rows.Next() {
		var s model.GraphSummary
		if err := rows.Scan(&s.Name, &s.Version, &s.Adapters, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func queryCreateFlowEvent(ctx context.Context, db executor, ev *model.FlowEvent) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO flow_events (`+flowEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING`,
		flowEventArgs(ev)...,
	)
	if err != nil {
		return false, fmt.Errorf("create flow event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func queryUpdateFlowEvent(ctx context.Context, db executor, ev *model.FlowEvent) error {
	res, err := db.ExecContext(ctx, `
		UPDATE flow_events SET
			batch_id = $2, graph_name = $3, adapter_id = $4, adapter_name = $5,
			input_payload = $6, output_payload = $7, http_response_code = $8,
			event_start = $9, poll_started = $10, payload_sent = $11, target_response = $12,
			sent_to_outbox = $13, payload_egressed = $14, event_complete = $15,
			input_stamps = $16, output_stamps = $17, message_ids = $18
		WHERE id = $1`,
		flowEventArgs(ev)...,
	)
	if err != nil {
		return fmt.Errorf("update flow event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func flowEventArgs(ev *model.FlowEvent) []any {
	return []any{
		ev.ID,
		ev.BatchID,
		ev.GraphName,
		ev.AdapterID,
		ev.AdapterName,
		payloadBytes(ev.InputPayload),
		payloadBytes(ev.OutputPayload),
		ev.HTTPResponseCode,
		nullTimePtr(ev.Times.EventStart),
		nullTimePtr(ev.Times.PollStarted),
		nullTimePtr(ev.Times.PayloadSent),
		nullTimePtr(ev.Times.TargetResponse),
		nullTimePtr(ev.Times.SentToOutbox),
		nullTimePtr(ev.Times.PayloadEgressed),
		nullTimePtr(ev.Times.EventComplete),
		jsonList(ev.InputStamps),
		jsonList(ev.OutputStamps),
		jsonList(ev.MessageIDs),
	}
}

func queryGetFlowEvent(ctx context.Context, db executor, id string) (*model.FlowEvent, error) {
	row := db.QueryRowContext(ctx, `SELECT `+flowEventColumns+` FROM flow_events WHERE id = $1`, id)
	return scanFlowEvent(row)
}

func queryListFlowEvents(ctx context.Context, db executor, filter model.FlowEventFilter) ([]*model.FlowEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.BatchID != "" {
		add("batch_id = $%d", filter.BatchID)
	}
	if filter.AdapterID != "" {
		add("adapter_id = $%d", filter.AdapterID)
	}
	if filter.GraphName != "" {
		add("graph_name = $%d", filter.GraphName)
	}
	if filter.Since != nil {
		add("event_complete > $%d", *filter.Since)
	}

	q := `SELECT ` + flowEventColumns + ` FROM flow_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY event_start ASC NULLS LAST, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list flow events: %w", err)
	}
	defer rows.Close()
	return scanFlowEvents(rows)
}

func queryEnqueue(ctx context.Context, db executor, m *model.InboxMessage) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, flow_event_id, batch_id, source_adapter_id,
			source_adapter_name, target_adapter_id, payload, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (flow_event_id, target_adapter_id) DO NOTHING`,
		m.ID,
		m.FlowEventID,
		m.BatchID,
		m.SourceAdapterID,
		m.SourceAdapterName,
		m.TargetAdapterID,
		payloadBytes(m.Payload),
		m.Attempts,
		m.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func queryPending(ctx context.Context, db executor, targetAdapterID string, limit int) ([]*model.InboxMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM inbox_messages
		WHERE target_adapter_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, targetAdapterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func queryPendingByBatch(ctx context.Context, db executor, targetAdapterID, batchID string) ([]*model.InboxMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM inbox_messages
		WHERE target_adapter_id = $1 AND batch_id = $2
		ORDER BY created_at ASC, id ASC`, targetAdapterID, batchID)
	if err != nil {
		return nil, fmt.Errorf("query pending batch: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func queryReadyBatches(ctx context.Context, db executor, targetAdapterID string, sources, limit int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT batch_id FROM inbox_messages
		WHERE target_adapter_id = $1
		GROUP BY batch_id
		HAVING COUNT(DISTINCT source_adapter_id) >= $2
		ORDER BY MIN(created_at) ASC, batch_id ASC
		LIMIT $3`, targetAdapterID, sources, limit)
	if err != nil {
		return nil, fmt.Errorf("query ready batches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func queryCountPending(ctx context.Context, db executor, targetAdapterID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbox_messages WHERE target_adapter_id = $1`, targetAdapterID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func queryRecordAttempt(ctx context.Context, db executor, messageID string) (int, error) {
	var attempts int
	err := db.QueryRowContext(ctx,
		`UPDATE inbox_messages SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, messageID,
	).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func queryDeleteMessage(ctx context.Context, db executor, messageID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM inbox_messages WHERE id = $1`, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
