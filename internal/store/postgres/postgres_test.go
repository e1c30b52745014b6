package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/flowd/internal/model"
	"github.com/alfredjeanlab/flowd/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// flowEventRowColumns is the column list for scanFlowEvent results.
var flowEventRowColumns = []string{
	"id", "batch_id", "graph_name", "adapter_id", "adapter_name",
	"input_payload", "output_payload", "http_response_code",
	"event_start", "poll_started", "payload_sent", "target_response",
	"sent_to_outbox", "payload_egressed", "event_complete",
	"input_stamps", "output_stamps", "message_ids",
}

// messageRowColumns is the column list for scanMessage results.
var messageRowColumns = []string{
	"id", "flow_event_id", "batch_id", "source_adapter_id", "source_adapter_name",
	"target_adapter_id", "payload", "attempts", "created_at",
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}
	if timePtr(sql.NullTime{}) != nil {
		t.Error("timePtr(invalid) should be nil")
	}

	if payloadBytes(nil) != nil {
		t.Error("payloadBytes(nil) should be nil")
	}
	if string(payloadBytes(json.RawMessage(`{"a":1}`))) != `{"a":1}` {
		t.Error("payloadBytes did not pass payload through")
	}

	if string(jsonList[string](nil)) != "[]" {
		t.Errorf("jsonList(nil) = %s", jsonList[string](nil))
	}
	if got := string(jsonList([]model.Stamp{{Key: "id", Value: "7"}})); got != `[{"key":"id","value":"7"}]` {
		t.Errorf("jsonList(stamps) = %s", got)
	}

	var ids []string
	if err := decodeList([]byte(`[]`), &ids); err != nil || ids != nil {
		t.Errorf("decodeList([]) = %v, %v", ids, err)
	}
	if err := decodeList([]byte(`["m1","m2"]`), &ids); err != nil || len(ids) != 2 {
		t.Errorf("decodeList = %v, %v", ids, err)
	}
}

func TestQueryCreateGraph(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	g := &model.Graph{Name: "orders", Version: "1.0.0", Description: "order flow", CreatedAt: now}

	mock.ExpectExec("INSERT INTO graphs").
		WithArgs("orders", "1.0.0", "order flow", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateGraph(context.Background(), db, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryCreateGraph_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	g := &model.Graph{Name: "orders", Version: "1.0.0"}

	mock.ExpectExec("INSERT INTO graphs").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := queryCreateGraph(context.Background(), db, g)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueryGetGraph(t *testing.T) {
	db, mock := newMockDB(t)
	doc := `{"name":"orders","version":"1.0.0","adapters":[{"id":"ad-1","name":"intake","type":"push","settings":{},"egress":{}}]}`

	mock.ExpectQuery("SELECT document FROM graphs WHERE name = \\$1 AND version = \\$2").
		WithArgs("orders", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow([]byte(doc)))

	g, err := queryGetGraph(context.Background(), db, "orders", "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name != "orders" || len(g.Adapters) != 1 || g.Adapters[0].ID != "ad-1" {
		t.Fatalf("decoded graph = %+v", g)
	}
}

func TestQueryGetGraph_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT document FROM graphs").
		WithArgs("missing", "1.0.0").
		WillReturnError(sql.ErrNoRows)

	if _, err := queryGetGraph(context.Background(), db, "missing", "1.0.0"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryListGraphs(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT name, version, jsonb_array_length\\(document->'adapters'\\), created_at FROM graphs").
		WillReturnRows(sqlmock.NewRows([]string{"name", "version", "n", "created_at"}).
			AddRow("orders", "1.0.0", 3, now).
			AddRow("orders", "1.1.0", 4, now))

	graphs, err := queryListGraphs(context.Background(), db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graphs) != 2 || graphs[1].Version != "1.1.0" || graphs[1].Adapters != 4 {
		t.Fatalf("got %+v", graphs)
	}
}

func TestQueryCreateFlowEvent(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"created", 1, true},
		{"already exists", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			ev := &model.FlowEvent{
				ID: "fe-1", BatchID: "b-1", GraphName: "orders", AdapterID: "ad-1", AdapterName: "intake",
				InputPayload: json.RawMessage(`{"id":7}`),
				Times:        model.FlowEventTimes{EventStart: &now},
				MessageIDs:   []string{"msg-1"},
			}
			mock.ExpectExec("INSERT INTO flow_events .+ ON CONFLICT \\(id\\) DO NOTHING").
				WithArgs(
					"fe-1", "b-1", "orders", "ad-1", "intake",
					[]byte(`{"id":7}`), sqlmock.AnyArg(), 0,
					now, nil, nil, nil, nil, nil, nil,
					[]byte("[]"), []byte("[]"), []byte(`["msg-1"]`),
				).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			created, err := queryCreateFlowEvent(context.Background(), db, ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if created != tc.want {
				t.Errorf("created = %v, want %v", created, tc.want)
			}
		})
	}
}

func TestQueryUpdateFlowEvent_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE flow_events SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := queryUpdateFlowEvent(context.Background(), db, &model.FlowEvent{ID: "fe-missing"})
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryGetFlowEvent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(flowEventRowColumns).AddRow(
		"fe-1", "b-1", "orders", "ad-2", "billing",
		[]byte(`{"id":7}`), nil, 200,
		now, nil, now, now, now, nil, now,
		[]byte(`[{"key":"id","value":"7"}]`), []byte(`[]`), []byte(`["msg-9"]`),
	)
	mock.ExpectQuery("SELECT .+ FROM flow_events WHERE id = \\$1").WithArgs("fe-1").WillReturnRows(rows)

	ev, err := queryGetFlowEvent(context.Background(), db, "fe-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.HTTPResponseCode != 200 || !ev.IsComplete() || ev.Times.PollStarted != nil {
		t.Errorf("unexpected event: %+v", ev)
	}
	if len(ev.InputStamps) != 1 || ev.InputStamps[0].Value != "7" {
		t.Errorf("input stamps = %+v", ev.InputStamps)
	}
	if ev.OutputStamps != nil {
		t.Errorf("output stamps = %+v, want nil", ev.OutputStamps)
	}
	if len(ev.MessageIDs) != 1 || ev.MessageIDs[0] != "msg-9" {
		t.Errorf("message ids = %v", ev.MessageIDs)
	}
	if ev.OutputPayload != nil {
		t.Errorf("output payload = %s, want nil", ev.OutputPayload)
	}
}

func TestQueryListFlowEvents_Filter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM flow_events WHERE batch_id = \\$1 AND adapter_id = \\$2 ORDER BY event_start ASC NULLS LAST, id ASC LIMIT \\$3").
		WithArgs("b-1", "ad-1", 10).
		WillReturnRows(sqlmock.NewRows(flowEventRowColumns))

	events, err := queryListFlowEvents(context.Background(), db, model.FlowEventFilter{BatchID: "b-1", AdapterID: "ad-1", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestQueryListFlowEvents_NoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM flow_events ORDER BY event_start").
		WithArgs().
		WillReturnRows(sqlmock.NewRows(flowEventRowColumns))

	if _, err := queryListFlowEvents(context.Background(), db, model.FlowEventFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryEnqueue(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new pair", 1, true},
		{"duplicate pair", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			now := time.Now().UTC()
			msg := &model.InboxMessage{
				ID: "msg-1", FlowEventID: "fe-1", BatchID: "b-1",
				SourceAdapterID: "ad-1", SourceAdapterName: "intake", TargetAdapterID: "ad-2",
				Payload: json.RawMessage(`{"id":7}`), CreatedAt: now,
			}
			mock.ExpectExec("INSERT INTO inbox_messages .+ ON CONFLICT \\(flow_event_id, target_adapter_id\\) DO NOTHING").
				WithArgs("msg-1", "fe-1", "b-1", "ad-1", "intake", "ad-2", []byte(`{"id":7}`), 0, now).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			created, err := queryEnqueue(context.Background(), db, msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if created != tc.want {
				t.Errorf("created = %v, want %v", created, tc.want)
			}
		})
	}
}

func TestQueryPending(t *testing.T) {
	db, mock := newMockDB(t)
	t0 := time.Now().UTC()
	rows := sqlmock.NewRows(messageRowColumns).
		AddRow("msg-1", "fe-1", "b-1", "ad-1", "intake", "ad-2", []byte(`{"n":1}`), 0, t0).
		AddRow("msg-2", "fe-2", "b-2", "ad-1", "intake", "ad-2", []byte(`{"n":2}`), 1, t0.Add(time.Millisecond))
	mock.ExpectQuery("SELECT .+ FROM inbox_messages WHERE target_adapter_id = \\$1 ORDER BY created_at ASC, id ASC LIMIT \\$2").
		WithArgs("ad-2", 5).
		WillReturnRows(rows)

	msgs, err := queryPending(context.Background(), db, "ad-2", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "msg-1" || msgs[1].Attempts != 1 {
		t.Fatalf("got %+v", msgs)
	}
	if string(msgs[1].Payload) != `{"n":2}` {
		t.Errorf("payload = %s", msgs[1].Payload)
	}
}

func TestQueryPendingByBatch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM inbox_messages WHERE target_adapter_id = \\$1 AND batch_id = \\$2").
		WithArgs("ad-m", "b-1").
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow("msg-1", "fe-1", "b-1", "ad-1", "left", "ad-m", []byte(`1`), 0, time.Now()))

	msgs, err := queryPendingByBatch(context.Background(), db, "ad-m", "b-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].SourceAdapterName != "left" {
		t.Fatalf("got %+v", msgs)
	}
}

func TestQueryReadyBatches(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT batch_id FROM inbox_messages WHERE target_adapter_id = \\$1 GROUP BY batch_id HAVING COUNT\\(DISTINCT source_adapter_id\\) >= \\$2 ORDER BY MIN\\(created_at\\) ASC, batch_id ASC LIMIT \\$3").
		WithArgs("ad-m", 3, 10).
		WillReturnRows(sqlmock.NewRows([]string{"batch_id"}).AddRow("b-2").AddRow("b-7"))

	got, err := queryReadyBatches(context.Background(), db, "ad-m", 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "b-2" || got[1] != "b-7" {
		t.Errorf("got %v", got)
	}
}

func TestQueryCountPending(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM inbox_messages WHERE target_adapter_id = \\$1").
		WithArgs("ad-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := queryCountPending(context.Background(), db, "ad-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
}

func TestQueryRecordAttempt(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("UPDATE inbox_messages SET attempts = attempts \\+ 1 WHERE id = \\$1 RETURNING attempts").
		WithArgs("msg-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(3))

	n, err := queryRecordAttempt(context.Background(), db, "msg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestQueryDeleteMessage(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM inbox_messages WHERE id = \\$1").WithArgs("msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryDeleteMessage(context.Background(), db, "msg-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryDeleteMessage_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM inbox_messages WHERE id = \\$1").WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryDeleteMessage(context.Background(), db, "gone"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM inbox_messages").WithArgs("msg-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteMessage(context.Background(), "msg-1")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := &PostgresStore{db: db}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM inbox_messages").WithArgs("msg-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		return tx.DeleteMessage(context.Background(), "msg-1")
	})
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestMigrations_PayloadColumnsKeepBytes(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("iofs.New: %v", err)
	}
	defer src.Close()

	column := regexp.MustCompile(`(?m)^\s*(\w+)\s+(JSONB|JSON)\b`)
	alter := regexp.MustCompile(`ALTER COLUMN (\w+) TYPE (\w+)`)
	types := make(map[string]string)

	version, err := src.First()
	for err == nil {
		r, _, rerr := src.ReadUp(version)
		if rerr != nil {
			t.Fatalf("ReadUp(%d): %v", version, rerr)
		}
		body, rerr := io.ReadAll(r)
		r.Close()
		if rerr != nil {
			t.Fatalf("reading migration %d: %v", version, rerr)
		}
		for _, m := range column.FindAllStringSubmatch(string(body), -1) {
			types[m[1]] = m[2]
		}
		for _, m := range alter.FindAllStringSubmatch(string(body), -1) {
			types[m[1]] = m[2]
		}
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("walking migrations: %v", err)
	}

	for _, col := range []string{"payload", "input_payload", "output_payload"} {
		if types[col] != "JSON" {
			t.Errorf("column %s ends as %q, want JSON", col, types[col])
		}
	}
}
