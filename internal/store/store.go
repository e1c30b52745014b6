package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/flowd/internal/model"
)

// ErrConflict is returned when a create would overwrite an existing record.
// Lookups of missing records return sql.ErrNoRows.
var ErrConflict = errors.New("already exists")

// Store defines the persistence interface for graphs, flow events and the
// adapter inbox queue.
type Store interface {
	// Graph catalogue
	CreateGraph(ctx context.Context, g *model.Graph) error
	GetGraph(ctx context.Context, name, version string) (*model.Graph, error)
	ListGraphs(ctx context.Context) ([]*model.GraphSummary, error)

	// Flow events. CreateFlowEvent reports false (and no error) when an
	// event with the same id already exists.
	CreateFlowEvent(ctx context.Context, ev *model.FlowEvent) (bool, error)
	UpdateFlowEvent(ctx context.Context, ev *model.FlowEvent) error
	GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error)
	ListFlowEvents(ctx context.Context, filter model.FlowEventFilter) ([]*model.FlowEvent, error)

	// Inbox queue. Enqueue reports false (and no error) when a message for
	// the same (flow event, target adapter) pair already exists.
	Enqueue(ctx context.Context, msg *model.InboxMessage) (bool, error)
	QueryPending(ctx context.Context, targetAdapterID string, limit int) ([]*model.InboxMessage, error)
	QueryPendingByBatch(ctx context.Context, targetAdapterID, batchID string) ([]*model.InboxMessage, error)
	// QueryReadyBatches returns up to limit batch ids, oldest first, whose
	// pending messages for the target come from at least sources distinct
	// source adapters.
	QueryReadyBatches(ctx context.Context, targetAdapterID string, sources, limit int) ([]string, error)
	CountPending(ctx context.Context, targetAdapterID string) (int64, error)
	RecordAttempt(ctx context.Context, messageID string) (int, error)
	DeleteMessage(ctx context.Context, messageID string) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
