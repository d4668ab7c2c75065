package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aiproxy/internal/models"
	"aiproxy/internal/queue"
)

// AccessLogWorker is the single consumer of the log queue and the only
// component that writes to the access log store. It runs in its own
// goroutine, entirely decoupled from request handling: a slow or failing
// store never delays a proxied request.
//
// Lifecycle is explicit: Start before accepting traffic, Stop during
// shutdown. Stop enqueues the sentinel and waits until the worker has
// consumed it, so no write is in flight after Stop returns.
type AccessLogWorker struct {
	queue   queue.Queue
	db      *DB
	repo    *AccessLogRepository
	log     zerolog.Logger
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewAccessLogWorker creates a worker bound to a queue and a store.
func NewAccessLogWorker(q queue.Queue, db *DB, schema *Schema) *AccessLogWorker {
	return &AccessLogWorker{
		queue:   q,
		db:      db,
		repo:    NewAccessLogRepository(db, schema),
		log:     log.With().Str("component", "accesslog-worker").Logger(),
		stopped: make(chan struct{}),
	}
}

// Repository returns the repository the worker writes through. The replay
// filter uses it for read-only lookups.
func (w *AccessLogWorker) Repository() *AccessLogRepository {
	return w.repo
}

// Start launches the worker goroutine.
func (w *AccessLogWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop enqueues the shutdown sentinel and waits for the worker to consume
// it, or for ctx to expire.
func (w *AccessLogWorker) Stop(ctx context.Context) error {
	if err := w.queue.Enqueue(ctx, queue.Sentinel{}); err != nil {
		// Queue unusable; cut the worker loose instead of leaking it.
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

func (w *AccessLogWorker) run(ctx context.Context) {
	defer close(w.stopped)

	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			w.log.Error().Err(err).Msg("failed to dequeue access log item")
			time.Sleep(time.Second)
			continue
		}

		switch it := item.(type) {
		case queue.Sentinel, *queue.Sentinel:
			w.log.Info().Msg("access log worker stopping")
			return
		case models.LogItem:
			w.persist(ctx, it)
		default:
			w.log.Warn().Type("item", item).Msg("unknown access log queue item")
		}
	}
}

// persist writes one item's rows in a short-lived transaction. Failures are
// logged and skipped; the worker keeps processing.
func (w *AccessLogWorker) persist(ctx context.Context, item models.LogItem) {
	rows, err := item.AccessLogs()
	if err != nil {
		w.log.Error().Err(err).Msg("failed to map queue item to access log rows")
		return
	}
	if len(rows) == 0 {
		return
	}

	tx, err := w.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to begin access log transaction")
		return
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := w.repo.Insert(ctx, tx, row); err != nil {
			w.log.Error().Err(err).Str("request_id", row.RequestID).Str("direction", row.Direction).
				Msg("failed to insert access log row")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		w.log.Error().Err(err).Msg("failed to commit access log transaction")
	}
}
