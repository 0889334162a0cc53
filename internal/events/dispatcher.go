package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

// Dispatcher hands events to the worker pool so publishing never runs on the
// request path.
type Dispatcher struct {
	pool    *worker.Pool
	pub     Publisher
	timeout time.Duration
	now     func() time.Time
}

func NewDispatcher(pool *worker.Pool, pub Publisher) *Dispatcher {
	return &Dispatcher{pool: pool, pub: pub, timeout: 5 * time.Second, now: time.Now}
}

func (d *Dispatcher) Dispatch(t models.Transaction) {
	e := NewEvent(t, d.now())
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.pub.Publish(ctx, e); err != nil {
			metrics.EventsPublished.WithLabelValues(d.pub.Name(), "error").Inc()
			slog.Error("publish transaction event", "ref", t.Reference, "sink", d.pub.Name(), "err", err)
			return
		}
		metrics.EventsPublished.WithLabelValues(d.pub.Name(), "ok").Inc()
	})
	if err != nil {
		slog.Warn("transaction event dropped", "ref", t.Reference, "err", err)
	}
}
