package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/metrics"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// Config sizes the dispatcher.
type Config struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

type job struct {
	ctx  context.Context
	edge domain.Edge
}

// Dispatcher delivers "you were followed" notifications off the request
// path. Every sink is tried for every notification; failures are logged and
// counted, never returned to the caller that committed the follow.
type Dispatcher struct {
	sinks []Sink
	cfg   Config
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job

	wg     sync.WaitGroup
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher for sinks. Call Start before use.
func NewDispatcher(sinks []Sink, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:  sinks,
		cfg:    cfg,
		now:    time.Now,
		queue:  make(chan job, cfg.QueueSize),
		doneCh: make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	l := pkglog.L()
	l.Info().
		Int("workers", d.cfg.Workers).
		Int("sinks", len(d.sinks)).
		Msg("notification dispatcher started")

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	go func() {
		d.wg.Wait()
		close(d.doneCh)
	}()
}

// Stop closes the queue. Workers drain what is already queued and exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Done returns a channel closed once every worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

// NotifyFollowed queues a notification for targetID. It never blocks: when
// the queue is full or the dispatcher is stopped the notification is dropped.
func (d *Dispatcher) NotifyFollowed(ctx context.Context, actorID, targetID string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.closed {
		select {
		case d.queue <- job{ctx: context.WithoutCancel(ctx), edge: domain.Edge{Actor: actorID, Target: targetID}}:
			return
		default:
		}
	}

	metrics.NotificationsDropped.Inc()
	l := pkglog.Pair(ctx, actorID, targetID)
	l.Warn().Msg("follow notification dropped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j.ctx, j.edge)
	}
}

// deliver fans n out to all sinks concurrently, each under its own timeout.
func (d *Dispatcher) deliver(ctx context.Context, edge domain.Edge) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		Recipient: edge.Target,
		Kind:      domain.NotificationKindFollow,
		Actor:     edge.Actor,
		CreatedAt: d.now().UTC(),
	}
	l := pkglog.Pair(ctx, edge.Actor, edge.Target)

	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
			defer cancel()

			if err := sink.Deliver(sctx, n); err != nil {
				metrics.Notifications.WithLabelValues(sink.Name(), "error").Inc()
				l.Warn().Err(err).
					Str("sink", sink.Name()).
					Str("notification_id", n.ID).
					Msg("follow notification delivery failed")
				return nil
			}
			metrics.Notifications.WithLabelValues(sink.Name(), "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
}
