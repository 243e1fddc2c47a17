package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gohye/auction-core/internal/metrics"
)

type EventType string

const (
	EventCreated EventType = "auction.created"
	EventBid     EventType = "auction.bid"
	EventClosed  EventType = "auction.closed"
	EventExpired EventType = "auction.expired"
)

type CloseReason string

const (
	ReasonCreator CloseReason = "creator"
	ReasonSweeper CloseReason = "sweeper"
	ReasonExpired CloseReason = "expired"
)

// Event is a lifecycle notification. Sequence orders events of one auction:
// created is 0, the n-th bid is n, closed follows the last bid and expired
// follows closed.
type Event struct {
	ID         uuid.UUID        `json:"event_id"`
	Type       EventType        `json:"type"`
	AuctionID  int64            `json:"id"`
	TenantID   snowflake.ID     `json:"tenant_id"`
	Sequence   int64            `json:"sequence"`
	OccurredAt time.Time        `json:"occurred_at"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
	BidderID   snowflake.ID     `json:"bidder_id,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	PriceAfter *decimal.Decimal `json:"price_after,omitempty"`
	Reason     CloseReason      `json:"reason,omitempty"`
}

// DedupeKey identifies the event for idempotent sinks.
func (e Event) DedupeKey() string {
	return fmt.Sprintf("%d-%d-%s", e.AuctionID, e.Sequence, e.Type)
}

// EventSink receives lifecycle events. Delivery is at-least-once, so
// implementations must tolerate duplicates by DedupeKey.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// ChannelSink forwards events to an in-process subscriber.
type ChannelSink struct {
	C chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Name() string { return "channel" }

func (s *ChannelSink) Publish(ctx context.Context, e Event) error {
	select {
	case s.C <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const sinkTimeout = 5 * time.Second

// dispatcher delivers events to sinks from a single goroutine, one event at
// a time, so per-auction order survives fan-out.
type dispatcher struct {
	queue   chan Event
	sinks   []EventSink
	pool    *pond.WorkerPool
	metrics *metrics.Collector
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(sinks []EventSink, buffer int, m *metrics.Collector) *dispatcher {
	d := &dispatcher{
		queue:   make(chan Event, buffer),
		sinks:   sinks,
		metrics: m,
		done:    make(chan struct{}),
		pool: pond.New(len(sinks), len(sinks),
			pond.MinWorkers(1),
			pond.PanicHandler(func(p interface{}) {
				slog.Error("Event sink panicked",
					slog.String("type", "event"),
					slog.Any("panic", p),
				)
			}),
		),
	}
	go d.run()
	return d
}

// enqueue never blocks; a full buffer drops the event.
func (d *dispatcher) enqueue(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- e:
	default:
		d.metrics.EventDropped()
		slog.Warn("Event buffer full",
			slog.String("type", "event"),
			slog.String("status", "dropped"),
			slog.String("event", string(e.Type)),
			slog.Int64("auction_id", e.AuctionID),
		)
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		group := d.pool.Group()
		for _, sink := range d.sinks {
			sink := sink
			group.Submit(func() {
				d.deliver(sink, e)
			})
		}
		group.Wait()
	}
}

func (d *dispatcher) deliver(sink EventSink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := sink.Publish(ctx, e); err != nil {
		d.metrics.SinkFailed(sink.Name())
		slog.Warn("Event delivery failed",
			slog.String("type", "event"),
			slog.String("sink", sink.Name()),
			slog.String("event", string(e.Type)),
			slog.Int64("auction_id", e.AuctionID),
			slog.Any("error", err),
		)
	}
}

// stop flushes queued events and waits for delivery.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	d.pool.StopAndWait()
}
