// Package metrics holds the Prometheus collectors of the auction core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auction"

// Bid outcomes reported by ObserveBid.
const (
	BidAccepted = "accepted"
	BidRejected = "rejected"
	BidConflict = "conflict"
	BidBusy     = "busy"
	BidError    = "error"
)

type Collector struct {
	bids          *prometheus.CounterVec
	created       prometheus.Counter
	closed        *prometheus.CounterVec
	claims        prometheus.Counter
	retries       prometheus.Counter
	eventsDropped prometheus.Counter
	sinkFailures  *prometheus.CounterVec
	lockWait      prometheus.Histogram
	sweepDuration prometheus.Histogram
	sweepClosed   prometheus.Counter
}

// New builds the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests and embedded callers usually want.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bids processed by the engine, by outcome.",
		}, []string{"result"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Auctions created.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closed_total",
			Help:      "Auctions closed, by reason.",
		}, []string{"reason"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Unclaimed auctions assigned to a tenant.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store attempts retried after a transient error or a lost compare-and-swap.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events dropped because the dispatch buffer was full.",
		}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Event deliveries that failed, by sink.",
		}, []string{"sink"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-auction lock.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeper cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_closed_total",
			Help:      "Expired auctions closed by the sweeper.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.bids, c.created, c.closed, c.claims, c.retries,
			c.eventsDropped, c.sinkFailures, c.lockWait,
			c.sweepDuration, c.sweepClosed,
		)
	}
	return c
}

func (c *Collector) ObserveBid(result string) {
	c.bids.WithLabelValues(result).Inc()
}

func (c *Collector) AuctionCreated() {
	c.created.Inc()
}

func (c *Collector) AuctionClosed(reason string) {
	c.closed.WithLabelValues(reason).Inc()
}

func (c *Collector) AuctionClaimed() {
	c.claims.Inc()
}

func (c *Collector) StoreRetried() {
	c.retries.Inc()
}

func (c *Collector) EventDropped() {
	c.eventsDropped.Inc()
}

func (c *Collector) SinkFailed(sink string) {
	c.sinkFailures.WithLabelValues(sink).Inc()
}

func (c *Collector) ObserveLockWait(d time.Duration) {
	c.lockWait.Observe(d.Seconds())
}

func (c *Collector) ObserveSweep(d time.Duration, closed int) {
	c.sweepDuration.Observe(d.Seconds())
	c.sweepClosed.Add(float64(closed))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
