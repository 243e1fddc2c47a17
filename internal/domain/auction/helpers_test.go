package auction_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gohye/auction-core/internal/clock"
	"github.com/gohye/auction-core/internal/domain/auction"
	"github.com/gohye/auction-core/internal/gateways/database"
	"github.com/gohye/auction-core/internal/gateways/database/repositories"
	"github.com/gohye/auction-core/internal/metrics"
)

var (
	epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	alice = auction.Actor{ID: 1001, Name: "alice"}
	bob   = auction.Actor{ID: 1002, Name: "bob"}
	carol = auction.Actor{ID: 1003, Name: "carol"}
)

const (
	tenantA snowflake.ID = 7
	tenantB snowflake.ID = 8
)

type harness struct {
	t        *testing.T
	path     string
	db       *database.DB
	repo     auction.Repository
	clock    *clock.Manual
	engine   *auction.Engine
	events   *auction.ChannelSink
	registry *prometheus.Registry
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	opts  auction.Options
	wrap  func(auction.Repository) auction.Repository
	sinks []auction.EventSink
	path  string
	clock *clock.Manual
}

func withOptions(opts auction.Options) harnessOption {
	return func(c *harnessConfig) { c.opts = opts }
}

func withRepository(wrap func(auction.Repository) auction.Repository) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func withSinks(sinks ...auction.EventSink) harnessOption {
	return func(c *harnessConfig) { c.sinks = sinks }
}

func withStore(path string, clk *clock.Manual) harnessOption {
	return func(c *harnessConfig) {
		c.path = path
		c.clock = clk
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		opts: auction.Options{BidRetryBase: time.Millisecond},
	}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.path == "" {
		cfg.path = filepath.Join(t.TempDir(), "auctions.db")
	}
	if cfg.clock == nil {
		cfg.clock = clock.NewManual(epoch)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{StorePath: cfg.path})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	var repo auction.Repository = repositories.NewAuctionRepository(db.BunDB())
	if cfg.wrap != nil {
		repo = cfg.wrap(repo)
	}

	events := auction.NewChannelSink(256)
	registry := prometheus.NewRegistry()
	engine, err := auction.NewEngine(auction.EngineConfig{
		Repository: repo,
		Clock:      cfg.clock,
		Options:    cfg.opts,
		Sinks:      append([]auction.EventSink{events}, cfg.sinks...),
		Metrics:    metrics.New(registry),
	})
	require.NoError(t, err)

	h := &harness{
		t:        t,
		path:     cfg.path,
		db:       db,
		repo:     repo,
		clock:    cfg.clock,
		engine:   engine,
		events:   events,
		registry: registry,
	}
	t.Cleanup(h.shutdown)
	return h
}

func (h *harness) shutdown() {
	h.engine.Close()
	_ = h.db.Close()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func swordSpec() auction.AuctionSpec {
	return auction.AuctionSpec{
		ItemName:      "Sword",
		StartingPrice: dec("1000.00"),
		Increment:     dec("100.00"),
		DurationHours: 24,
		Currency:      auction.CurrencyPrimary,
	}
}

func (h *harness) create(tenant snowflake.ID, creator auction.Actor, spec auction.AuctionSpec) int64 {
	h.t.Helper()
	id, err := h.engine.CreateAuction(context.Background(), tenant, creator, spec)
	require.NoError(h.t, err)
	return id
}

// insertUnclaimed stores an auction with tenant 0, the way rows from the
// pre-tenant bot look after migration.
func (h *harness) insertUnclaimed(creator auction.Actor) int64 {
	h.t.Helper()
	var id int64
	err := h.repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		var err error
		id, err = tx.InsertAuction(ctx, &auction.Auction{
			ItemName:      "Legacy Bow",
			Currency:      auction.CurrencyPrimary,
			StartingPrice: dec("1000"),
			Increment:     dec("100"),
			DurationHours: 24,
			Creator:       creator,
			CreatedAt:     h.clock.Now(),
			EndTime:       h.clock.Now().Add(24 * time.Hour),
			CurrentPrice:  dec("1000"),
			IsActive:      true,
		})
		return err
	})
	require.NoError(h.t, err)
	return id
}

// nextEvents reads n events or fails after a second.
func (h *harness) nextEvents(n int) []auction.Event {
	h.t.Helper()
	events := make([]auction.Event, 0, n)
	timeout := time.After(time.Second)
	for len(events) < n {
		select {
		case e := <-h.events.C:
			events = append(events, e)
		case <-timeout:
			require.FailNowf(h.t, "timed out waiting for events", "got %d of %d", len(events), n)
		}
	}
	return events
}
