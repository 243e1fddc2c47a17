package auction_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gohye/auction-core/internal/domain/auction"
)

func TestSweeperClosesExpiredAuctions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sweeper := auction.NewSweeper(h.engine, time.Second)

	spec := swordSpec()
	spec.DurationHours = 1
	id := h.create(tenantA, alice, spec)
	_, err := h.engine.PlaceBid(ctx, tenantA, bob, id, dec("1100"))
	require.NoError(t, err)
	keep := h.create(tenantA, alice, swordSpec())

	h.clock.Advance(time.Hour)

	_, err = h.engine.PlaceBid(ctx, tenantA, carol, id, dec("1200"))
	assert.True(t, auction.IsExpired(err), "got %v", err)

	closed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	a, err := h.engine.GetAuction(ctx, tenantA, id)
	require.NoError(t, err)
	assert.False(t, a.IsActive)
	require.NotNil(t, a.Leader)
	assert.Equal(t, bob, *a.Leader)

	other, err := h.engine.GetAuction(ctx, tenantA, keep)
	require.NoError(t, err)
	assert.True(t, other.IsActive)

	events := h.nextEvents(5)
	closedEvent, expiredEvent := events[3], events[4]
	assert.Equal(t, auction.EventClosed, closedEvent.Type)
	assert.Equal(t, auction.ReasonSweeper, closedEvent.Reason)
	assert.Equal(t, int64(2), closedEvent.Sequence)
	assert.Equal(t, auction.EventExpired, expiredEvent.Type)
	assert.Equal(t, int64(3), expiredEvent.Sequence)
	assert.Equal(t, id, expiredEvent.AuctionID)
}

func TestSweeperIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sweeper := auction.NewSweeper(h.engine, time.Second)

	spec := swordSpec()
	spec.DurationHours = 1
	ids := []int64{
		h.create(tenantA, alice, spec),
		h.create(tenantB, carol, spec),
		h.create(tenantA, alice, swordSpec()),
	}
	h.clock.Advance(2 * time.Hour)

	closed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	snapshot := func() []*auction.Auction {
		out := make([]*auction.Auction, 0, len(ids))
		for i, id := range ids {
			tenant := tenantA
			if i == 1 {
				tenant = tenantB
			}
			a, err := h.engine.GetAuction(ctx, tenant, id)
			require.NoError(t, err)
			out = append(out, a)
		}
		return out
	}
	first := snapshot()

	closed, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	second := snapshot()
	for i := range first {
		assertSameAuction(t, first[i], second[i])
	}
	assert.False(t, second[0].IsActive)
	assert.False(t, second[1].IsActive)
	assert.True(t, second[2].IsActive)
}

func TestSweeperSkipsClosedAuctions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sweeper := auction.NewSweeper(h.engine, time.Second)

	spec := swordSpec()
	spec.DurationHours = 1
	id := h.create(tenantA, alice, spec)
	_, err := h.engine.CloseAuction(ctx, tenantA, id, alice)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	closed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestSweeperRunLoop(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := auction.NewSweeper(h.engine, 500*time.Millisecond)
	spec := swordSpec()
	spec.DurationHours = 1
	id := h.create(tenantA, alice, spec)
	h.clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		a, err := h.engine.GetAuction(context.Background(), tenantA, id)
		return err == nil && !a.IsActive
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
