package repositories

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gohye/auction-core/internal/domain/auction"
	"github.com/gohye/auction-core/internal/gateways/database"
)

var (
	epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	alice = auction.Actor{ID: 1001, Name: "alice"}
	bob   = auction.Actor{ID: 1002, Name: "bob"}
	carol = auction.Actor{ID: 1003, Name: "carol"}
)

func newTestRepository(t *testing.T) (*AuctionRepository, *database.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{StorePath: filepath.Join(t.TempDir(), "auctions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	return NewAuctionRepository(db.BunDB()), db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAuction(tenant snowflake.ID, item string, end time.Time) *auction.Auction {
	return &auction.Auction{
		TenantID:      tenant,
		ItemName:      item,
		Currency:      auction.CurrencyPrimary,
		StartingPrice: dec("1000.00"),
		Increment:     dec("100.00"),
		DurationHours: 24,
		Creator:       alice,
		CreatedAt:     epoch,
		EndTime:       end,
		CurrentPrice:  dec("1000.00"),
		IsActive:      true,
	}
}

func insert(t *testing.T, repo *AuctionRepository, a *auction.Auction) int64 {
	t.Helper()
	var id int64
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		var err error
		id, err = tx.InsertAuction(ctx, a)
		return err
	})
	require.NoError(t, err)
	return id
}

func load(t *testing.T, repo *AuctionRepository, id int64, tenant snowflake.ID) (*auction.Auction, error) {
	t.Helper()
	var a *auction.Auction
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		var err error
		a, err = tx.LoadAuction(ctx, id, tenant)
		return err
	})
	return a, err
}

func TestInsertAndLoad(t *testing.T) {
	repo, _ := newTestRepository(t)

	first := insert(t, repo, newAuction(7, "Sword", epoch.Add(24*time.Hour)))
	second := insert(t, repo, newAuction(8, "Shield", epoch.Add(24*time.Hour)))
	assert.Greater(t, second, first)

	got, err := load(t, repo, first, 7)
	require.NoError(t, err)
	assert.Equal(t, "Sword", got.ItemName)
	assert.Equal(t, snowflake.ID(7), got.TenantID)
	assert.Equal(t, alice, got.Creator)
	assert.True(t, got.CurrentPrice.Equal(dec("1000")))
	assert.True(t, got.EndTime.Equal(epoch.Add(24*time.Hour)))
	assert.Nil(t, got.Leader)
	assert.True(t, got.IsActive)

	_, err = load(t, repo, first, 8)
	assert.ErrorIs(t, err, auction.ErrNotFound, "tenant filter applies")

	unscoped, err := load(t, repo, second, 0)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(8), unscoped.TenantID)

	_, err = load(t, repo, 9999, 0)
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestUpdateAuctionPriceCompareAndSwap(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := insert(t, repo, newAuction(7, "Sword", epoch.Add(time.Hour)))

	update := func(u auction.PriceUpdate) bool {
		var ok bool
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
			var err error
			ok, err = tx.UpdateAuctionPrice(ctx, u)
			return err
		})
		require.NoError(t, err)
		return ok
	}

	base := auction.PriceUpdate{
		AuctionID:     id,
		TenantID:      7,
		NewPrice:      dec("1100.00"),
		Bidder:        bob,
		ExpectedPrice: dec("1000.00"),
		Now:           epoch.Add(time.Minute),
	}

	assert.True(t, update(base))
	assert.False(t, update(base), "stale expected price loses")

	next := base
	next.NewPrice, next.ExpectedPrice, next.Bidder = dec("1250.50"), dec("1100"), carol
	next.Now = epoch.Add(time.Hour)
	assert.False(t, update(next), "no update at end_time")

	next.Now = epoch.Add(time.Hour - time.Millisecond)
	assert.True(t, update(next), "last millisecond still live")

	got, err := load(t, repo, id, 7)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(dec("1250.5")))
	require.NotNil(t, got.Leader)
	assert.Equal(t, carol, *got.Leader)
	assert.Equal(t, int64(2), got.BidCount)

	wrongTenant := base
	wrongTenant.TenantID, wrongTenant.ExpectedPrice = 8, dec("1250.50")
	assert.False(t, update(wrongTenant))
}

func TestBidsLedger(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := insert(t, repo, newAuction(7, "Sword", epoch.Add(time.Hour)))

	amounts := []string{"1100.00", "1200.00", "1350.25"}
	bidders := []auction.Actor{bob, carol, bob}
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		for i, amount := range amounts {
			if _, err := tx.AppendBid(ctx, &auction.Bid{
				AuctionID: id,
				TenantID:  7,
				Bidder:    bidders[i],
				Amount:    dec(amount),
				Timestamp: epoch.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	list := func(tenant snowflake.ID, limit int) []*auction.Bid {
		var bids []*auction.Bid
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
			var err error
			bids, err = tx.ListBids(ctx, id, tenant, limit)
			return err
		})
		require.NoError(t, err)
		return bids
	}

	bids := list(7, 10)
	require.Len(t, bids, 3)
	assert.True(t, bids[0].Amount.Equal(dec("1350.25")))
	assert.Equal(t, bob, bids[0].Bidder)
	assert.True(t, bids[2].Amount.Equal(dec("1100")))
	assert.True(t, bids[2].Timestamp.Equal(epoch))

	assert.Len(t, list(7, 2), 2)
	assert.Empty(t, list(8, 10))
}

func TestCloseAuctionIsIdempotent(t *testing.T) {
	repo, _ := newTestRepository(t)
	id := insert(t, repo, newAuction(7, "Sword", epoch.Add(time.Hour)))

	closeIt := func(tenant snowflake.ID) bool {
		var ok bool
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
			var err error
			ok, err = tx.CloseAuction(ctx, id, tenant)
			return err
		})
		require.NoError(t, err)
		return ok
	}

	assert.False(t, closeIt(8))
	assert.True(t, closeIt(7))
	assert.False(t, closeIt(7))

	got, err := load(t, repo, id, 7)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestClaimAuction(t *testing.T) {
	repo, db := newTestRepository(t)
	id := insert(t, repo, newAuction(0, "Legacy Bow", epoch.Add(time.Hour)))

	_, err := db.BunDB().ExecContext(context.Background(),
		`INSERT INTO bids (auction_id, tenant_id, bidder_id, bidder_name, amount, "timestamp") VALUES (?, 0, ?, 'bob', 1100, ?)`,
		id, int64(bob.ID), epoch)
	require.NoError(t, err)

	claim := func(tenant snowflake.ID) (bool, error) {
		var ok bool
		err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
			var err error
			ok, err = tx.ClaimAuction(ctx, id, tenant)
			return err
		})
		return ok, err
	}

	ok, err := claim(7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = claim(8)
	require.NoError(t, err)
	assert.False(t, ok, "tenant never changes once set")

	_, err = claim(0)
	assert.ErrorIs(t, err, auction.ErrIntegrity)

	got, err := load(t, repo, id, 7)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(7), got.TenantID)

	var bids []*auction.Bid
	require.NoError(t, repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		bids, err = tx.ListBids(ctx, id, 7, 10)
		return err
	}))
	assert.Len(t, bids, 1, "bids follow the claimed tenant")
}

func TestListLiveAndExpired(t *testing.T) {
	repo, _ := newTestRepository(t)

	late := insert(t, repo, newAuction(7, "Late", epoch.Add(3*time.Hour)))
	soon := insert(t, repo, newAuction(7, "Soon", epoch.Add(time.Hour)))
	insert(t, repo, newAuction(8, "Other", epoch.Add(time.Hour)))
	expired := insert(t, repo, newAuction(7, "Gone", epoch.Add(-time.Minute)))

	var live []*auction.Auction
	var ids []int64
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		var err error
		if live, err = tx.ListLiveAuctions(ctx, 7, epoch); err != nil {
			return err
		}
		ids, err = tx.ListExpired(ctx, epoch, 10)
		return err
	})
	require.NoError(t, err)

	require.Len(t, live, 2)
	assert.Equal(t, soon, live[0].ID)
	assert.Equal(t, late, live[1].ID)
	assert.Equal(t, []int64{expired}, ids)
}

func TestLoadRejectsBrokenInvariants(t *testing.T) {
	repo, db := newTestRepository(t)
	id := insert(t, repo, newAuction(7, "Sword", epoch.Add(time.Hour)))

	_, err := db.BunDB().ExecContext(context.Background(),
		`UPDATE auctions SET current_price = 900 WHERE id = ?`, id)
	require.NoError(t, err)

	_, err = load(t, repo, id, 7)
	assert.ErrorIs(t, err, auction.ErrIntegrity)
}

func TestRunInTxRollsBack(t *testing.T) {
	repo, _ := newTestRepository(t)
	boom := errors.New("boom")

	var id int64
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx auction.Tx) error {
		var err error
		if id, err = tx.InsertAuction(ctx, newAuction(7, "Sword", epoch.Add(time.Hour))); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = load(t, repo, id, 0)
	assert.ErrorIs(t, err, auction.ErrNotFound)
}
