package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"

	"github.com/gohye/auction-core/internal/domain/auction"
	"github.com/gohye/auction-core/internal/gateways/database"
	"github.com/gohye/auction-core/internal/gateways/database/models"
)

// AuctionRepository implements auction.Repository on bun.
type AuctionRepository struct {
	db *bun.DB
}

var _ auction.Repository = (*AuctionRepository)(nil)

func NewAuctionRepository(db *bun.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// RunInTx runs fn in a serializable transaction. The transaction is always
// released: rolled back on error or panic, committed otherwise.
func (r *AuctionRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx auction.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", database.Classify(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &auctionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", database.Classify(err))
	}
	return nil
}

type auctionTx struct {
	tx bun.Tx
}

func (t *auctionTx) InsertAuction(ctx context.Context, a *auction.Auction) (int64, error) {
	m := toAuctionModel(a)
	if _, err := t.tx.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to create auction: %w", database.Classify(err))
	}
	if m.ID == 0 {
		return 0, fmt.Errorf("insert returned no auction id: %w", auction.ErrIntegrity)
	}
	return m.ID, nil
}

func (t *auctionTx) LoadAuction(ctx context.Context, id int64, tenantID snowflake.ID) (*auction.Auction, error) {
	m := new(models.Auction)
	q := t.tx.NewSelect().Model(m).Where("a.id = ?", id)
	if tenantID != 0 {
		q = q.Where("a.tenant_id = ?", int64(tenantID))
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %d: %w", id, auction.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get auction: %w", database.Classify(err))
	}
	return toAuction(m)
}

func (t *auctionTx) ListLiveAuctions(ctx context.Context, tenantID snowflake.ID, now time.Time) ([]*auction.Auction, error) {
	var rows []*models.Auction
	err := t.tx.NewSelect().
		Model(&rows).
		Where("a.tenant_id = ?", int64(tenantID)).
		Where("a.is_active = ?", true).
		Where("a.end_time > ?", now.UTC()).
		Order("a.end_time ASC", "a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get live auctions: %w", database.Classify(err))
	}

	auctions := make([]*auction.Auction, 0, len(rows))
	for _, m := range rows {
		a, err := toAuction(m)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, nil
}

func (t *auctionTx) UpdateAuctionPrice(ctx context.Context, u auction.PriceUpdate) (bool, error) {
	res, err := t.tx.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("current_price = ?", u.NewPrice).
		Set("current_bidder_id = ?", int64(u.Bidder.ID)).
		Set("current_bidder_name = ?", u.Bidder.Name).
		Set("bid_count = bid_count + 1").
		Where("id = ?", u.AuctionID).
		Where("tenant_id = ?", int64(u.TenantID)).
		Where("current_price = ?", u.ExpectedPrice).
		Where("is_active = ?", true).
		Where("end_time > ?", u.Now.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update auction price: %w", database.Classify(err))
	}
	return affected(res)
}

func (t *auctionTx) AppendBid(ctx context.Context, b *auction.Bid) (int64, error) {
	m := &models.Bid{
		AuctionID:  b.AuctionID,
		TenantID:   int64(b.TenantID),
		BidderID:   int64(b.Bidder.ID),
		BidderName: b.Bidder.Name,
		Amount:     b.Amount,
		Timestamp:  b.Timestamp.UTC(),
	}
	if _, err := t.tx.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to create bid: %w", database.Classify(err))
	}
	if m.ID == 0 {
		return 0, fmt.Errorf("insert returned no bid id: %w", auction.ErrIntegrity)
	}
	return m.ID, nil
}

func (t *auctionTx) ListBids(ctx context.Context, auctionID int64, tenantID snowflake.ID, limit int) ([]*auction.Bid, error) {
	var rows []*models.Bid
	err := t.tx.NewSelect().
		Model(&rows).
		Where("b.auction_id = ?", auctionID).
		Where("b.tenant_id = ?", int64(tenantID)).
		OrderExpr(`b.amount DESC, b."timestamp" DESC, b.id DESC`).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", database.Classify(err))
	}

	bids := make([]*auction.Bid, 0, len(rows))
	for _, m := range rows {
		bids = append(bids, toBid(m))
	}
	if err := checkLedger(auctionID, bids); err != nil {
		return nil, err
	}
	return bids, nil
}

func (t *auctionTx) CloseAuction(ctx context.Context, id int64, tenantID snowflake.ID) (bool, error) {
	res, err := t.tx.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", id).
		Where("tenant_id = ?", int64(tenantID)).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to close auction: %w", database.Classify(err))
	}
	return affected(res)
}

func (t *auctionTx) ClaimAuction(ctx context.Context, id int64, tenantID snowflake.ID) (bool, error) {
	if tenantID == 0 {
		return false, fmt.Errorf("claim for tenant 0: %w", auction.ErrIntegrity)
	}

	res, err := t.tx.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("tenant_id = ?", int64(tenantID)).
		Where("id = ?", id).
		Where("tenant_id = 0").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim auction: %w", database.Classify(err))
	}
	claimed, err := affected(res)
	if err != nil || !claimed {
		return false, err
	}

	_, err = t.tx.NewUpdate().
		Model((*models.Bid)(nil)).
		Set("tenant_id = ?", int64(tenantID)).
		Where("auction_id = ?", id).
		Where("tenant_id = 0").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim auction bids: %w", database.Classify(err))
	}
	return true, nil
}

func (t *auctionTx) ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := t.tx.NewSelect().
		Model((*models.Auction)(nil)).
		Column("a.id").
		Where("a.is_active = ?", true).
		Where("a.end_time <= ?", now.UTC()).
		Order("a.end_time ASC", "a.id ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired auctions: %w", database.Classify(err))
	}
	return ids, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
