package auction

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Repository opens serializable transactions on the auction store. The
// transaction is rolled back when fn returns an error and committed
// otherwise.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the store operations available inside a transaction. Failures
// wrap ErrNotFound, ErrTransient or ErrIntegrity where they apply.
type Tx interface {
	InsertAuction(ctx context.Context, a *Auction) (int64, error)
	// LoadAuction is tenant scoped; tenantID 0 looks the auction up by id only.
	LoadAuction(ctx context.Context, id int64, tenantID snowflake.ID) (*Auction, error)
	ListLiveAuctions(ctx context.Context, tenantID snowflake.ID, now time.Time) ([]*Auction, error)
	// UpdateAuctionPrice applies u and increments the bid count. It returns
	// false when the compare-and-swap did not match.
	UpdateAuctionPrice(ctx context.Context, u PriceUpdate) (bool, error)
	AppendBid(ctx context.Context, b *Bid) (int64, error)
	ListBids(ctx context.Context, auctionID int64, tenantID snowflake.ID, limit int) ([]*Bid, error)
	// CloseAuction marks an active auction inactive. It returns false when it
	// was already closed.
	CloseAuction(ctx context.Context, id int64, tenantID snowflake.ID) (bool, error)
	// ClaimAuction assigns tenantID to an auction whose tenant is still 0.
	ClaimAuction(ctx context.Context, id int64, tenantID snowflake.ID) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}
