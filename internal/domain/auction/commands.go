package auction

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/shopspring/decimal"
)

// AuctionSpec is the user input for CreateAuction.
type AuctionSpec struct {
	ItemName      string
	StartingPrice decimal.Decimal
	Increment     decimal.Decimal
	DurationHours int
	Currency      Currency
}

// PlacedBid is returned for an accepted bid.
type PlacedBid struct {
	BidID          int64
	AuctionID      int64
	Amount         decimal.Decimal
	Timestamp      time.Time
	EndTime        time.Time
	PreviousLeader *Actor
}

// Service is the transport-agnostic surface consumed by chat adapters. Every
// error it returns is an *Error.
type Service interface {
	CreateAuction(ctx context.Context, tenantID snowflake.ID, creator Actor, spec AuctionSpec) (int64, error)
	PlaceBid(ctx context.Context, tenantID snowflake.ID, bidder Actor, auctionID int64, amount decimal.Decimal) (*PlacedBid, error)
	GetAuction(ctx context.Context, tenantID snowflake.ID, id int64) (*Auction, error)
	ListLiveAuctions(ctx context.Context, tenantID snowflake.ID) ([]*Auction, error)
	SearchLiveAuctions(ctx context.Context, tenantID snowflake.ID, query string, limit int) ([]*Auction, error)
	ListBids(ctx context.Context, tenantID snowflake.ID, auctionID int64, limit int) ([]*Bid, error)
	CloseAuction(ctx context.Context, tenantID snowflake.ID, id int64, actor Actor) (bool, error)
	ClaimAuction(ctx context.Context, tenantID snowflake.ID, id int64) (bool, error)
}

var _ Service = (*Engine)(nil)
