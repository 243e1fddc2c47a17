package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID                int64           `bun:"id,pk,autoincrement"`
	TenantID          int64           `bun:"tenant_id,notnull"`
	ItemName          string          `bun:"item_name,notnull"`
	Currency          string          `bun:"currency,notnull"`
	StartingPrice     decimal.Decimal `bun:"starting_price,notnull,type:decimal"`
	Increment         decimal.Decimal `bun:"increment,notnull,type:decimal"`
	DurationHours     int             `bun:"duration_hours,notnull"`
	CreatorID         int64           `bun:"creator_id,notnull"`
	CreatorName       string          `bun:"creator_name,notnull"`
	CreatedAt         time.Time       `bun:"created_at,notnull"`
	EndTime           time.Time       `bun:"end_time,notnull"`
	CurrentPrice      decimal.Decimal `bun:"current_price,notnull,type:decimal"`
	CurrentBidderID   *int64          `bun:"current_bidder_id"`
	CurrentBidderName *string         `bun:"current_bidder_name"`
	IsActive          bool            `bun:"is_active,notnull"`

	// Maintained with every accepted bid; orders lifecycle events.
	BidCount int64 `bun:"bid_count,notnull"`
}

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID         int64           `bun:"id,pk,autoincrement"`
	AuctionID  int64           `bun:"auction_id,notnull"`
	TenantID   int64           `bun:"tenant_id,notnull"`
	BidderID   int64           `bun:"bidder_id,notnull"`
	BidderName string          `bun:"bidder_name,notnull"`
	Amount     decimal.Decimal `bun:"amount,notnull,type:decimal"`
	Timestamp  time.Time       `bun:"timestamp,notnull"`
}

type Meta struct {
	bun.BaseModel `bun:"table:meta"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}
