package auction

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/shopspring/decimal"
)

type Currency string

const (
	CurrencyPrimary   Currency = "primary"
	CurrencySecondary Currency = "secondary"
	CurrencyFiat      Currency = "fiat"
)

// DefaultPrecision lists the decimal places each built-in currency allows.
var DefaultPrecision = map[Currency]int32{
	CurrencyPrimary:   2,
	CurrencySecondary: 2,
	CurrencyFiat:      2,
}

// Actor is an opaque user identity passed through from the chat platform.
type Actor struct {
	ID   snowflake.ID
	Name string
}

type Auction struct {
	ID            int64
	TenantID      snowflake.ID
	ItemName      string
	Currency      Currency
	StartingPrice decimal.Decimal
	Increment     decimal.Decimal
	DurationHours int
	Creator       Actor
	CreatedAt     time.Time
	EndTime       time.Time
	CurrentPrice  decimal.Decimal
	Leader        *Actor
	IsActive      bool
	BidCount      int64
}

// IsLive reports whether the auction still accepts bids at now.
func (a *Auction) IsLive(now time.Time) bool {
	return a.IsActive && a.EndTime.After(now)
}

// MinimumBid is the lowest amount the next bid may offer.
func (a *Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.Increment)
}

func (a *Auction) clone() *Auction {
	c := *a
	if a.Leader != nil {
		leader := *a.Leader
		c.Leader = &leader
	}
	return &c
}

type Bid struct {
	ID        int64
	AuctionID int64
	TenantID  snowflake.ID
	Bidder    Actor
	Amount    decimal.Decimal
	Timestamp time.Time
}

// PriceUpdate is a compare-and-swap on an auction's price. It only applies
// while current_price equals ExpectedPrice and the auction is live at Now.
type PriceUpdate struct {
	AuctionID     int64
	TenantID      snowflake.ID
	NewPrice      decimal.Decimal
	Bidder        Actor
	ExpectedPrice decimal.Decimal
	Now           time.Time
}
