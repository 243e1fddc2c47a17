package repositories

import (
	"fmt"

	"github.com/disgoorg/snowflake/v2"

	"github.com/gohye/auction-core/internal/domain/auction"
	"github.com/gohye/auction-core/internal/gateways/database/models"
)

func toAuctionModel(a *auction.Auction) *models.Auction {
	m := &models.Auction{
		ID:            a.ID,
		TenantID:      int64(a.TenantID),
		ItemName:      a.ItemName,
		Currency:      string(a.Currency),
		StartingPrice: a.StartingPrice,
		Increment:     a.Increment,
		DurationHours: a.DurationHours,
		CreatorID:     int64(a.Creator.ID),
		CreatorName:   a.Creator.Name,
		CreatedAt:     a.CreatedAt.UTC(),
		EndTime:       a.EndTime.UTC(),
		CurrentPrice:  a.CurrentPrice,
		IsActive:      a.IsActive,
		BidCount:      a.BidCount,
	}
	if a.Leader != nil {
		id := int64(a.Leader.ID)
		name := a.Leader.Name
		m.CurrentBidderID = &id
		m.CurrentBidderName = &name
	}
	return m
}

// toAuction maps a row and rejects rows that break the auction invariants.
// Broken rows are never repaired here.
func toAuction(m *models.Auction) (*auction.Auction, error) {
	a := &auction.Auction{
		ID:            m.ID,
		TenantID:      snowflake.ID(m.TenantID),
		ItemName:      m.ItemName,
		Currency:      auction.Currency(m.Currency),
		StartingPrice: m.StartingPrice,
		Increment:     m.Increment,
		DurationHours: m.DurationHours,
		Creator:       auction.Actor{ID: snowflake.ID(m.CreatorID), Name: m.CreatorName},
		CreatedAt:     m.CreatedAt.UTC(),
		EndTime:       m.EndTime.UTC(),
		CurrentPrice:  m.CurrentPrice,
		IsActive:      m.IsActive,
		BidCount:      m.BidCount,
	}

	if (m.CurrentBidderID == nil) != (m.CurrentBidderName == nil) {
		return nil, integrityError(m.ID, "bidder id and name must both be set or both be null")
	}
	if m.CurrentBidderID != nil {
		a.Leader = &auction.Actor{ID: snowflake.ID(*m.CurrentBidderID), Name: *m.CurrentBidderName}
	}

	switch {
	case a.CurrentPrice.LessThan(a.StartingPrice):
		return nil, integrityError(m.ID, "current price %s below starting price %s", a.CurrentPrice, a.StartingPrice)
	case a.Leader == nil && !a.CurrentPrice.Equal(a.StartingPrice):
		return nil, integrityError(m.ID, "price moved to %s without a bidder", a.CurrentPrice)
	case a.Leader != nil && a.Leader.ID == a.Creator.ID:
		return nil, integrityError(m.ID, "creator is the current bidder")
	}
	return a, nil
}

func toBid(m *models.Bid) *auction.Bid {
	return &auction.Bid{
		ID:        m.ID,
		AuctionID: m.AuctionID,
		TenantID:  snowflake.ID(m.TenantID),
		Bidder:    auction.Actor{ID: snowflake.ID(m.BidderID), Name: m.BidderName},
		Amount:    m.Amount,
		Timestamp: m.Timestamp.UTC(),
	}
}

// checkLedger verifies that bids listed highest first are strictly decreasing.
func checkLedger(auctionID int64, bids []*auction.Bid) error {
	for i := 1; i < len(bids); i++ {
		if !bids[i].Amount.LessThan(bids[i-1].Amount) {
			return integrityError(auctionID, "bid ledger amounts are not strictly increasing")
		}
	}
	return nil
}

func integrityError(id int64, format string, args ...any) error {
	return fmt.Errorf("auction %d: %s: %w", id, fmt.Sprintf(format, args...), auction.ErrIntegrity)
}
