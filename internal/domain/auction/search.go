package auction

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/sahilm/fuzzy"
)

type auctionSource []*Auction

func (s auctionSource) String(i int) string { return strings.ToLower(s[i].ItemName) }
func (s auctionSource) Len() int            { return len(s) }

// SearchLiveAuctions fuzzy-matches query against the item names of the
// tenant's live auctions, best match first. An empty query lists auctions
// ending soonest.
func (e *Engine) SearchLiveAuctions(ctx context.Context, tenantID snowflake.ID, query string, limit int) ([]*Auction, error) {
	if limit <= 0 || limit > searchLimitCap {
		limit = searchLimitCap
	}

	live, err := e.ListLiveAuctions(ctx, tenantID)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			de.Op = "SearchLiveAuctions"
		}
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return truncate(live, limit), nil
	}

	matches := fuzzy.FindFrom(query, auctionSource(live))
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return live[matches[i].Index].EndTime.Before(live[matches[j].Index].EndTime)
	})

	results := make([]*Auction, 0, len(matches))
	for _, m := range matches {
		results = append(results, live[m.Index])
	}
	return truncate(results, limit), nil
}

func truncate(auctions []*Auction, limit int) []*Auction {
	if len(auctions) > limit {
		return auctions[:limit]
	}
	return auctions
}
