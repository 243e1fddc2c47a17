// Package events holds the EventSink implementations that fan auction
// lifecycle events out to external systems.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/gohye/auction-core/internal/domain/auction"
)

func encode(e auction.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event for auction %d: %w", e.Type, e.AuctionID, err)
	}
	return data, nil
}
