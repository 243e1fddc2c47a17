package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), got)

	got = Options{
		BidRetryMax:     -1,
		DefaultListBids: 500,
		MaxListBids:     1000,
		Rules:           Rules{MaxDurationHours: 48},
	}.withDefaults()
	assert.Equal(t, 0, got.BidRetryMax)
	assert.Equal(t, hardListBidsCap, got.MaxListBids)
	assert.Equal(t, hardListBidsCap, got.DefaultListBids)
	assert.Equal(t, 48, got.Rules.MaxDurationHours)
	assert.Equal(t, 1, got.Rules.MinDurationHours)
	assert.Equal(t, 10*time.Millisecond, got.BidRetryBase)
}
