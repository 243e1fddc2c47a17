package auction

import "time"

// Options tunes the engine. Zero fields fall back to DefaultOptions; a
// negative BidRetryMax disables retries.
type Options struct {
	BidRetryMax       int
	BidRetryBase      time.Duration
	OperationDeadline time.Duration
	DefaultListBids   int
	MaxListBids       int
	ClosedCacheSize   int
	EventBuffer       int
	Rules             Rules
}

const (
	hardListBidsCap = 100
	searchLimitCap  = 25
)

func DefaultOptions() Options {
	return Options{
		BidRetryMax:       3,
		BidRetryBase:      10 * time.Millisecond,
		OperationDeadline: 5 * time.Second,
		DefaultListBids:   10,
		MaxListBids:       hardListBidsCap,
		ClosedCacheSize:   1024,
		EventBuffer:       1024,
		Rules:             DefaultRules(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BidRetryMax < 0 {
		o.BidRetryMax = 0
	} else if o.BidRetryMax == 0 {
		o.BidRetryMax = d.BidRetryMax
	}
	if o.BidRetryBase <= 0 {
		o.BidRetryBase = d.BidRetryBase
	}
	if o.OperationDeadline <= 0 {
		o.OperationDeadline = d.OperationDeadline
	}
	if o.DefaultListBids <= 0 {
		o.DefaultListBids = d.DefaultListBids
	}
	if o.MaxListBids <= 0 || o.MaxListBids > hardListBidsCap {
		o.MaxListBids = hardListBidsCap
	}
	if o.DefaultListBids > o.MaxListBids {
		o.DefaultListBids = o.MaxListBids
	}
	if o.ClosedCacheSize <= 0 {
		o.ClosedCacheSize = d.ClosedCacheSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	if o.Rules.MinDurationHours <= 0 {
		o.Rules.MinDurationHours = d.Rules.MinDurationHours
	}
	if o.Rules.MaxDurationHours <= 0 {
		o.Rules.MaxDurationHours = d.Rules.MaxDurationHours
	}
	if len(o.Rules.Precision) == 0 {
		o.Rules.Precision = d.Rules.Precision
	}
	return o
}
