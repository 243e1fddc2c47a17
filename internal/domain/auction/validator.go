package auction

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/shopspring/decimal"
)

const (
	maxItemNameLength = 100

	// Amounts are bounded to what every store keeps exactly. SQLite holds
	// fractional DECIMAL values as doubles, which are exact to 15
	// significant digits.
	maxSignificantDigits = 15
)

var maxAmount = decimal.New(1, maxSignificantDigits)

// Rules holds the validation limits. Every method is pure.
type Rules struct {
	MinDurationHours int
	MaxDurationHours int
	Precision        map[Currency]int32
}

func DefaultRules() Rules {
	return Rules{
		MinDurationHours: 1,
		MaxDurationHours: 168,
		Precision:        DefaultPrecision,
	}
}

// CheckPrecision fails when amount has more decimal places than currency allows.
func (r Rules) CheckPrecision(op string, currency Currency, amount decimal.Decimal) error {
	places, ok := r.Precision[currency]
	if !ok {
		return newError(KindInvalid, op, "unsupported currency %q", currency)
	}
	if !amount.Truncate(places).Equal(amount) {
		return newError(KindInvalid, op, "%s allows at most %d decimal places", currency, places)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return newError(KindInvalid, op, "amount must be below %s", maxAmount.String())
	}
	if significantDigits(amount) > maxSignificantDigits {
		return newError(KindInvalid, op, "amount must have at most %d significant digits", maxSignificantDigits)
	}
	return nil
}

func significantDigits(d decimal.Decimal) int {
	digits := strings.Trim(d.Coefficient().String(), "-0")
	return len(digits)
}

// ValidateCreate checks a new auction and returns the normalised spec.
func (r Rules) ValidateCreate(tenantID snowflake.ID, creator Actor, spec AuctionSpec) (AuctionSpec, error) {
	const op = "CreateAuction"

	if tenantID == 0 {
		return spec, newError(KindInvalid, op, "auctions must be created inside a server")
	}
	if creator.ID == 0 {
		return spec, newError(KindInvalid, op, "creator is required")
	}

	spec.ItemName = strings.TrimSpace(spec.ItemName)
	if spec.ItemName == "" {
		return spec, newError(KindInvalid, op, "item name is required")
	}
	if utf8.RuneCountInString(spec.ItemName) > maxItemNameLength {
		return spec, newError(KindInvalid, op, "item name must be at most %d characters", maxItemNameLength)
	}

	if spec.Currency == "" {
		spec.Currency = CurrencyPrimary
	}
	if _, ok := r.Precision[spec.Currency]; !ok {
		return spec, newError(KindInvalid, op, "unsupported currency %q", spec.Currency)
	}

	if !spec.StartingPrice.IsPositive() {
		return spec, newError(KindInvalid, op, "starting price must be greater than zero")
	}
	if !spec.Increment.IsPositive() {
		return spec, newError(KindInvalid, op, "increment must be greater than zero")
	}
	if err := r.CheckPrecision(op, spec.Currency, spec.StartingPrice); err != nil {
		return spec, err
	}
	if err := r.CheckPrecision(op, spec.Currency, spec.Increment); err != nil {
		return spec, err
	}

	if spec.DurationHours < r.MinDurationHours || spec.DurationHours > r.MaxDurationHours {
		return spec, newError(KindInvalid, op, "duration must be between %d and %d hours",
			r.MinDurationHours, r.MaxDurationHours)
	}
	return spec, nil
}

// ValidateBid checks a bid against the auction as loaded at now. Tenant
// matching is resolved by the engine before this runs.
func (r Rules) ValidateBid(a *Auction, bidder Actor, amount decimal.Decimal, now time.Time) error {
	const op = "PlaceBid"

	if !a.IsLive(now) {
		return newError(KindExpired, op, "auction #%d has ended", a.ID)
	}
	if bidder.ID == a.Creator.ID {
		return newError(KindForbidden, op, "you cannot bid on your own auction")
	}
	if a.Leader != nil && bidder.ID == a.Leader.ID {
		return newError(KindForbidden, op, "you are already the highest bidder")
	}
	if err := r.CheckPrecision(op, a.Currency, amount); err != nil {
		return err
	}
	if minimum := a.MinimumBid(); amount.LessThan(minimum) {
		places := r.Precision[a.Currency]
		return newError(KindInvalid, op, "bid must be at least %s", minimum.StringFixed(places))
	}
	return nil
}

// Expires returns the end time of an auction created at createdAt.
func Expires(createdAt time.Time, durationHours int) time.Time {
	return createdAt.Add(time.Duration(durationHours) * time.Hour)
}
