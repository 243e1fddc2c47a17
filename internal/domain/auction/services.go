package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/gohye/auction-core/internal/clock"
	"github.com/gohye/auction-core/internal/logger"
	"github.com/gohye/auction-core/internal/metrics"
)

type EngineConfig struct {
	Repository Repository
	Clock      clock.Clock
	Options    Options
	Sinks      []EventSink
	Metrics    *metrics.Collector
}

// Engine runs auctions on top of a Repository. It keeps no auction state
// between calls apart from the per-auction lock table and a cache of closed
// auctions, which never change again.
type Engine struct {
	repo        Repository
	clock       clock.Clock
	opts        Options
	rules       Rules
	locks       *lockTable
	retryPolicy retrypolicy.RetryPolicy[any]
	closed      *lru.Cache
	events      *dispatcher
	metrics     *metrics.Collector

	hookMu    sync.RWMutex
	onCreated func(endTime time.Time)
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Repository == nil {
		return nil, errors.New("auction engine requires a repository")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	opts := cfg.Options.withDefaults()

	cache, err := lru.New(opts.ClosedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create closed auction cache: %w", err)
	}

	e := &Engine{
		repo:    cfg.Repository,
		clock:   cfg.Clock,
		opts:    opts,
		rules:   opts.Rules,
		locks:   newLockTable(),
		closed:  cache,
		metrics: cfg.Metrics,
	}
	e.retryPolicy = newRetryPolicy(opts.BidRetryMax, opts.BidRetryBase, cfg.Metrics.StoreRetried)
	if len(cfg.Sinks) > 0 {
		e.events = newDispatcher(cfg.Sinks, opts.EventBuffer, cfg.Metrics)
	}
	return e, nil
}

// Close flushes pending events. The repository is left open.
func (e *Engine) Close() {
	if e.events != nil {
		e.events.stop()
	}
}

func (e *Engine) CreateAuction(ctx context.Context, tenantID snowflake.ID, creator Actor, spec AuctionSpec) (int64, error) {
	const op = "CreateAuction"

	spec, err := e.rules.ValidateCreate(tenantID, creator, spec)
	if err != nil {
		return 0, err
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	now := e.clock.Now()
	a := &Auction{
		TenantID:      tenantID,
		ItemName:      spec.ItemName,
		Currency:      spec.Currency,
		StartingPrice: spec.StartingPrice,
		Increment:     spec.Increment,
		DurationHours: spec.DurationHours,
		Creator:       creator,
		CreatedAt:     now,
		EndTime:       Expires(now, spec.DurationHours),
		CurrentPrice:  spec.StartingPrice,
		IsActive:      true,
	}

	// The new auction's lock is taken before commit and held until the
	// created event is queued, so no bid event can overtake it.
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()
	err = e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			if release != nil {
				release()
				release = nil
			}
			id, err := tx.InsertAuction(ctx, a)
			if err != nil {
				return err
			}
			if release, err = e.lock(ctx, op, id); err != nil {
				return err
			}
			a.ID = id
			return nil
		})
	})
	if err != nil {
		return 0, e.fail(ctx, op, 0, tenantID, err)
	}

	e.metrics.AuctionCreated()
	end := a.EndTime
	e.emit(Event{
		Type:      EventCreated,
		AuctionID: a.ID,
		TenantID:  tenantID,
		Sequence:  0,
		EndTime:   &end,
	})
	release()
	release = nil
	e.notifyCreated(a)

	slog.Info("Auction created",
		slog.String("type", "op"),
		slog.Int64("auction_id", a.ID),
		slog.Uint64("tenant_id", uint64(tenantID)),
		slog.String("item", a.ItemName),
		slog.Time("end_time", a.EndTime),
	)
	return a.ID, nil
}

func (e *Engine) PlaceBid(ctx context.Context, tenantID snowflake.ID, bidder Actor, auctionID int64, amount decimal.Decimal) (*PlacedBid, error) {
	start := e.clock.Monotonic()
	placed, err := e.placeBid(ctx, tenantID, bidder, auctionID, amount)
	logger.LogOperation("PlaceBid", e.clock.Monotonic()-start, err,
		slog.Int64("auction_id", auctionID),
		slog.Uint64("tenant_id", uint64(tenantID)),
		slog.Uint64("bidder_id", uint64(bidder.ID)),
		slog.String("amount", amount.String()),
	)
	return placed, err
}

func (e *Engine) placeBid(ctx context.Context, tenantID snowflake.ID, bidder Actor, auctionID int64, amount decimal.Decimal) (*PlacedBid, error) {
	const op = "PlaceBid"

	if tenantID == 0 {
		return nil, newError(KindInvalid, op, "bids must be placed inside a server")
	}
	if bidder.ID == 0 {
		return nil, newError(KindInvalid, op, "bidder is required")
	}
	if !amount.IsPositive() {
		return nil, newError(KindInvalid, op, "bid amount must be greater than zero")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	release, err := e.lock(ctx, op, auctionID)
	if err != nil {
		e.metrics.ObserveBid(metrics.BidBusy)
		return nil, err
	}
	defer release()

	if _, err := e.resolveTenant(ctx, op, tenantID, auctionID); err != nil {
		e.metrics.ObserveBid(bidResult(err))
		return nil, err
	}

	var (
		placed   *PlacedBid
		sequence int64
	)
	err = e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			a, err := tx.LoadAuction(ctx, auctionID, tenantID)
			if err != nil {
				return err
			}

			now := e.clock.Now()
			if err := e.rules.ValidateBid(a, bidder, amount, now); err != nil {
				return err
			}

			ok, err := tx.UpdateAuctionPrice(ctx, PriceUpdate{
				AuctionID:     auctionID,
				TenantID:      tenantID,
				NewPrice:      amount,
				Bidder:        bidder,
				ExpectedPrice: a.CurrentPrice,
				Now:           now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errCASLost
			}

			bidID, err := tx.AppendBid(ctx, &Bid{
				AuctionID: auctionID,
				TenantID:  tenantID,
				Bidder:    bidder,
				Amount:    amount,
				Timestamp: now,
			})
			if err != nil {
				return err
			}

			placed = &PlacedBid{
				BidID:          bidID,
				AuctionID:      auctionID,
				Amount:         amount,
				Timestamp:      now,
				EndTime:        a.EndTime,
				PreviousLeader: a.Leader,
			}
			sequence = a.BidCount + 1
			return nil
		})
	})
	if err != nil {
		err = e.fail(ctx, op, auctionID, tenantID, err)
		e.metrics.ObserveBid(bidResult(err))
		return nil, err
	}

	e.metrics.ObserveBid(metrics.BidAccepted)
	price := amount
	e.emit(Event{
		Type:       EventBid,
		AuctionID:  auctionID,
		TenantID:   tenantID,
		Sequence:   sequence,
		BidderID:   bidder.ID,
		Amount:     &amount,
		PriceAfter: &price,
	})
	return placed, nil
}

func (e *Engine) GetAuction(ctx context.Context, tenantID snowflake.ID, id int64) (*Auction, error) {
	const op = "GetAuction"

	if tenantID == 0 {
		return nil, newError(KindInvalid, op, "a server is required")
	}
	if cached, ok := e.cachedClosed(id); ok && cached.TenantID == tenantID {
		return cached, nil
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	a, err := e.loadScoped(ctx, op, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		e.closed.Add(a.ID, a.clone())
	}
	return a, nil
}

func (e *Engine) ListLiveAuctions(ctx context.Context, tenantID snowflake.ID) ([]*Auction, error) {
	const op = "ListLiveAuctions"

	if tenantID == 0 {
		return nil, newError(KindInvalid, op, "a server is required")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	var auctions []*Auction
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			auctions, err = tx.ListLiveAuctions(ctx, tenantID, e.clock.Now())
			return err
		})
	})
	if err != nil {
		return nil, e.fail(ctx, op, 0, tenantID, err)
	}
	return auctions, nil
}

// ListBids returns up to limit bids, highest first. A non-positive limit uses
// the configured default; larger limits are capped.
func (e *Engine) ListBids(ctx context.Context, tenantID snowflake.ID, auctionID int64, limit int) ([]*Bid, error) {
	const op = "ListBids"

	if tenantID == 0 {
		return nil, newError(KindInvalid, op, "a server is required")
	}
	switch {
	case limit <= 0:
		limit = e.opts.DefaultListBids
	case limit > e.opts.MaxListBids:
		limit = e.opts.MaxListBids
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	if _, err := e.loadScoped(ctx, op, tenantID, auctionID); err != nil {
		return nil, err
	}

	var bids []*Bid
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			bids, err = tx.ListBids(ctx, auctionID, tenantID, limit)
			return err
		})
	})
	if err != nil {
		return nil, e.fail(ctx, op, auctionID, tenantID, err)
	}
	return bids, nil
}

// CloseAuction ends an auction on behalf of its creator. It returns false if
// the auction was already closed.
func (e *Engine) CloseAuction(ctx context.Context, tenantID snowflake.ID, id int64, actor Actor) (bool, error) {
	const op = "CloseAuction"

	if tenantID == 0 {
		return false, newError(KindInvalid, op, "a server is required")
	}
	if actor.ID == 0 {
		return false, newError(KindInvalid, op, "actor is required")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	release, err := e.lock(ctx, op, id)
	if err != nil {
		return false, err
	}
	defer release()

	a, err := e.resolveTenant(ctx, op, tenantID, id)
	if err != nil {
		return false, err
	}
	if a.Creator.ID != actor.ID {
		return false, newError(KindForbidden, op, "only the creator can close auction #%d", id)
	}

	reason := ReasonCreator
	if !a.EndTime.After(e.clock.Now()) {
		reason = ReasonExpired
	}
	return e.finish(ctx, op, a.TenantID, id, reason, false)
}

// ClaimAuction assigns an unclaimed auction to tenantID. Only the first
// claim succeeds.
func (e *Engine) ClaimAuction(ctx context.Context, tenantID snowflake.ID, id int64) (bool, error) {
	const op = "ClaimAuction"

	if tenantID == 0 {
		return false, newError(KindInvalid, op, "a server is required")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	release, err := e.lock(ctx, op, id)
	if err != nil {
		return false, err
	}
	defer release()

	_, claimed, err := e.claim(ctx, op, tenantID, id)
	return claimed, err
}

// closeExpired is the sweeper's close path. It skips auctions that are
// already closed or not yet past their end time.
func (e *Engine) closeExpired(ctx context.Context, id int64) (bool, error) {
	const op = "SweepExpired"

	release, err := e.lock(ctx, op, id)
	if err != nil {
		return false, err
	}
	defer release()

	var a *Auction
	err = e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			a, err = tx.LoadAuction(ctx, id, 0)
			return err
		})
	})
	if err != nil {
		return false, e.fail(ctx, op, id, 0, err)
	}
	if !a.IsActive || a.EndTime.After(e.clock.Now()) {
		return false, nil
	}
	return e.finish(ctx, op, a.TenantID, id, ReasonSweeper, true)
}

// finish flips is_active under the caller's lock and emits the closing events.
func (e *Engine) finish(ctx context.Context, op string, tenantID snowflake.ID, id int64, reason CloseReason, expired bool) (bool, error) {
	var (
		closed bool
		a      *Auction
	)
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			if a, err = tx.LoadAuction(ctx, id, tenantID); err != nil {
				return err
			}
			if closed, err = tx.CloseAuction(ctx, id, tenantID); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return false, e.fail(ctx, op, id, tenantID, err)
	}
	if !closed {
		return false, nil
	}

	a.IsActive = false
	e.closed.Add(id, a.clone())
	e.metrics.AuctionClosed(string(reason))

	e.emit(Event{
		Type:      EventClosed,
		AuctionID: id,
		TenantID:  tenantID,
		Sequence:  a.BidCount + 1,
		Reason:    reason,
	})
	if expired {
		e.emit(Event{
			Type:      EventExpired,
			AuctionID: id,
			TenantID:  tenantID,
			Sequence:  a.BidCount + 2,
			Reason:    ReasonExpired,
		})
	}

	slog.Info("Auction closed",
		slog.String("type", "op"),
		slog.Int64("auction_id", id),
		slog.Uint64("tenant_id", uint64(tenantID)),
		slog.String("reason", string(reason)),
	)
	return true, nil
}

// loadScoped reads an auction visible to tenantID. Unclaimed auctions are
// claimed first; auctions owned by other tenants are reported as missing.
func (e *Engine) loadScoped(ctx context.Context, op string, tenantID snowflake.ID, id int64) (*Auction, error) {
	var a *Auction
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			a, err = tx.LoadAuction(ctx, id, 0)
			return err
		})
	})
	if err != nil {
		return nil, e.fail(ctx, op, id, tenantID, err)
	}

	switch a.TenantID {
	case tenantID:
		return a, nil
	case 0:
		release, err := e.lock(ctx, op, id)
		if err != nil {
			return nil, err
		}
		defer release()
		a, err = e.resolveTenant(ctx, op, tenantID, id)
		if IsForbidden(err) {
			return nil, newError(KindNotFound, op, "auction #%d not found", id)
		}
		return a, err
	default:
		return nil, newError(KindNotFound, op, "auction #%d not found", id)
	}
}

// resolveTenant loads the auction for a mutating call, claiming it for
// tenantID when it is still unclaimed. Must be called with the auction lock
// held.
func (e *Engine) resolveTenant(ctx context.Context, op string, tenantID snowflake.ID, id int64) (*Auction, error) {
	a, _, err := e.claim(ctx, op, tenantID, id)
	if err != nil {
		return nil, err
	}
	if a.TenantID != tenantID {
		return nil, newError(KindForbidden, op, "auction #%d belongs to another server", id)
	}
	return a, nil
}

// claim commits the 0 -> tenantID transition on its own, so the claim
// survives a later failure of the operation that triggered it.
func (e *Engine) claim(ctx context.Context, op string, tenantID snowflake.ID, id int64) (*Auction, bool, error) {
	var (
		a       *Auction
		claimed bool
	)
	err := e.retrying(ctx, func() error {
		return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			if a, err = tx.LoadAuction(ctx, id, 0); err != nil {
				return err
			}
			claimed = false
			if a.TenantID != 0 {
				return nil
			}
			if claimed, err = tx.ClaimAuction(ctx, id, tenantID); err != nil {
				return err
			}
			if claimed {
				a.TenantID = tenantID
				return nil
			}
			a, err = tx.LoadAuction(ctx, id, 0)
			return err
		})
	})
	if err != nil {
		return nil, false, e.fail(ctx, op, id, tenantID, err)
	}

	if claimed {
		e.metrics.AuctionClaimed()
		slog.Info("Auction claimed",
			slog.String("type", "op"),
			slog.Int64("auction_id", id),
			slog.Uint64("tenant_id", uint64(tenantID)),
		)
	}
	return a, claimed, nil
}

func (e *Engine) lock(ctx context.Context, op string, id int64) (func(), error) {
	start := e.clock.Monotonic()
	release, err := e.locks.acquire(ctx, id)
	e.metrics.ObserveLockWait(e.clock.Monotonic() - start)
	if err != nil {
		return nil, &Error{Kind: KindBusy, Op: op, Msg: "auction is busy, try again", Err: err}
	}
	return release, nil
}

func (e *Engine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.OperationDeadline)
}

func (e *Engine) cachedClosed(id int64) (*Auction, bool) {
	v, ok := e.closed.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Auction).clone(), true
}

func (e *Engine) setCreatedHook(fn func(endTime time.Time)) {
	e.hookMu.Lock()
	e.onCreated = fn
	e.hookMu.Unlock()
}

func (e *Engine) notifyCreated(a *Auction) {
	e.hookMu.RLock()
	fn := e.onCreated
	e.hookMu.RUnlock()
	if fn != nil {
		fn(a.EndTime)
	}
}

func (e *Engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	ev.ID = uuid.New()
	ev.OccurredAt = e.clock.Now()
	e.events.enqueue(ev)
}

// fail converts a store or context error into an *Error. Internal failures
// are logged here with their cause; callers only see an opaque message.
func (e *Engine) fail(ctx context.Context, op string, auctionID int64, tenantID snowflake.ID, err error) error {
	var domainErr *Error
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case ctx.Err() != nil || isContextErr(err):
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return &Error{Kind: KindBusy, Op: op, Msg: "operation timed out, try again", Err: cause}
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("auction #%d not found", auctionID), Err: err}
	case errors.Is(err, errCASLost):
		return &Error{Kind: KindConflict, Op: op, Msg: "the price changed, bid again with a higher amount", Err: err}
	case errors.Is(err, ErrTransient):
		return &Error{Kind: KindBusy, Op: op, Msg: "auctions are busy, try again shortly", Err: err}
	}

	slog.Error("Auction operation failed",
		slog.String("type", "error"),
		slog.String("op", op),
		slog.Int64("auction_id", auctionID),
		slog.Uint64("tenant_id", uint64(tenantID)),
		slog.Any("error", err),
	)
	return &Error{Kind: KindInternal, Op: op, Msg: "internal error", Err: err}
}

func bidResult(err error) string {
	switch KindOf(err) {
	case KindConflict:
		return metrics.BidConflict
	case KindBusy:
		return metrics.BidBusy
	case KindInternal:
		return metrics.BidError
	default:
		return metrics.BidRejected
	}
}
