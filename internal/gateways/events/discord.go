package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/gohye/auction-core/internal/domain/auction"
)

const recentlyPostedSize = 4096

// MessageCreator is the part of the Discord REST client the audit sink uses.
type MessageCreator interface {
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

// DiscordSink posts a line per event to an audit channel. Discord has no
// idempotency keys, so recently posted events are remembered and skipped.
type DiscordSink struct {
	client    MessageCreator
	channelID snowflake.ID
	posted    *lru.Cache
}

func NewDiscordSink(client MessageCreator, channelID snowflake.ID) (*DiscordSink, error) {
	posted, err := lru.New(recentlyPostedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord dedupe cache: %w", err)
	}
	return &DiscordSink{client: client, channelID: channelID, posted: posted}, nil
}

// NewDiscordRest builds a REST client authenticated with a bot token.
func NewDiscordRest(token string) rest.Rest {
	return rest.New(rest.NewClient(token))
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Publish(ctx context.Context, e auction.Event) error {
	key := e.DedupeKey()
	if s.posted.Contains(key) {
		return nil
	}

	_, err := s.client.CreateMessage(s.channelID, discord.NewMessageCreateBuilder().
		SetContent(auditLine(e)).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to post %s to channel %s: %w", key, s.channelID, err)
	}
	s.posted.Add(key, struct{}{})

	slog.Debug("Posted auction event to Discord",
		slog.String("type", "event"),
		slog.String("key", key),
	)
	return nil
}

func auditLine(e auction.Event) string {
	switch e.Type {
	case auction.EventCreated:
		if e.EndTime != nil {
			return fmt.Sprintf("[NEW] Auction #%d opened, ends <t:%d:R>", e.AuctionID, e.EndTime.Unix())
		}
		return fmt.Sprintf("[NEW] Auction #%d opened", e.AuctionID)
	case auction.EventBid:
		amount := "?"
		if e.Amount != nil {
			amount = e.Amount.String()
		}
		return fmt.Sprintf("[BID] <@%s> placed a bid of %s on Auction #%d", e.BidderID, amount, e.AuctionID)
	case auction.EventClosed:
		return fmt.Sprintf("[END] Auction #%d closed (%s)", e.AuctionID, e.Reason)
	case auction.EventExpired:
		return fmt.Sprintf("[EXPIRED] Auction #%d ran out of time", e.AuctionID)
	}
	return fmt.Sprintf("[%s] Auction #%d", e.Type, e.AuctionID)
}
