package events

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gohye/auction-core/internal/domain/auction"
)

const DefaultArchiveCollection = "auction_events"

// DocumentUpdater is satisfied by *mongo.Collection.
type DocumentUpdater interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// MongoSink archives events, one document per dedupe key. Replays hit the
// existing document and change nothing.
type MongoSink struct {
	coll DocumentUpdater
}

func NewMongoSink(coll DocumentUpdater) *MongoSink {
	return &MongoSink{coll: coll}
}

// ConnectMongo connects and pings the deployment at uri.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

type eventDocument struct {
	EventID    string                `bson:"event_id"`
	Type       string                `bson:"type"`
	AuctionID  int64                 `bson:"auction_id"`
	TenantID   int64                 `bson:"tenant_id"`
	Sequence   int64                 `bson:"sequence"`
	OccurredAt time.Time             `bson:"occurred_at"`
	EndTime    *time.Time            `bson:"end_time,omitempty"`
	BidderID   int64                 `bson:"bidder_id,omitempty"`
	Amount     *primitive.Decimal128 `bson:"amount,omitempty"`
	Reason     string                `bson:"reason,omitempty"`
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Publish(ctx context.Context, e auction.Event) error {
	doc, err := toDocument(e)
	if err != nil {
		return err
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": e.DedupeKey()},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", e.DedupeKey(), err)
	}
	return nil
}

func toDocument(e auction.Event) (eventDocument, error) {
	doc := eventDocument{
		EventID:    e.ID.String(),
		Type:       string(e.Type),
		AuctionID:  e.AuctionID,
		TenantID:   int64(e.TenantID),
		Sequence:   e.Sequence,
		OccurredAt: e.OccurredAt,
		EndTime:    e.EndTime,
		BidderID:   int64(e.BidderID),
		Reason:     string(e.Reason),
	}
	if e.Amount != nil {
		amount, err := primitive.ParseDecimal128(e.Amount.String())
		if err != nil {
			return doc, fmt.Errorf("failed to convert amount %s: %w", e.Amount, err)
		}
		doc.Amount = &amount
	}
	return doc, nil
}
