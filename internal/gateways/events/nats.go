package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/gohye/auction-core/internal/domain/auction"
)

const DefaultSubjectPrefix = "auctions"

// MsgPublisher is satisfied by *nats.Conn.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes each event on <prefix>.<tenant>.<type>. The dedupe key
// travels in the Nats-Msg-Id header so a JetStream stream drops redeliveries.
type NATSSink struct {
	conn   MsgPublisher
	prefix string
}

func NewNATSSink(conn MsgPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// ConnectNATS dials the server at url.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("auction-core"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(e auction.Event) string {
	return fmt.Sprintf("%s.%d.%s", s.prefix, e.TenantID, e.Type)
}

func (s *NATSSink) Publish(ctx context.Context, e auction.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(e)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(s.Subject(e))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.DedupeKey())
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}

	slog.Debug("Published auction event to NATS",
		slog.String("type", "event"),
		slog.String("subject", msg.Subject),
	)
	return nil
}
