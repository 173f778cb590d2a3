package eventbus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// NatsBus is the production Bus. It speaks core NATS pub/sub instead
// of JetStream: fan-out here is ephemeral, the client's own
// GET /documents/sync endpoint is the durable catch-up path, so paying
// for a JetStream stream per channel would be redundant durability.
type NatsBus struct {
	nc        *nats.Conn
	embedded  *server.Server
	closeFunc func()
}

// Connect dials an external NATS server at url.
func Connect(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url, nats.ReconnectWait(1), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	return &NatsBus{nc: nc, closeFunc: nc.Close}, nil
}

// ConnectEmbedded starts an in-process NATS server and connects to it,
// for single-binary deployments and local development that don't want
// to run a separate broker.
func ConnectEmbedded() (*NatsBus, error) {
	opts := &server.Options{
		DontListen: true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("eventbus: embedded server: %w", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(0) {
		return nil, fmt.Errorf("eventbus: embedded server did not become ready")
	}

	nc, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("eventbus: connect in-process: %w", err)
	}

	return &NatsBus{nc: nc, embedded: srv, closeFunc: func() {
		nc.Close()
		srv.Shutdown()
	}}, nil
}

func (b *NatsBus) Publish(ctx context.Context, collectionPath string, c Change) error {
	payload, err := encodeChange(c)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(CollectionChannel(c.WorkspaceID, collectionPath), payload); err != nil {
		return err
	}
	if err := b.nc.Publish(DocumentChannel(c.WorkspaceID, c.Path), payload); err != nil {
		return err
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ch := make(chan Change, 64)
	sub, err := b.nc.Subscribe(channel, func(msg *nats.Msg) {
		c, err := decodeChange(msg.Data)
		if err != nil {
			return
		}
		select {
		case ch <- c:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	s := &natsSubscription{sub: sub, ch: ch}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

func (b *NatsBus) Close() error {
	b.closeFunc()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
	ch  chan Change
}

func (s *natsSubscription) Changes() <-chan Change { return s.ch }
func (s *natsSubscription) Close() error           { return s.sub.Unsubscribe() }
