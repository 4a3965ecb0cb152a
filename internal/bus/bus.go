package bus

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const readyTimeout = 5 * time.Second

// Bus is the internal event bus: an embedded NATS server bound to localhost
// with a single in-process client connection. Events are JSON-encoded.
type Bus struct {
	server *natsserver.Server
	conn   *nats.Conn
}

// New starts an embedded NATS server on a random localhost port and
// connects to it
func New() (*Bus, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   natsserver.RANDOM_PORT,
		NoSigs: true,
		NoLog:  true,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bus server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("bus server did not become ready within %v", readyTimeout)
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}

	return &Bus{server: srv, conn: conn}, nil
}

// Publish JSON-encodes v and publishes it on subject
func (b *Bus) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event for %s: %w", subject, err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for raw event payloads on subject
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Flush waits until all published events have been processed by the server
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Close drains the connection and shuts the embedded server down
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}
