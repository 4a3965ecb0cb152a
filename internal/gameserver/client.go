package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sunfall-smp/perkbridge/internal/config"
	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/metrics"
	"github.com/sunfall-smp/perkbridge/internal/probe"
)

// ErrNotConnected is returned by SendChat while no session is live
var ErrNotConnected = errors.New("game session not connected")

// Publisher is the event sink for session and chat events
type Publisher interface {
	Publish(subject string, v any) error
}

// Session states
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Client owns the single connection to the game server's bridge socket.
// Server console lines arrive as text frames; SendChat is the one outbound
// primitive, used for player replies and privileged console commands alike.
type Client struct {
	cfg    config.GameConfig
	addr   string
	prober *probe.Prober
	bus    Publisher

	mu      sync.Mutex
	conn    *websocket.Conn
	state   string
	attempt int
}

// New creates a game-session client. addr is the host:port of the game
// server; the bridge socket is dialed at cfg.BridgePath on the same host.
func New(cfg config.GameConfig, addr string, prober *probe.Prober, bus Publisher) *Client {
	return &Client{
		cfg:    cfg,
		addr:   addr,
		prober: prober,
		bus:    bus,
		state:  StateDisconnected,
	}
}

// State returns the current session state
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a session is live
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// SendChat writes a single chat/console line to the game server
func (c *Client) SendChat(line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Run drives the connect/read/reconnect loop until ctx is cancelled or the
// reconnect ceiling is exceeded. Connect attempts are gated on the prober's
// last known reachability; while the server is unreachable the attempt is
// deferred by the probe interval without consuming the retry counter.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !c.prober.Online() {
			c.setState(StateDisconnected)
			if !sleepCtx(ctx, c.cfg.ProbeInterval) {
				return
			}
			continue
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("Game session connect failed (attempt %d): %v", c.attempt+1, err)
			if !c.scheduleRetry(ctx, err) {
				return
			}
			continue
		}

		c.sessionUp(conn)
		// ReadMessage only fails when the connection dies, so closing it on
		// cancellation is what unblocks the read loop.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = c.readLoop(ctx, conn)
		stop()
		c.sessionDown(err)

		if ctx.Err() != nil {
			return
		}
		if !c.scheduleRetry(ctx, err) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: c.cfg.BridgePath}
	if c.cfg.BridgeToken != "" {
		q := u.Query()
		q.Set("token", c.cfg.BridgeToken)
		u.RawQuery = q.Encode()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.Host, err)
	}
	return conn, nil
}

// sessionUp records the live connection, resets the retry counter and
// schedules the greeting line
func (c *Client) sessionUp(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	c.mu.Unlock()

	log.Printf("Game session connected to %s", c.addr)
	c.publish(domain.SubjectSession, domain.SessionEvent{
		State:     domain.SessionConnected,
		Timestamp: time.Now().UTC(),
	})

	greeting := c.cfg.Greeting
	delay := c.cfg.GreetingDelay
	time.AfterFunc(delay, func() {
		if c.Connected() && greeting != "" {
			if err := c.SendChat(greeting); err != nil {
				log.Printf("Sending greeting: %v", err)
			}
		}
	})
}

func (c *Client) sessionDown(cause error) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	log.Printf("Game session disconnected: %v", cause)
	c.publish(domain.SubjectSession, domain.SessionEvent{
		State:     domain.SessionDisconnected,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// readLoop publishes every incoming line as a classified event until the
// connection fails
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		line := Classify(string(data))
		subject, event := line.Event(time.Now().UTC())
		c.publish(subject, event)
	}
}

// scheduleRetry increments the retry counter and sleeps for the backoff
// delay. It returns false once the ceiling is exceeded; no further
// automatic reconnect happens after that.
func (c *Client) scheduleRetry(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	if attempt > c.cfg.ReconnectLimit {
		log.Printf("Game session reconnect limit (%d) exceeded, giving up", c.cfg.ReconnectLimit)
		c.publish(domain.SubjectSession, domain.SessionEvent{
			State:     domain.SessionGaveUp,
			Attempt:   attempt,
			Timestamp: time.Now().UTC(),
		})
		return false
	}

	metrics.Reconnects.Inc()
	delay := ReconnectDelay(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax)
	log.Printf("Reconnecting to game server in %v (attempt %d/%d)", delay, attempt, c.cfg.ReconnectLimit)
	return sleepCtx(ctx, delay)
}

func (c *Client) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Client) publish(subject string, v any) {
	if err := c.bus.Publish(subject, v); err != nil {
		log.Printf("Publishing %s event: %v", subject, err)
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
