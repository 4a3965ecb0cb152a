package probe

import (
	"context"
	"log"
	"net"
	"sync"
	"time"
)

// Prober checks TCP reachability of the game server. Connect success means
// online; any error or timeout means offline. It never returns an error.
type Prober struct {
	addr    string
	timeout time.Duration

	mu     sync.RWMutex
	online bool
	known  bool // false until the first probe completes
}

// New creates a Prober for host:port with a bounded connect timeout
func New(addr string, timeout time.Duration) *Prober {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Prober{addr: addr, timeout: timeout}
}

// Check attempts a single TCP connect and reports reachability. The
// connection is closed immediately on success. No retries happen here;
// cadence is driven by Watch.
func (p *Prober) Check(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// UpdateStatus runs a probe, records the result and logs state transitions
// exactly once per flip. It returns the new state.
func (p *Prober) UpdateStatus(ctx context.Context) bool {
	online := p.Check(ctx)

	p.mu.Lock()
	changed := !p.known || online != p.online
	p.online = online
	p.known = true
	p.mu.Unlock()

	if changed {
		if online {
			log.Printf("Game server %s is reachable", p.addr)
		} else {
			log.Printf("Game server %s is unreachable", p.addr)
		}
	}
	return online
}

// Online returns the last known reachability state
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Watch polls reachability on a fixed interval until ctx is cancelled.
// The first probe runs immediately.
func (p *Prober) Watch(ctx context.Context, interval time.Duration) {
	p.UpdateStatus(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.UpdateStatus(ctx)
		}
	}
}
