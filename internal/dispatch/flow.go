package dispatch

import (
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// rankTokenRe matches the dash-prefixed tokens a permissions plugin prints
// when listing its groups. This is a best-effort scrape of free-text console
// output; completeness depends entirely on the plugin's formatting.
var rankTokenRe = regexp.MustCompile(`^\s*-\s*([A-Za-z0-9_]+)`)

// tokenStoplist holds words the permissions plugin uses in its own UI
// output that must never be treated as rank names
var tokenStoplist = map[string]bool{
	"default":     true,
	"group":       true,
	"groups":      true,
	"info":        true,
	"parent":      true,
	"parents":     true,
	"permission":  true,
	"permissions": true,
	"prefix":      true,
	"suffix":      true,
	"weight":      true,
}

// Flow is one rank-discovery capture window. At most one flow is active;
// starting a new one cancels the previous.
type Flow struct {
	ID     uuid.UUID
	Target string

	found []string
	seen  map[string]bool
	done  func(target string, tiers []string)
}

// FlowCoordinator owns the rank-discovery flow state. Chat lines are only
// scanned while a window is open; the window closes by timeout or by an
// explicit Cancel, and the completion callback fires at most once per flow.
type FlowCoordinator struct {
	window time.Duration

	mu     sync.Mutex
	active *Flow
	timer  *time.Timer
}

// NewFlowCoordinator creates a coordinator with the given capture window
func NewFlowCoordinator(window time.Duration) *FlowCoordinator {
	return &FlowCoordinator{window: window}
}

// Start opens a capture window for target and returns the flow ID. Any flow
// already in progress is cancelled without its callback firing.
func (c *FlowCoordinator) Start(target string, done func(target string, tiers []string)) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		log.Printf("Rank discovery for %q superseded by new flow for %q", c.active.Target, target)
		c.timer.Stop()
	}

	flow := &Flow{
		ID:     uuid.New(),
		Target: target,
		seen:   make(map[string]bool),
		done:   done,
	}
	c.active = flow
	c.timer = time.AfterFunc(c.window, func() {
		c.finish(flow.ID)
	})
	return flow.ID
}

// Observe scans a console line for a rank token while a window is open
func (c *FlowCoordinator) Observe(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}

	m := rankTokenRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	token := m[1]
	if tokenStoplist[strings.ToLower(token)] || c.active.seen[token] {
		return
	}
	c.active.seen[token] = true
	c.active.found = append(c.active.found, token)
}

// Active reports whether a capture window is open
func (c *FlowCoordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Cancel closes the current window, if any, without firing its callback
func (c *FlowCoordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.timer.Stop()
		c.active = nil
	}
}

// finish delivers the found list for the flow with the given ID. A flow
// superseded before its timer fired no longer matches and delivers nothing.
func (c *FlowCoordinator) finish(id uuid.UUID) {
	c.mu.Lock()
	flow := c.active
	if flow == nil || flow.ID != id {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.mu.Unlock()

	flow.done(flow.Target, flow.found)
}
