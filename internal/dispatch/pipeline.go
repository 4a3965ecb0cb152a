package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/metrics"
	"github.com/sunfall-smp/perkbridge/internal/policy"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

// ChatSender is the game-session outbound primitive
type ChatSender interface {
	SendChat(line string) error
}

// Publisher is the event sink for operator notifications
type Publisher interface {
	Publish(subject string, v any) error
}

// Rejection reasons recorded in the audit log
const (
	ReasonNotDonator       = "not a donator"
	ReasonBlocked          = "blocked"
	ReasonUnknownCommand   = "unknown command"
	ReasonInsufficientRank = "insufficient rank"
	ReasonAdminOnly        = "admin only"
	ReasonOnCooldown       = "on cooldown"
	ReasonMissingArgs      = "missing arguments"
	ReasonExecuted         = "executed"
)

// Pipeline classifies incoming chat lines and runs the command
// authorization sequence. All authorization decisions live here; the
// execution table never re-checks permissions.
type Pipeline struct {
	store  *storage.Store
	policy *policy.Table
	sender ChatSender
	bus    Publisher
	flows  *FlowCoordinator
	admins map[string]bool
	now    func() time.Time
}

// New creates a dispatch pipeline. adminHandles bypass every check.
func New(store *storage.Store, table *policy.Table, sender ChatSender, bus Publisher, flows *FlowCoordinator, adminHandles []string) *Pipeline {
	admins := make(map[string]bool, len(adminHandles))
	for _, h := range adminHandles {
		admins[h] = true
	}
	return &Pipeline{
		store:  store,
		policy: table,
		sender: sender,
		bus:    bus,
		flows:  flows,
		admins: admins,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleChat processes one chat event: feeds the rank-token scraper, then
// dispatches a player command if the line matches `!command args`. A guard
// keeps any unexpected panic from crossing the handler boundary.
func (p *Pipeline) HandleChat(ctx context.Context, ev domain.ChatEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered while handling chat line %q: %v", ev.Raw, r)
		}
	}()

	p.flows.Observe(ev.Raw)

	if ev.Handle == "" {
		return
	}
	msg := strings.TrimSpace(ev.Message)
	if !strings.HasPrefix(msg, "!") {
		return
	}
	name, args, _ := strings.Cut(msg[1:], " ")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	p.HandleCommand(ctx, ev.Handle, name, strings.TrimSpace(args))
}

// capabilities is the resolved permission set for a speaker, produced once
// before any gate is consulted
type capabilities struct {
	Bypass    bool
	IsDonator bool
	Tier      string
	TierLevel int
}

func (p *Pipeline) resolveCapabilities(ctx context.Context, handle string) capabilities {
	if p.admins[handle] {
		return capabilities{Bypass: true}
	}
	d, err := p.store.GetDonator(ctx, handle)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Looking up donator %q: %v", handle, err)
		}
		return capabilities{}
	}
	return capabilities{
		Bypass:    d.IsAdmin,
		IsDonator: true,
		Tier:      d.Tier,
		TierLevel: p.policy.TierLevel(d.Tier),
	}
}

// HandleCommand runs the ordered authorization sequence for one player
// command and executes its effect when every gate passes
func (p *Pipeline) HandleCommand(ctx context.Context, handle, name, args string) {
	now := p.now()
	caps := p.resolveCapabilities(ctx, handle)

	if !caps.Bypass {
		if !caps.IsDonator {
			p.reject(ctx, handle, name, ReasonNotDonator,
				"Only donators can use perk commands.")
			return
		}

		if banned, ok := p.policy.Banned(name); ok {
			p.audit(ctx, handle, name, false, ReasonBlocked)
			p.incrCounter(ctx, storage.CounterBlocked)
			metrics.BlockedAttempts.Inc()
			p.reply(handle, fmt.Sprintf("The !%s command is blocked: %s", name, banned.Reason))
			if banned.Severity == "high" {
				p.notifyOperator(domain.SeverityWarning,
					fmt.Sprintf("%s attempted blocked command !%s (%s)", handle, name, banned.Reason))
			}
			return
		}

		pol, ok := p.policy.Command(name)
		if !ok || !pol.Enabled {
			p.reject(ctx, handle, name, ReasonUnknownCommand,
				fmt.Sprintf("Unknown command !%s.", name))
			return
		}

		required := p.policy.TierLevel(pol.RequiredTier)
		if caps.TierLevel < required {
			p.reject(ctx, handle, name, ReasonInsufficientRank,
				fmt.Sprintf("!%s requires tier %s or above.", name, pol.RequiredTier))
			return
		}

		if pol.Dangerous {
			p.reject(ctx, handle, name, ReasonAdminOnly,
				fmt.Sprintf("!%s is restricted to administrators.", name))
			return
		}

		cd, err := p.store.GetCooldown(ctx, handle, now)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Looking up cooldown for %q: %v", handle, err)
		}
		if cd != nil {
			p.audit(ctx, handle, name, false, ReasonOnCooldown)
			p.reply(handle, fmt.Sprintf("Please wait %s before your next command.",
				formatRemaining(cd.Remaining(now))))
			return
		}

		p.execute(ctx, handle, name, args, pol.Cooldown(), now)
		return
	}

	// Administrator bypass still resolves the execution entry normally
	p.execute(ctx, handle, name, args, 0, now)
}

// execute looks up the effect template, sends its console lines and records
// cooldown, counter and audit state. cooldown of zero means none is set.
func (p *Pipeline) execute(ctx context.Context, handle, name, args string, cooldown time.Duration, now time.Time) {
	eff, ok := lookupEffect(name)
	if !ok {
		p.reject(ctx, handle, name, ReasonUnknownCommand,
			fmt.Sprintf("Unknown command !%s.", name))
		return
	}

	if eff.RequiresArgs && args == "" {
		p.reply(handle, "Usage: "+eff.Usage)
		p.audit(ctx, handle, name, false, ReasonMissingArgs)
		return
	}

	for _, line := range eff.Build(handle, args) {
		if err := p.sender.SendChat(line); err != nil {
			log.Printf("Executing !%s for %s: %v", name, handle, err)
			p.reply(handle, "The server could not run that command right now.")
			return
		}
	}

	if cooldown > 0 {
		err := p.store.SetCooldown(ctx, &domain.Cooldown{
			Handle:    handle,
			Command:   name,
			LastUsed:  now,
			ExpiresAt: now.Add(cooldown),
		})
		if err != nil {
			log.Printf("Setting cooldown for %q: %v", handle, err)
		}
	}

	p.incrCounter(ctx, storage.CounterAccepted)
	metrics.AcceptedCommands.Inc()
	p.audit(ctx, handle, name, true, ReasonExecuted)
}

// reject records a failed authorization step and replies to the speaker
func (p *Pipeline) reject(ctx context.Context, handle, name, reason, reply string) {
	p.audit(ctx, handle, name, false, reason)
	p.reply(handle, reply)
}

func (p *Pipeline) audit(ctx context.Context, handle, name string, accepted bool, reason string) {
	err := p.store.AppendAudit(ctx, &domain.AuditEntry{
		Timestamp: p.now(),
		Handle:    handle,
		Command:   name,
		Accepted:  accepted,
		Reason:    reason,
	})
	if err != nil {
		log.Printf("Writing audit entry: %v", err)
	}
}

func (p *Pipeline) incrCounter(ctx context.Context, counter string) {
	if err := p.store.IncrCounter(ctx, counter); err != nil {
		log.Printf("Incrementing %s counter: %v", counter, err)
	}
}

// reply sends a private chat line to the speaker
func (p *Pipeline) reply(handle, msg string) {
	if err := p.sender.SendChat(fmt.Sprintf("tell %s %s", handle, msg)); err != nil {
		log.Printf("Replying to %s: %v", handle, err)
	}
}

func (p *Pipeline) notifyOperator(severity, msg string) {
	if p.bus == nil {
		return
	}
	err := p.bus.Publish(domain.SubjectOperator, domain.OperatorNotice{
		Severity:  severity,
		Message:   msg,
		Timestamp: p.now(),
	})
	if err != nil {
		log.Printf("Notifying operator: %v", err)
	}
}

// formatRemaining renders a cooldown remainder as minutes and seconds
func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
