package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sunfall-smp/perkbridge/internal/bus"
	"github.com/sunfall-smp/perkbridge/internal/config"
	"github.com/sunfall-smp/perkbridge/internal/dispatch"
	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/metrics"
	"github.com/sunfall-smp/perkbridge/internal/policy"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

const refusal = "This bot only answers to its operator."

// maxTierButtons bounds how many discovered tiers are offered per lookup
const maxTierButtons = 20

// GameSession is the view of the game client the bot needs
type GameSession interface {
	SendChat(line string) error
	Connected() bool
}

// Reachability is the view of the prober the bot needs
type Reachability interface {
	Online() bool
}

// Bot is the control-channel client. Every inbound interaction from anyone
// but the configured operator gets a fixed refusal.
type Bot struct {
	cfg     config.DiscordConfig
	session *discordgo.Session
	store   *storage.Store
	policy  *policy.Table
	flows   *dispatch.FlowCoordinator
	game    GameSession
	reach   Reachability
	bus     *bus.Bus
}

// New creates the control-channel bot
func New(cfg config.DiscordConfig, store *storage.Store, table *policy.Table, flows *dispatch.FlowCoordinator, game GameSession, reach Reachability, b *bus.Bus) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	bot := &Bot{
		cfg:     cfg,
		session: session,
		store:   store,
		policy:  table,
		flows:   flows,
		game:    game,
		reach:   reach,
		bus:     b,
	}
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onMessageCreate)
	session.AddHandler(bot.onInteraction)
	return bot, nil
}

// Start opens the gateway connection and wires bus subscriptions
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	if _, err := b.bus.Subscribe(domain.SubjectOperator, b.onOperatorNotice); err != nil {
		return fmt.Errorf("subscribing to operator notices: %w", err)
	}
	if _, err := b.bus.Subscribe(domain.SubjectSession, b.onSessionEvent); err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}
	return nil
}

// Close shuts the gateway connection down
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Control channel ready as %s", r.User.Username)
}

// notify posts a line to the configured notify channel. Failures are logged
// and never retried.
func (b *Bot) notify(msg string) {
	if b.cfg.NotifyChannelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(b.cfg.NotifyChannelID, msg); err != nil {
		log.Printf("Posting operator notification: %v", err)
	}
}

func (b *Bot) onOperatorNotice(data []byte) {
	var n domain.OperatorNotice
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("Decoding operator notice: %v", err)
		return
	}
	b.notify(fmt.Sprintf("[%s] %s", n.Severity, n.Message))
}

func (b *Bot) onSessionEvent(data []byte) {
	var ev domain.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("Decoding session event: %v", err)
		return
	}
	switch ev.State {
	case domain.SessionConnected:
		b.notify("Game session connected.")
	case domain.SessionDisconnected:
		b.notify(fmt.Sprintf("Game session lost: %s", ev.Detail))
	case domain.SessionGaveUp:
		b.notify(fmt.Sprintf("Game session gave up after %d reconnect attempts. Manual restart required.", ev.Attempt))
	}
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot || !strings.HasPrefix(m.Content, b.cfg.CommandPrefix) {
		return
	}
	if m.Author.ID != b.cfg.OperatorID {
		b.reply(m.ChannelID, refusal)
		return
	}

	cmd, args, _ := strings.Cut(strings.TrimPrefix(m.Content, b.cfg.CommandPrefix), " ")
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	args = strings.TrimSpace(args)
	ctx := context.Background()

	switch cmd {
	case "status":
		b.cmdStatus(ctx, m.ChannelID)
	case "donators":
		b.cmdDonators(ctx, m.ChannelID)
	case "logs":
		b.cmdLogs(ctx, m.ChannelID, args)
	case "stats":
		b.cmdStats(ctx, m.ChannelID)
	case "add", "promote":
		b.cmdAdd(ctx, m.ChannelID, args)
	case "remove":
		b.cmdRemove(ctx, m.ChannelID, args)
	case "reload":
		b.cmdReload(m.ChannelID)
	case "lookup":
		b.cmdLookup(m.ChannelID, args)
	case "help":
		b.cmdHelp(m.ChannelID)
	default:
		b.reply(m.ChannelID, fmt.Sprintf("Unknown command %q. Try %shelp.", cmd, b.cfg.CommandPrefix))
	}
}

func (b *Bot) cmdHelp(channelID string) {
	p := b.cfg.CommandPrefix
	b.reply(channelID, strings.Join([]string{
		"Operator commands:",
		p + "status — bridge and game-server state",
		p + "donators — list donator records",
		p + "logs [n] — last n audit entries",
		p + "stats — aggregate counters",
		p + "add <handle> <tier> — grant a tier",
		p + "promote <handle> <tier> — change a tier",
		p + "remove <handle> — revoke a donator",
		p + "lookup <handle> — discover server ranks, then pick one",
		p + "reload — reload the policy file",
	}, "\n"))
}

func (b *Bot) cmdStatus(ctx context.Context, channelID string) {
	counters, err := b.store.GetCounters(ctx)
	if err != nil {
		b.reply(channelID, "Could not read counters: "+err.Error())
		return
	}
	b.reply(channelID, fmt.Sprintf(
		"Game session: %s\nServer reachable: %t\nAccepted: %d, granted: %d, blocked: %d",
		onOff(b.game.Connected()), b.reach.Online(),
		counters.Accepted, counters.Granted, counters.Blocked))
}

func (b *Bot) cmdDonators(ctx context.Context, channelID string) {
	donators, err := b.store.ListDonators(ctx)
	if err != nil {
		b.reply(channelID, "Could not list donators: "+err.Error())
		return
	}
	if len(donators) == 0 {
		b.reply(channelID, "No donators recorded.")
		return
	}
	var sb strings.Builder
	for _, d := range donators {
		fmt.Fprintf(&sb, "%s — %s", d.Handle, d.Tier)
		if d.IsAdmin {
			sb.WriteString(" (admin)")
		}
		sb.WriteString("\n")
	}
	b.reply(channelID, sb.String())
}

func (b *Bot) cmdLogs(ctx context.Context, channelID, args string) {
	limit := 10
	if args != "" {
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := b.store.ListAudit(ctx, limit)
	if err != nil {
		b.reply(channelID, "Could not read audit log: "+err.Error())
		return
	}
	if len(entries) == 0 {
		b.reply(channelID, "Audit log is empty.")
		return
	}
	var sb strings.Builder
	for _, e := range entries {
		outcome := "rejected"
		if e.Accepted {
			outcome = "accepted"
		}
		fmt.Fprintf(&sb, "%s %s !%s %s (%s)\n",
			e.Timestamp.Format("01-02 15:04:05"), e.Handle, e.Command, outcome, e.Reason)
	}
	b.reply(channelID, sb.String())
}

func (b *Bot) cmdStats(ctx context.Context, channelID string) {
	counters, err := b.store.GetCounters(ctx)
	if err != nil {
		b.reply(channelID, "Could not read counters: "+err.Error())
		return
	}
	b.reply(channelID, fmt.Sprintf("Accepted commands: %d\nGranted privileges: %d\nBlocked attempts: %d",
		counters.Accepted, counters.Granted, counters.Blocked))
}

func (b *Bot) cmdAdd(ctx context.Context, channelID, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(channelID, "Usage: "+b.cfg.CommandPrefix+"add <handle> <tier>")
		return
	}
	handle, tier := fields[0], fields[1]
	if err := b.grant(ctx, handle, tier); err != nil {
		b.reply(channelID, "Grant failed: "+err.Error())
		return
	}
	note := ""
	if !b.policy.KnownTier(tier) {
		note = " (tier is not in the ordering table and resolves to level 0)"
	}
	b.reply(channelID, fmt.Sprintf("Granted %s to %s.%s", tier, handle, note))
}

func (b *Bot) cmdRemove(ctx context.Context, channelID, args string) {
	handle := strings.TrimSpace(args)
	if handle == "" {
		b.reply(channelID, "Usage: "+b.cfg.CommandPrefix+"remove <handle>")
		return
	}
	if err := b.store.DeleteDonator(ctx, handle); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(channelID, fmt.Sprintf("%s is not a donator.", handle))
		} else {
			b.reply(channelID, "Remove failed: "+err.Error())
		}
		return
	}
	if err := b.game.SendChat(fmt.Sprintf("lp user %s parent clear", handle)); err != nil {
		log.Printf("Relaying privilege removal for %s: %v", handle, err)
	}
	b.reply(channelID, fmt.Sprintf("Removed donator %s.", handle))
}

func (b *Bot) cmdReload(channelID string) {
	if err := b.policy.Reload(); err != nil {
		b.reply(channelID, "Policy reload failed: "+err.Error())
		return
	}
	b.reply(channelID, "Policy reloaded.")
}

// cmdLookup starts a rank-discovery flow: it asks the permissions plugin to
// list its groups and opens a capture window over the returned console
// lines. Discovered tiers are offered as mutually exclusive buttons.
func (b *Bot) cmdLookup(channelID, args string) {
	handle := strings.TrimSpace(args)
	if handle == "" {
		b.reply(channelID, "Usage: "+b.cfg.CommandPrefix+"lookup <handle>")
		return
	}
	if err := domain.ValidateHandle(handle); err != nil {
		b.reply(channelID, err.Error())
		return
	}
	if !b.game.Connected() {
		b.reply(channelID, "Game session is not connected.")
		return
	}

	b.flows.Start(handle, func(target string, tiers []string) {
		b.offerTiers(channelID, target, tiers)
	})
	if err := b.game.SendChat("lp listgroups"); err != nil {
		log.Printf("Requesting group listing: %v", err)
		b.flows.Cancel()
		b.reply(channelID, "Could not query the server for ranks.")
		return
	}
	b.reply(channelID, fmt.Sprintf("Looking up ranks for %s...", handle))
}

// offerTiers posts one button per discovered tier name
func (b *Bot) offerTiers(channelID, handle string, tiers []string) {
	if len(tiers) == 0 {
		b.reply(channelID, fmt.Sprintf("No ranks discovered for %s. The permissions plugin output may have changed.", handle))
		return
	}
	if len(tiers) > maxTierButtons {
		tiers = tiers[:maxTierButtons]
	}

	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, tier := range tiers {
		row = append(row, &discordgo.Button{
			CustomID: "grant|" + handle + "|" + tier,
			Label:    tier,
			Style:    discordgo.PrimaryButton,
		})
		if len(row) == 5 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}

	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    fmt.Sprintf("Pick a tier for %s:", handle),
		Components: rows,
	})
	if err != nil {
		log.Printf("Posting tier choices: %v", err)
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := interactionUser(i)
	if user == nil || user.ID != b.cfg.OperatorID {
		b.respond(i, refusal)
		return
	}

	parts := strings.SplitN(i.MessageComponentData().CustomID, "|", 3)
	if len(parts) != 3 || parts[0] != "grant" {
		return
	}
	handle, tier := parts[1], parts[2]

	if err := b.grant(context.Background(), handle, tier); err != nil {
		b.respond(i, "Grant failed: "+err.Error())
		return
	}
	b.respond(i, fmt.Sprintf("Granted %s to %s.", tier, handle))
}

// grant writes the donator record and relays the privilege line in-game.
// A tier change on an existing record keeps its admin flag.
func (b *Bot) grant(ctx context.Context, handle, tier string) error {
	d := &domain.Donator{
		Handle:    handle,
		Tier:      tier,
		CreatedAt: time.Now().UTC(),
	}
	if existing, err := b.store.GetDonator(ctx, handle); err == nil {
		d.IsAdmin = existing.IsAdmin
		d.CreatedAt = existing.CreatedAt
	}
	if err := b.store.UpsertDonator(ctx, d); err != nil {
		return err
	}
	if err := b.store.IncrCounter(ctx, storage.CounterGranted); err != nil {
		log.Printf("Incrementing granted counter: %v", err)
	}
	metrics.GrantedPrivileges.Inc()

	if err := b.game.SendChat(fmt.Sprintf("lp user %s parent set %s", handle, tier)); err != nil {
		log.Printf("Relaying privilege grant for %s: %v", handle, err)
	}
	return nil
}

func (b *Bot) reply(channelID, msg string) {
	if _, err := b.session.ChannelMessageSend(channelID, msg); err != nil {
		log.Printf("Replying on channel %s: %v", channelID, err)
	}
}

func (b *Bot) respond(i *discordgo.InteractionCreate, msg string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	})
	if err != nil {
		log.Printf("Responding to interaction: %v", err)
	}
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func onOff(v bool) string {
	if v {
		return "connected"
	}
	return "disconnected"
}
