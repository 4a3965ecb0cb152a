package gameserver

import (
	"regexp"
	"strings"
	"time"

	"github.com/sunfall-smp/perkbridge/internal/domain"
)

// Line kinds produced by Classify
const (
	LineChat  = "chat"
	LineJoin  = "join"
	LineLeave = "leave"
	LineOther = "other"
)

var (
	chatRe  = regexp.MustCompile(`^<([A-Za-z0-9_]{2,16})>\s(.*)$`)
	joinRe  = regexp.MustCompile(`^([A-Za-z0-9_]{2,16}) joined the game$`)
	leaveRe = regexp.MustCompile(`^([A-Za-z0-9_]{2,16}) left the game$`)
)

// Line is a classified server console line
type Line struct {
	Kind    string
	Handle  string
	Message string
	Raw     string
}

// Classify parses a raw server console line into one of the known shapes.
// Anything unrecognized is kept as LineOther so downstream scrapers still
// see it.
func Classify(raw string) Line {
	line := strings.TrimRight(raw, "\r\n")

	if m := chatRe.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineChat, Handle: m[1], Message: m[2], Raw: line}
	}
	if m := joinRe.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineJoin, Handle: m[1], Raw: line}
	}
	if m := leaveRe.FindStringSubmatch(line); m != nil {
		return Line{Kind: LineLeave, Handle: m[1], Raw: line}
	}
	return Line{Kind: LineOther, Raw: line}
}

// Event converts a classified line to its bus event and subject.
// LineOther maps to a ChatEvent with no handle on the chat subject so the
// rank-token scraper sees every line during a capture window.
func (l Line) Event(now time.Time) (string, any) {
	switch l.Kind {
	case LineJoin:
		return domain.SubjectJoin, domain.PresenceEvent{Handle: l.Handle, Timestamp: now}
	case LineLeave:
		return domain.SubjectLeave, domain.PresenceEvent{Handle: l.Handle, Timestamp: now}
	default:
		return domain.SubjectChat, domain.ChatEvent{
			Handle:    l.Handle,
			Message:   l.Message,
			Raw:       l.Raw,
			Timestamp: now,
		}
	}
}
