package dispatch

import (
	"fmt"
	"strings"
)

// effect maps a command name to the console line(s) it produces. Commands
// with RequiresArgs set short-circuit with a usage reply when invoked bare.
type effect struct {
	RequiresArgs bool
	Usage        string
	Build        func(handle, args string) []string
}

// effects is the fixed name-to-effect table. Every entry here still needs an
// enabled policy entry before a non-admin can reach it.
var effects = map[string]effect{
	"heal": {
		Build: func(handle, _ string) []string {
			return []string{fmt.Sprintf("effect give %s minecraft:instant_health 1 10", handle)}
		},
	},
	"feed": {
		Build: func(handle, _ string) []string {
			return []string{fmt.Sprintf("effect give %s minecraft:saturation 1 10", handle)}
		},
	},
	"fly": {
		Build: func(handle, _ string) []string {
			return []string{fmt.Sprintf("fly %s 300", handle)}
		},
	},
	"speed": {
		Build: func(handle, _ string) []string {
			return []string{fmt.Sprintf("effect give %s minecraft:speed 120 2", handle)}
		},
	},
	"broadcast": {
		RequiresArgs: true,
		Usage:        "!broadcast <message>",
		Build: func(handle, args string) []string {
			return []string{fmt.Sprintf("say [%s] %s", handle, args)}
		},
	},
	"gamemode": {
		RequiresArgs: true,
		Usage:        "!gamemode <mode>",
		Build: func(handle, args string) []string {
			mode := firstToken(args)
			return []string{fmt.Sprintf("gamemode %s %s", mode, handle)}
		},
	},
}

// lookupEffect returns the effect for a lower-cased command name
func lookupEffect(name string) (effect, bool) {
	e, ok := effects[name]
	return e, ok
}

// firstToken returns the first whitespace-delimited token of s
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
