package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AcceptedCommands counts chat commands that passed every gate
	AcceptedCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perkbridge_accepted_commands_total",
		Help: "Chat commands that passed authorization and were executed",
	})

	// GrantedPrivileges counts operator privilege grants
	GrantedPrivileges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perkbridge_granted_privileges_total",
		Help: "Donator privileges granted through the control channel",
	})

	// BlockedAttempts counts invocations of explicitly blocked commands
	BlockedAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perkbridge_blocked_attempts_total",
		Help: "Attempts to invoke a blocked command",
	})

	// Reconnects counts game-session reconnect attempts
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perkbridge_game_reconnects_total",
		Help: "Game session reconnect attempts",
	})

	// GameConnected reports whether a game session is live
	GameConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perkbridge_game_connected",
		Help: "1 while a game session is connected",
	})

	// ServerReachable reports the prober's last known state
	ServerReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perkbridge_server_reachable",
		Help: "1 while the game server answers TCP probes",
	})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBool sets a gauge from a boolean
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
