package api

import (
	"net/http"

	"github.com/sunfall-smp/perkbridge/internal/auth"
	"github.com/sunfall-smp/perkbridge/internal/gameserver"
	"github.com/sunfall-smp/perkbridge/internal/metrics"
	"github.com/sunfall-smp/perkbridge/internal/policy"
	"github.com/sunfall-smp/perkbridge/internal/probe"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux    *http.ServeMux
	store  *storage.Store
	policy *policy.Table
	game   *gameserver.Client
	prober *probe.Prober
	auth   *auth.Service
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, table *policy.Table, game *gameserver.Client, prober *probe.Prober, authService *auth.Service) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		store:  store,
		policy: table,
		game:   game,
		prober: prober,
		auth:   authService,
	}

	// Public status surface
	r.mux.HandleFunc("GET /{$}", r.handleStatus)
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /commands", r.handleCommands)
	r.mux.HandleFunc("GET /logs", r.handleLogs)
	r.mux.Handle("GET /metrics", metrics.Handler())

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)

	// Admin routes
	r.mux.HandleFunc("POST /api/policy/reload", r.requireAdmin(r.handlePolicyReload))
	r.mux.HandleFunc("GET /api/donators", r.requireAdmin(r.handleListDonators))
	r.mux.HandleFunc("POST /api/donators", r.requireAdmin(r.handleAddDonator))
	r.mux.HandleFunc("DELETE /api/donators/{handle}", r.requireAdmin(r.handleRemoveDonator))

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
