package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

const defaultLogLimit = 50

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusResponse is the GET / body
type statusResponse struct {
	Status          string           `json:"status"`
	GameConnected   bool             `json:"gameConnected"`
	ServerReachable bool             `json:"serverReachable"`
	Counters        *domain.Counters `json:"counters"`
}

// handleStatus always answers 200 with the overall bridge state
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	counters, err := r.store.GetCounters(req.Context())
	if err != nil {
		log.Printf("Reading counters: %v", err)
		counters = &domain.Counters{}
	}

	status := "degraded"
	if r.game.Connected() && r.prober.Online() {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:          status,
		GameConnected:   r.game.Connected(),
		ServerReachable: r.prober.Online(),
		Counters:        counters,
	})
}

// handleHealth answers 200 only while both the game session and the
// reachability probe are healthy
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	healthy := r.game.Connected() && r.prober.Online()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{
		"gameConnected":   r.game.Connected(),
		"serverReachable": r.prober.Online(),
	})
}

// handleCommands returns the policy and blocked-command tables verbatim
func (r *Router) handleCommands(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.policy.Snapshot())
}

// handleLogs returns the last N audit entries
func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	limit := defaultLogLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := r.store.ListAudit(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handlePolicyReload(w http.ResponseWriter, req *http.Request) {
	if err := r.policy.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (r *Router) handleListDonators(w http.ResponseWriter, req *http.Request) {
	donators, err := r.store.ListDonators(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing donators")
		return
	}
	if donators == nil {
		donators = []domain.Donator{}
	}
	writeJSON(w, http.StatusOK, donators)
}

type addDonatorRequest struct {
	Handle  string `json:"handle"`
	Tier    string `json:"tier"`
	IsAdmin bool   `json:"is_admin"`
}

func (r *Router) handleAddDonator(w http.ResponseWriter, req *http.Request) {
	var body addDonatorRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d := &domain.Donator{Handle: body.Handle, Tier: body.Tier, IsAdmin: body.IsAdmin}
	if err := r.store.UpsertDonator(req.Context(), d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (r *Router) handleRemoveDonator(w http.ResponseWriter, req *http.Request) {
	handle := req.PathValue("handle")
	if err := r.store.DeleteDonator(req.Context(), handle); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such donator")
			return
		}
		writeError(w, http.StatusInternalServerError, "removing donator")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
