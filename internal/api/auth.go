package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sunfall-smp/perkbridge/internal/auth"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// handleLogin exchanges username/password for a JWT
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := r.store.GetUserByUsername(req.Context(), body.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "looking up user")
		return
	}
	if !auth.CheckPassword(body.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := r.auth.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    token,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	})
}

// claimsFromRequest extracts and validates the bearer token
func (r *Router) claimsFromRequest(req *http.Request) (*auth.Claims, error) {
	header := req.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, auth.ErrInvalidToken
	}
	return r.auth.ValidateToken(strings.TrimPrefix(header, "Bearer "))
}

// requireAdmin wraps a handler with JWT validation and an admin check
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims, err := r.claimsFromRequest(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req)
	}
}
