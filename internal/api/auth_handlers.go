package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gitlake/gitlake/internal/auth"
	"github.com/gitlake/gitlake/internal/metastore"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// POST /api/v1/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.EnablePasswordAuth {
		jsonError(w, "password authentication is disabled on this instance", http.StatusForbidden)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		jsonError(w, "username, email, and password are required", http.StatusBadRequest)
		return
	}

	hash, err := s.authSvc.HashPassword(req.Password)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	user := &metastore.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := s.metaDB.CreateUser(r.Context(), user); err != nil {
		jsonError(w, "username or email already taken", http.StatusConflict)
		return
	}

	token, err := s.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusCreated, tokenResponse{Token: token, UserID: user.ID, Username: user.Username})
}

// POST /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.EnablePasswordAuth {
		jsonError(w, "password authentication is disabled on this instance", http.StatusForbidden)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.metaDB.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := s.authSvc.CheckPassword(user.PasswordHash, req.Password); err != nil {
		jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, tokenResponse{Token: token, UserID: user.ID, Username: user.Username})
}

// GET /api/v1/auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	user, err := s.metaDB.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		jsonError(w, "user not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, http.StatusOK, struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}{ID: user.ID, Username: user.Username, Email: user.Email})
}

// basicAuthUser authenticates HTTP Basic credentials against the
// metastore, used by the git smart-HTTP surface (credential-helper and
// non-interactive clients can't carry a bearer token or session cookie).
func (s *Server) basicAuthUser(r *http.Request) (*metastore.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	u, err := s.metaDB.GetUserByUsername(r.Context(), username)
	if err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	if err := s.authSvc.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, err
	}
	return u, nil
}
