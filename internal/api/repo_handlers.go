package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gitlake/gitlake/internal/auth"
	"github.com/gitlake/gitlake/internal/engine"
	"github.com/gitlake/gitlake/internal/metastore"
)

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

type repoResponse struct {
	ID            int64  `json:"id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	IsPrivate     bool   `json:"is_private"`
}

func toRepoResponse(owner string, r *metastore.Repository) repoResponse {
	return repoResponse{
		ID:            r.ID,
		Owner:         owner,
		Name:          r.Name,
		Description:   r.Description,
		DefaultBranch: r.DefaultBranch,
		IsPrivate:     r.IsPrivate,
	}
}

// POST /api/v1/repos
func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req createRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !repoNamePattern.MatchString(req.Name) {
		jsonError(w, "repository name must match "+repoNamePattern.String(), http.StatusBadRequest)
		return
	}

	repo := &metastore.Repository{
		OwnerUserID:   claims.UserID,
		Name:          req.Name,
		Description:   req.Description,
		DefaultBranch: "main",
		IsPrivate:     req.IsPrivate,
	}
	repo.StoragePrefix = fmt.Sprintf("repos/%d/%s.git", claims.UserID, req.Name)
	if err := s.metaDB.CreateRepository(r.Context(), repo); err != nil {
		jsonError(w, "a repository with that name already exists", http.StatusConflict)
		return
	}

	if err := s.eng.Open(engine.RepoIDString(repo.ID), repo.StoragePrefix).Init(r.Context()); err != nil {
		jsonError(w, "failed to initialize repository storage", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, http.StatusCreated, toRepoResponse(claims.Username, repo))
}

// GET /api/v1/repos/{owner}/{repo}
func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, toRepoResponse(owner, repo))
}

// GET /api/v1/users/{owner}/repos
func (s *Server) handleListUserRepos(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	ownerUser, err := s.metaDB.GetUserByUsername(r.Context(), owner)
	if err != nil {
		jsonError(w, "user not found", http.StatusNotFound)
		return
	}

	repos, err := s.metaDB.ListUserRepositories(r.Context(), ownerUser.ID)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	claims := auth.GetClaims(r.Context())
	isOwner := claims != nil && claims.UserID == ownerUser.ID

	visible := make([]metastore.Repository, 0, len(repos))
	for i := range repos {
		if repos[i].IsPrivate && !isOwner {
			continue
		}
		visible = append(visible, repos[i])
	}

	page, perPage := parsePagination(r, 30, 100)
	out := make([]repoResponse, 0, perPage)
	for _, repo := range paginateSlice(visible, page, perPage) {
		out = append(out, toRepoResponse(owner, &repo))
	}
	jsonResponse(w, http.StatusOK, out)
}

// DELETE /api/v1/repos/{owner}/{repo}
func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoWrite(w, r, owner, repoName)
	if !ok {
		return
	}
	if err := s.metaDB.DeleteRepository(r.Context(), repo.ID); err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
