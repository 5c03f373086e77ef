package api

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gitlake/gitlake/internal/gitobj"
)

func branchOrDefault(r *http.Request, defaultBranch string) string {
	if b := strings.TrimSpace(r.URL.Query().Get("branch")); b != "" {
		return b
	}
	return defaultBranch
}

// GET /api/v1/repos/{owner}/{repo}/branches
func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branches, err := s.openRepo(repo).ListBranches(r.Context())
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, branches)
}

// GET /api/v1/repos/{owner}/{repo}/commits
func (s *Server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branch := branchOrDefault(r, repo.DefaultBranch)
	page, perPage := parsePagination(r, 30, 100)
	skip := (page - 1) * perPage

	summaries, hasMore, err := s.openRepo(repo).ListCommits(r.Context(), branch, perPage, skip)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(summaries))
	for _, c := range summaries {
		parents := make([]string, len(c.Parents))
		for i, p := range c.Parents {
			parents[i] = string(p)
		}
		out = append(out, map[string]any{
			"oid":              string(c.OID),
			"parents":          parents,
			"author_name":      c.Author.Name,
			"author_email":     c.Author.Email,
			"author_timestamp": c.Author.When.Unix(),
			"message":          c.Message,
		})
	}
	jsonResponse(w, http.StatusOK, map[string]any{"commits": out, "has_more": hasMore})
}

// GET /api/v1/repos/{owner}/{repo}/commits/{oid}
func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	oid, ok := parseOID(w, r.PathValue("oid"))
	if !ok {
		return
	}

	c, found, err := s.openRepo(repo).GetCommitByOID(r.Context(), oid)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !found {
		jsonError(w, "commit not found", http.StatusNotFound)
		return
	}
	parents := make([]string, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = string(p)
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"oid":              string(c.OID),
		"parents":          parents,
		"author_name":      c.Author.Name,
		"author_email":     c.Author.Email,
		"author_timestamp": c.Author.When.Unix(),
		"message":          c.Message,
	})
}

// GET /api/v1/repos/{owner}/{repo}/tree/{path...}
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branch := branchOrDefault(r, repo.DefaultBranch)
	path := r.PathValue("path")

	entries, err := s.openRepo(repo).GetTree(r.Context(), branch, path)
	if err != nil {
		jsonError(w, "path not found", http.StatusNotFound)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"name": e.Name,
			"oid":  string(e.OID),
			"kind": e.Kind.String(),
			"mode": e.Mode,
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// GET /api/v1/repos/{owner}/{repo}/blob/{path...}
func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branch := branchOrDefault(r, repo.DefaultBranch)
	path := r.PathValue("path")

	env, err := s.openRepo(repo).GetFile(r.Context(), branch, path)
	if err != nil {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(env.Payload)
}

// GET /api/v1/repos/{owner}/{repo}/page
// renders the landing-page bundle: branch list, root tree, readme presence,
// and commit count, all resolved as of the requested (or default) branch.
func (s *Server) handleGetPageData(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branch := branchOrDefault(r, repo.DefaultBranch)
	path := strings.TrimSpace(r.URL.Query().Get("path"))

	page, err := s.openRepo(repo).GetPageData(r.Context(), branch, path)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	entries := make([]map[string]any, 0, len(page.Tree))
	for _, e := range page.Tree {
		entries = append(entries, map[string]any{
			"name": e.Name,
			"oid":  string(e.OID),
			"kind": e.Kind.String(),
			"mode": e.Mode,
		})
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"branches":     page.Branches,
		"tree":         entries,
		"readme_oid":   string(page.ReadmeOID),
		"has_readme":   page.HasReadme,
		"commit_count": page.CommitCount,
	})
}

// GET /api/v1/repos/{owner}/{repo}/tree-history/{path...}
// lists dirPath's entries annotated with the last commit that touched
// each one — the UI's "last changed" column without a per-entry request.
func (s *Server) handleTreeCommits(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoRead(w, r, owner, repoName)
	if !ok {
		return
	}
	branch := branchOrDefault(r, repo.DefaultBranch)
	path := r.PathValue("path")

	entries, err := s.openRepo(repo).TreeCommits(r.Context(), branch, path)
	if err != nil {
		jsonError(w, "path not found", http.StatusNotFound)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"name":            e.Name,
			"oid":             string(e.OID),
			"kind":            e.Kind.String(),
			"mode":            e.Mode,
			"last_commit_oid": string(e.LastCommitOID),
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// GET /api/v1/repos/{owner}/{repo}/debug/refs
// dumps every branch and tag ref and its OID — an operational diagnostic gated
// on repo-write access, since it exposes ref names a private repo might
// want to keep from anonymous and non-owner callers entirely.
func (s *Server) handleDebugRefs(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), r.PathValue("repo")
	repo, ok := s.authorizeRepoWrite(w, r, owner, repoName)
	if !ok {
		return
	}
	refs, err := s.openRepo(repo).DebugRefs(r.Context())
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]string{"name": ref.Name, "oid": string(ref.OID)})
	}
	jsonResponse(w, http.StatusOK, out)
}

func parseOID(w http.ResponseWriter, raw string) (gitobj.OID, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 40 {
		jsonError(w, "invalid object id", http.StatusBadRequest)
		return "", false
	}
	if _, err := hex.DecodeString(raw); err != nil {
		jsonError(w, "invalid object id", http.StatusBadRequest)
		return "", false
	}
	return gitobj.OID(raw), true
}
