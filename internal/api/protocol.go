package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/gitlake/gitlake/internal/engine"
	"github.com/gitlake/gitlake/internal/metastore"
)

// openRepo binds the engine to repo's storage prefix for the duration of
// one request.
func (s *Server) openRepo(repo *metastore.Repository) *engine.Repo {
	return s.eng.Open(engine.RepoIDString(repo.ID), repo.StoragePrefix)
}

// pathRepoName strips the ".git" suffix git clients append to the
// repository segment of smart-HTTP URLs.
func pathRepoName(r *http.Request) string {
	return strings.TrimSuffix(r.PathValue("repo"), ".git")
}

// GET /{owner}/{repo}.git/info/refs?service=git-upload-pack|git-receive-pack
func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), pathRepoName(r)
	service := r.URL.Query().Get("service")
	write := service == "git-receive-pack"

	repo, ok := s.authorizeProtocolRepoAccess(w, r, owner, repoName, write)
	if !ok {
		return
	}

	advertisement, err := s.openRepo(repo).InfoRefs(r.Context(), service)
	if err != nil {
		http.Error(w, "failed to build ref advertisement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-"+service+"-advertisement")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(advertisement)
}

// POST /{owner}/{repo}.git/git-upload-pack
func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), pathRepoName(r)
	repo, ok := s.authorizeProtocolRepoAccess(w, r, owner, repoName, false)
	if !ok {
		return
	}

	body, err := readProtocolBody(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	response, err := s.openRepo(repo).UploadPack(r.Context(), body)
	if err != nil {
		http.Error(w, "upload-pack failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

// POST /{owner}/{repo}.git/git-receive-pack
func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	owner, repoName := r.PathValue("owner"), pathRepoName(r)
	repo, ok := s.authorizeProtocolRepoAccess(w, r, owner, repoName, true)
	if !ok {
		return
	}

	body, err := readProtocolBody(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	response, err := s.openRepo(repo).ReceivePack(r.Context(), body)
	if err != nil {
		http.Error(w, "receive-pack failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

// readProtocolBody transparently decompresses a gzip-encoded git client
// request body, the way command-line git sends pushes by default.
func readProtocolBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return io.ReadAll(r.Body)
}
