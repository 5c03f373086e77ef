package api

import (
	"net/http"

	"github.com/gitlake/gitlake/internal/auth"
	"github.com/gitlake/gitlake/internal/metastore"
)

// resolveRepo loads the named repository and reports whether the
// requester may read it. Private repositories are visible only to
// their owner.
func (s *Server) resolveRepo(r *http.Request, ownerName, repoName string) (*metastore.Repository, bool) {
	repo, err := s.metaDB.GetRepository(r.Context(), ownerName, repoName)
	if err != nil {
		return nil, false
	}
	if !repo.IsPrivate {
		return repo, true
	}
	claims := auth.GetClaims(r.Context())
	if claims != nil && claims.UserID == repo.OwnerUserID {
		return repo, true
	}
	return repo, false
}

// authorizeRepoRead loads a repository for a browsing request and
// writes a 404 (never 403, to avoid confirming private repos exist)
// when the requester can't see it.
func (s *Server) authorizeRepoRead(w http.ResponseWriter, r *http.Request, ownerName, repoName string) (*metastore.Repository, bool) {
	repo, ok := s.resolveRepo(r, ownerName, repoName)
	if repo == nil {
		jsonError(w, "repository not found", http.StatusNotFound)
		return nil, false
	}
	if !ok {
		jsonError(w, "repository not found", http.StatusNotFound)
		return nil, false
	}
	return repo, true
}

// authorizeRepoWrite requires the requester to be authenticated as the
// repository's owner, used to gate repository deletion and the debug-refs
// dump.
func (s *Server) authorizeRepoWrite(w http.ResponseWriter, r *http.Request, ownerName, repoName string) (*metastore.Repository, bool) {
	repo, err := s.metaDB.GetRepository(r.Context(), ownerName, repoName)
	if err != nil {
		jsonError(w, "repository not found", http.StatusNotFound)
		return nil, false
	}
	claims := auth.GetClaims(r.Context())
	if claims == nil || claims.UserID != repo.OwnerUserID {
		jsonError(w, "write access denied", http.StatusForbidden)
		return nil, false
	}
	return repo, true
}

// authorizeProtocolRepoAccess authenticates a git smart-HTTP request in
// credential order — bearer token (already resolved by auth.Middleware
// into request context), then HTTP Basic, since git's native HTTP
// clients send Basic rather than a bearer header. write reports whether
// the operation being authorized is a push (git-receive-pack).
func (s *Server) authorizeProtocolRepoAccess(w http.ResponseWriter, r *http.Request, ownerName, repoName string, write bool) (*metastore.Repository, bool) {
	repo, err := s.metaDB.GetRepository(r.Context(), ownerName, repoName)
	if err != nil {
		http.Error(w, "repository not found", http.StatusNotFound)
		return nil, false
	}

	userID, authenticated := s.protocolRequestUserID(r)

	if write {
		if !authenticated || userID != repo.OwnerUserID {
			w.Header().Set("WWW-Authenticate", `Basic realm="gitlake"`)
			http.Error(w, "write access denied", http.StatusUnauthorized)
			return nil, false
		}
		return repo, true
	}

	if !repo.IsPrivate {
		return repo, true
	}
	if authenticated && userID == repo.OwnerUserID {
		return repo, true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="gitlake"`)
	http.Error(w, "repository not found", http.StatusNotFound)
	return nil, false
}

// protocolRequestUserID resolves the caller's user ID from whichever
// credential the request carried: a bearer token validated earlier by
// auth.Middleware, or HTTP Basic credentials checked here directly.
func (s *Server) protocolRequestUserID(r *http.Request) (int64, bool) {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.UserID, true
	}
	if user, err := s.basicAuthUser(r); err == nil {
		return user.ID, true
	}
	return 0, false
}
