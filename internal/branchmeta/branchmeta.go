// Package branchmeta implements the Branch Metadata Projector: a
// denormalized per-(repo, branch) summary — commit count, last-commit
// details, a root-tree snapshot, and the readme blob's OID — refreshed
// after every accepted push so the browsing API never has to walk commit
// history or tree objects on the read path.
package branchmeta

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/objstore"
)

// maxCommitWalk bounds a full (non-incremental) commit count walk.
const maxCommitWalk = 200_000

// RootTreeEntry is one entry of the root tree snapshot, subtrees sorted
// ahead of blobs and each group name-ascending (gitobj.SortEntries order).
type RootTreeEntry struct {
	Name string
	Kind string // "tree" or "blob"
	OID  gitobj.OID
}

// Metadata is the full projected row for one (repo, branch).
type Metadata struct {
	RepoID      string
	Branch      string
	HeadOID     gitobj.OID
	CommitCount int

	LastCommitOID         gitobj.OID
	LastCommitMessage     string
	LastCommitAuthorName  string
	LastCommitAuthorEmail string
	LastCommitTimestamp   time.Time

	ReadmeOID gitobj.OID // empty if no readme at the root
	RootTree  []RootTreeEntry

	UpdatedAt time.Time
}

// Store is the external metadata-table collaborator (§6's BranchMetadata
// columns), implemented by internal/metastore.
type Store interface {
	UpsertBranchMetadata(ctx context.Context, meta Metadata) error
	DeleteBranchMetadata(ctx context.Context, repoID, branch string) error
	GetBranchMetadata(ctx context.Context, repoID, branch string) (Metadata, bool, error)
}

// Projector recomputes and persists branch metadata.
type Projector struct {
	objects *objstore.Store
	store   Store
}

func New(objects *objstore.Store, store Store) *Projector {
	return &Projector{objects: objects, store: store}
}

// Refresh recomputes metadata for (repoID, branch) given the ref's old and
// new head after a push. newHead == gitobj.ZeroOID means the branch was
// deleted, in which case the projected row is removed instead of
// recomputed.
func (p *Projector) Refresh(ctx context.Context, repoID, branch string, oldHead, newHead gitobj.OID) error {
	if newHead == gitobj.ZeroOID || newHead == "" {
		return p.store.DeleteBranchMetadata(ctx, repoID, branch)
	}

	commit, ok, err := p.getCommit(ctx, newHead)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("branchmeta: head commit %s not found", newHead)
	}

	count, err := p.commitCount(ctx, repoID, branch, oldHead, newHead)
	if err != nil {
		return err
	}

	rootTree, readmeOID, err := p.snapshotRootTree(ctx, commit.Tree)
	if err != nil {
		return err
	}

	meta := Metadata{
		RepoID:                repoID,
		Branch:                branch,
		HeadOID:               newHead,
		CommitCount:           count,
		LastCommitOID:         newHead,
		LastCommitMessage:     commit.Message,
		LastCommitAuthorName:  commit.Author.Name,
		LastCommitAuthorEmail: commit.Author.Email,
		LastCommitTimestamp:   commit.Author.When,
		ReadmeOID:             readmeOID,
		RootTree:              rootTree,
		UpdatedAt:             time.Now().UTC(),
	}
	return p.store.UpsertBranchMetadata(ctx, meta)
}

// commitCount tries the incremental path first: if the previously
// projected head is an ancestor of the new head within maxCommitWalk
// hops, the new count is the old count plus the distance walked. Anything
// else (no prior row, oldHead absent, not-found-within-bound) falls back
// to a full walk from newHead, still bounded at maxCommitWalk.
func (p *Projector) commitCount(ctx context.Context, repoID, branch string, oldHead, newHead gitobj.OID) (int, error) {
	if oldHead != "" && oldHead != gitobj.ZeroOID {
		if prior, ok, err := p.store.GetBranchMetadata(ctx, repoID, branch); err == nil && ok && prior.HeadOID == oldHead {
			distance, found, err := p.walkDistance(ctx, newHead, oldHead, maxCommitWalk)
			if err != nil {
				return 0, err
			}
			if found {
				return prior.CommitCount + distance, nil
			}
		}
	}
	distance, _, err := p.walkDistance(ctx, newHead, "", maxCommitWalk)
	return distance, err
}

// walkDistance walks the first-parent chain only (commit.Parent(), matching
// the original's single-parent-chain walk, which only follows commit.1 — the
// first parent) from start, counting hops until stop is reached (found
// becomes true) or the walk is exhausted. Other parents of a merge are not
// followed. If stop is empty, the walk counts every commit on the
// first-parent chain until history ends.
func (p *Projector) walkDistance(ctx context.Context, start, stop gitobj.OID, maxSteps int) (int, bool, error) {
	count := 0
	current := start
	for current != "" {
		if stop != "" && current == stop {
			return count, true, nil
		}
		if count >= maxSteps {
			return count, false, nil
		}
		commit, ok, err := p.getCommit(ctx, current)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		count++
		current = commit.Parent()
	}
	if stop == "" {
		return count, true, nil
	}
	return count, false, nil
}

func (p *Projector) getCommit(ctx context.Context, oid gitobj.OID) (gitobj.Commit, bool, error) {
	env, err := p.objects.Get(ctx, oid)
	if err != nil {
		return gitobj.Commit{}, false, nil
	}
	if env.Type != gitobj.TypeCommit {
		return gitobj.Commit{}, false, nil
	}
	commit, ok := gitobj.ParseCommit(env.Payload)
	return commit, ok, nil
}

// snapshotRootTree lists the root tree's entries (sorted subtrees-first,
// then name-ascending) and, if present, the case-insensitive "readme.md"
// blob's OID.
func (p *Projector) snapshotRootTree(ctx context.Context, treeOID gitobj.OID) ([]RootTreeEntry, gitobj.OID, error) {
	if treeOID == "" {
		return nil, "", nil
	}
	env, err := p.objects.Get(ctx, treeOID)
	if err != nil {
		return nil, "", err
	}
	if env.Type != gitobj.TypeTree {
		return nil, "", fmt.Errorf("branchmeta: root oid %s is not a tree", treeOID)
	}

	entries := gitobj.ParseTree(env.Payload)
	gitobj.SortEntries(entries)

	snapshot := make([]RootTreeEntry, 0, len(entries))
	var readmeOID gitobj.OID
	for _, e := range entries {
		snapshot = append(snapshot, RootTreeEntry{Name: e.Name, Kind: e.Kind.String(), OID: e.OID})
		if e.Kind == gitobj.EntryBlob && strings.EqualFold(e.Name, "readme.md") {
			readmeOID = e.OID
		}
	}
	return snapshot, readmeOID, nil
}
