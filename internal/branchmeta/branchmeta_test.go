package branchmeta

import (
	"context"
	"fmt"
	"testing"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/objstore"
)

type fakeStore struct {
	rows map[string]Metadata
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string]Metadata)} }

func rowKey(repoID, branch string) string { return repoID + "\x00" + branch }

func (f *fakeStore) UpsertBranchMetadata(ctx context.Context, meta Metadata) error {
	f.rows[rowKey(meta.RepoID, meta.Branch)] = meta
	return nil
}

func (f *fakeStore) DeleteBranchMetadata(ctx context.Context, repoID, branch string) error {
	delete(f.rows, rowKey(repoID, branch))
	return nil
}

func (f *fakeStore) GetBranchMetadata(ctx context.Context, repoID, branch string) (Metadata, bool, error) {
	m, ok := f.rows[rowKey(repoID, branch)]
	return m, ok, nil
}

func putBlob(t *testing.T, ctx context.Context, objects *objstore.Store, content string) gitobj.OID {
	t.Helper()
	oid, err := objects.Put(ctx, gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte(content)})
	if err != nil {
		t.Fatalf("Put blob: %v", err)
	}
	return oid
}

func putTree(t *testing.T, ctx context.Context, objects *objstore.Store, entries []gitobj.TreeEntry) gitobj.OID {
	t.Helper()
	gitobj.SortEntries(entries)
	oid, err := objects.Put(ctx, gitobj.Envelope{Type: gitobj.TypeTree, Payload: gitobj.SerializeTree(entries)})
	if err != nil {
		t.Fatalf("Put tree: %v", err)
	}
	return oid
}

func putCommit(t *testing.T, ctx context.Context, objects *objstore.Store, tree gitobj.OID, parent gitobj.OID, message string, ts int64) gitobj.OID {
	t.Helper()
	var payload string
	payload += fmt.Sprintf("tree %s\n", tree)
	if parent != "" {
		payload += fmt.Sprintf("parent %s\n", parent)
	}
	payload += fmt.Sprintf("author Ada Lovelace <ada@example.com> %d +0000\n", ts)
	payload += fmt.Sprintf("committer Ada Lovelace <ada@example.com> %d +0000\n", ts)
	payload += "\n" + message + "\n"

	oid, err := objects.Put(ctx, gitobj.Envelope{Type: gitobj.TypeCommit, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("Put commit: %v", err)
	}
	return oid
}

func TestRefreshProjectsFullMetadataForFreshBranch(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	store := newFakeStore()
	p := New(objects, store)

	readmeOID := putBlob(t, ctx, objects, "# hello\n")
	srcOID := putBlob(t, ctx, objects, "package main\n")
	tree := putTree(t, ctx, objects, []gitobj.TreeEntry{
		{Mode: "100644", Name: "README.md", OID: readmeOID, Kind: gitobj.EntryBlob},
		{Mode: "100644", Name: "main.go", OID: srcOID, Kind: gitobj.EntryBlob},
	})

	root := putCommit(t, ctx, objects, tree, "", "root commit", 1700000000)
	c2 := putCommit(t, ctx, objects, tree, root, "second commit", 1700000100)
	c3 := putCommit(t, ctx, objects, tree, c2, "third commit", 1700000200)

	if err := p.Refresh(ctx, "repo-1", "main", "", c3); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	meta, ok, err := store.GetBranchMetadata(ctx, "repo-1", "main")
	if err != nil || !ok {
		t.Fatalf("GetBranchMetadata = %v, %v, %v", meta, ok, err)
	}
	if meta.CommitCount != 3 {
		t.Fatalf("CommitCount = %d, want 3", meta.CommitCount)
	}
	if meta.HeadOID != c3 || meta.LastCommitOID != c3 {
		t.Fatalf("HeadOID/LastCommitOID = %s/%s, want %s", meta.HeadOID, meta.LastCommitOID, c3)
	}
	if meta.LastCommitMessage != "third commit" {
		t.Fatalf("LastCommitMessage = %q", meta.LastCommitMessage)
	}
	if meta.ReadmeOID != readmeOID {
		t.Fatalf("ReadmeOID = %s, want %s (case-insensitive readme.md match)", meta.ReadmeOID, readmeOID)
	}
	if len(meta.RootTree) != 2 || meta.RootTree[0].Name != "README.md" || meta.RootTree[1].Name != "main.go" {
		t.Fatalf("RootTree = %+v, want name-ascending [README.md, main.go]", meta.RootTree)
	}
}

func TestRefreshIncrementalCountReusesPriorRow(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	store := newFakeStore()
	p := New(objects, store)

	tree := putTree(t, ctx, objects, nil)
	root := putCommit(t, ctx, objects, tree, "", "root", 1700000000)
	c2 := putCommit(t, ctx, objects, tree, root, "second", 1700000100)

	if err := p.Refresh(ctx, "repo-1", "main", "", c2); err != nil {
		t.Fatalf("Refresh initial: %v", err)
	}
	first, _, _ := store.GetBranchMetadata(ctx, "repo-1", "main")
	if first.CommitCount != 2 {
		t.Fatalf("initial CommitCount = %d, want 2", first.CommitCount)
	}

	c3 := putCommit(t, ctx, objects, tree, c2, "third", 1700000200)
	if err := p.Refresh(ctx, "repo-1", "main", c2, c3); err != nil {
		t.Fatalf("Refresh incremental: %v", err)
	}

	updated, _, _ := store.GetBranchMetadata(ctx, "repo-1", "main")
	if updated.CommitCount != 3 {
		t.Fatalf("incremental CommitCount = %d, want 3 (2 prior + 1 new)", updated.CommitCount)
	}
}

func TestRefreshFallsBackToFullWalkWhenPriorHeadMismatches(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	store := newFakeStore()
	p := New(objects, store)

	tree := putTree(t, ctx, objects, nil)
	root := putCommit(t, ctx, objects, tree, "", "root", 1700000000)
	c2 := putCommit(t, ctx, objects, tree, root, "second", 1700000100)
	c3 := putCommit(t, ctx, objects, tree, c2, "third", 1700000200)

	// Seed a prior row whose HeadOID does not match the oldHead passed to
	// Refresh, forcing the full-walk path instead of the incremental one.
	if err := store.UpsertBranchMetadata(ctx, Metadata{RepoID: "repo-1", Branch: "main", HeadOID: root, CommitCount: 999}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := p.Refresh(ctx, "repo-1", "main", c2, c3); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	meta, _, _ := store.GetBranchMetadata(ctx, "repo-1", "main")
	if meta.CommitCount != 3 {
		t.Fatalf("CommitCount = %d, want 3 (full walk from c3, ignoring bogus prior count)", meta.CommitCount)
	}
}

func TestRefreshWithZeroOIDDeletesRow(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	store := newFakeStore()
	p := New(objects, store)

	tree := putTree(t, ctx, objects, nil)
	root := putCommit(t, ctx, objects, tree, "", "root", 1700000000)

	if err := p.Refresh(ctx, "repo-1", "feature", "", root); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok, _ := store.GetBranchMetadata(ctx, "repo-1", "feature"); !ok {
		t.Fatal("expected row to exist before deletion")
	}

	if err := p.Refresh(ctx, "repo-1", "feature", root, gitobj.ZeroOID); err != nil {
		t.Fatalf("Refresh delete: %v", err)
	}
	if _, ok, _ := store.GetBranchMetadata(ctx, "repo-1", "feature"); ok {
		t.Fatal("expected row to be deleted when newHead is the zero OID")
	}
}
