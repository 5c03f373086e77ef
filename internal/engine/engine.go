// Package engine is the top-level façade: it wires the blob store adapter
// to the object/ref stores and the smart-HTTP handlers, projects branch
// metadata after every accepted push, and exposes the browsing-API
// operations the HTTP layer renders as JSON.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/branchmeta"
	"github.com/gitlake/gitlake/internal/enginecache"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/metastore"
	"github.com/gitlake/gitlake/internal/objstore"
	"github.com/gitlake/gitlake/internal/refstore"
	"github.com/gitlake/gitlake/internal/smarthttp"
)

// maxTreeCommitsWalk bounds the per-entry last-touching-commit walk,
// reusing the branch metadata projector's own history-walk cap.
const maxTreeCommitsWalk = 200_000

// Engine composes one backend across every repository it serves; callers
// scope calls to a repository by passing its blob-store key prefix
// ("repos/<user-id>/<repo>.git").
type Engine struct {
	backend blobstore.Backend
	meta    metastore.DB
	adCache *enginecache.AdvertisementCache
	kv      enginecache.KV
}

func New(backend blobstore.Backend, meta metastore.DB, adCache *enginecache.AdvertisementCache, kv enginecache.KV) *Engine {
	return &Engine{backend: backend, meta: meta, adCache: adCache, kv: kv}
}

// Repo binds the engine to one repository's storage prefix, composing its
// object and ref stores and the branch metadata projector.
type Repo struct {
	e         *Engine
	prefix    string
	repoID    string
	objects   *objstore.Store
	refs      *refstore.Store
	projector *branchmeta.Projector
}

func (e *Engine) Open(repoID string, prefix string) *Repo {
	objects := objstore.New(e.backend, prefix)
	return &Repo{
		e:         e,
		prefix:    prefix,
		repoID:    repoID,
		objects:   objects,
		refs:      refstore.New(e.backend, prefix),
		projector: branchmeta.New(objects, e.meta),
	}
}

// Init writes the initial HEAD/config/description blobs for a freshly
// registered repository.
func (r *Repo) Init(ctx context.Context) error {
	if err := r.e.backend.Put(ctx, r.prefix+"/HEAD", []byte("ref: refs/heads/main\n")); err != nil {
		return err
	}
	const minimalConfig = "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = true\n"
	if err := r.e.backend.Put(ctx, r.prefix+"/config", []byte(minimalConfig)); err != nil {
		return err
	}
	return r.e.backend.Put(ctx, r.prefix+"/description", []byte("Unnamed repository\n"))
}

// --- smart-HTTP surface ---

func (r *Repo) InfoRefs(ctx context.Context, service string) ([]byte, error) {
	return smarthttp.BuildAdvertisement(ctx, r.refs, r.prefix, service, r.e.adCache)
}

func (r *Repo) UploadPack(ctx context.Context, body []byte) ([]byte, error) {
	return smarthttp.HandleUploadPack(ctx, r.objects, body)
}

// ReceivePack applies the pushed pack and ref updates, then refreshes
// branch metadata and invalidates caches for every updated branch ref.
func (r *Repo) ReceivePack(ctx context.Context, body []byte) ([]byte, error) {
	response, applied, err := smarthttp.HandleReceivePack(ctx, r.objects, r.refs, r.e.backend, r.prefix, body)
	if err != nil {
		return nil, err
	}

	r.e.adCache.Invalidate(r.prefix)

	for _, u := range applied {
		branch, ok := strings.CutPrefix(u.RefName, "refs/heads/")
		if !ok {
			continue
		}
		if err := r.projector.Refresh(ctx, r.repoID, branch, u.OldOID, u.NewOID); err != nil {
			continue
		}
		if r.e.kv != nil {
			_ = r.e.kv.DeletePattern(ctx, enginecache.BranchPattern(r.prefix, branch))
		}
	}
	return response, nil
}

// --- browsing API ---

type CommitSummary struct {
	OID     gitobj.OID
	Parents []gitobj.OID
	Author  gitobj.Signature
	Message string
}

func toSummary(oid gitobj.OID, c gitobj.Commit) CommitSummary {
	return CommitSummary{OID: oid, Parents: c.Parents, Author: c.Author, Message: c.Message}
}

// ListBranches returns every "refs/heads/*" branch name, unprefixed.
func (r *Repo) ListBranches(ctx context.Context) ([]string, error) {
	refs, err := r.refs.ListRefs(ctx, "refs/heads")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, strings.TrimPrefix(ref.Name, "refs/heads/"))
	}
	return names, nil
}

// ListCommits walks the first-parent chain from branch, applying skip then
// limit, and reports whether more commits exist beyond the returned page.
func (r *Repo) ListCommits(ctx context.Context, branch string, limit, skip int) ([]CommitSummary, bool, error) {
	if limit <= 0 {
		limit = 30
	}
	head, ok, err := r.refs.ResolveRef(ctx, "refs/heads/"+branch)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var out []CommitSummary
	current := head
	index := 0
	for current != "" {
		commit, ok, err := r.getCommit(ctx, current)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		if index >= skip {
			if len(out) >= limit {
				return out, true, nil
			}
			out = append(out, toSummary(current, commit))
		}
		index++
		current = commit.Parent()
	}
	return out, false, nil
}

// CountCommits returns the first-parent commit count reachable from
// branch, bounded at the same walk cap branchmeta uses for a full walk.
func (r *Repo) CountCommits(ctx context.Context, branch string) (int, error) {
	head, ok, err := r.refs.ResolveRef(ctx, "refs/heads/"+branch)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count := 0
	current := head
	for current != "" && count < maxTreeCommitsWalk {
		commit, ok, err := r.getCommit(ctx, current)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		count++
		current = commit.Parent()
	}
	return count, nil
}

func (r *Repo) GetCommitByOID(ctx context.Context, oid gitobj.OID) (CommitSummary, bool, error) {
	commit, ok, err := r.getCommit(ctx, oid)
	if err != nil || !ok {
		return CommitSummary{}, ok, err
	}
	return toSummary(oid, commit), true, nil
}

func (r *Repo) getCommit(ctx context.Context, oid gitobj.OID) (gitobj.Commit, bool, error) {
	env, err := r.objects.Get(ctx, oid)
	if err != nil {
		return gitobj.Commit{}, false, nil
	}
	if env.Type != gitobj.TypeCommit {
		return gitobj.Commit{}, false, nil
	}
	commit, ok := gitobj.ParseCommit(env.Payload)
	return commit, ok, nil
}

// GetTree lists the entries of the tree at path within branch's head
// commit, navigating subtrees by name.
func (r *Repo) GetTree(ctx context.Context, branch, dirPath string) ([]gitobj.TreeEntry, error) {
	treeOID, err := r.resolveTreeOID(ctx, branch, dirPath)
	if err != nil {
		return nil, err
	}
	env, err := r.objects.Get(ctx, treeOID)
	if err != nil {
		return nil, err
	}
	if env.Type != gitobj.TypeTree {
		return nil, fmt.Errorf("engine: %s is not a tree", treeOID)
	}
	entries := gitobj.ParseTree(env.Payload)
	gitobj.SortEntries(entries)
	return entries, nil
}

// GetFile returns the decoded blob content at path within branch's head
// commit.
func (r *Repo) GetFile(ctx context.Context, branch, filePath string) (gitobj.Envelope, error) {
	dir, name := splitPath(filePath)
	treeOID, err := r.resolveTreeOID(ctx, branch, dir)
	if err != nil {
		return gitobj.Envelope{}, err
	}
	entries, err := r.listTreeEntries(ctx, treeOID)
	if err != nil {
		return gitobj.Envelope{}, err
	}
	entry, ok := gitobj.FindEntry(entries, name)
	if !ok || entry.Kind != gitobj.EntryBlob {
		return gitobj.Envelope{}, fmt.Errorf("engine: file not found: %s", filePath)
	}
	return r.objects.Get(ctx, entry.OID)
}

// GetBlobByOID fetches a blob directly by its OID (used by the readme(oid)
// endpoint, which addresses content independent of the current tree).
func (r *Repo) GetBlobByOID(ctx context.Context, oid gitobj.OID) (gitobj.Envelope, error) {
	return r.objects.Get(ctx, oid)
}

// ReadmeOID returns the root-level readme.md blob OID for branch, if any.
func (r *Repo) ReadmeOID(ctx context.Context, branch string) (gitobj.OID, bool, error) {
	entries, err := r.GetTree(ctx, branch, "")
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.Kind == gitobj.EntryBlob && strings.EqualFold(e.Name, "readme.md") {
			return e.OID, true, nil
		}
	}
	return "", false, nil
}

func (r *Repo) resolveTreeOID(ctx context.Context, branch, dirPath string) (gitobj.OID, error) {
	head, ok, err := r.refs.ResolveRef(ctx, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("engine: branch not found: %s", branch)
	}
	commit, ok, err := r.getCommit(ctx, head)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("engine: head commit not found for %s", branch)
	}

	current := commit.Tree
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return current, nil
	}
	for _, part := range strings.Split(dirPath, "/") {
		entries, err := r.listTreeEntries(ctx, current)
		if err != nil {
			return "", err
		}
		entry, ok := gitobj.FindEntry(entries, part)
		if !ok || entry.Kind != gitobj.EntryTree {
			return "", fmt.Errorf("engine: directory not found: %s", dirPath)
		}
		current = entry.OID
	}
	return current, nil
}

func (r *Repo) listTreeEntries(ctx context.Context, treeOID gitobj.OID) ([]gitobj.TreeEntry, error) {
	env, err := r.objects.Get(ctx, treeOID)
	if err != nil {
		return nil, err
	}
	if env.Type != gitobj.TypeTree {
		return nil, fmt.Errorf("engine: %s is not a tree", treeOID)
	}
	return gitobj.ParseTree(env.Payload), nil
}

func splitPath(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}

// DebugRefs dumps every branch and tag ref and its OID — an operational
// diagnostic with no protocol surface.
type RefDump struct {
	Name string
	OID  gitobj.OID
}

func (r *Repo) DebugRefs(ctx context.Context) ([]RefDump, error) {
	var out []RefDump
	for _, prefix := range []string{"refs/heads", "refs/tags"} {
		refs, err := r.refs.ListRefs(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			out = append(out, RefDump{Name: ref.Name, OID: ref.OID})
		}
	}
	return out, nil
}

// TreeEntryWithCommit annotates a tree entry with the most recent commit
// OID that touched it.
type TreeEntryWithCommit struct {
	gitobj.TreeEntry
	LastCommitOID gitobj.OID
}

// TreeCommits lists dirPath's entries annotated with the last commit that
// changed each one: a bounded first-parent walk comparing each commit's
// tree at dirPath against its parent's, stopping once every entry has been
// attributed or the walk cap is reached.
func (r *Repo) TreeCommits(ctx context.Context, branch, dirPath string) ([]TreeEntryWithCommit, error) {
	entries, err := r.GetTree(ctx, branch, dirPath)
	if err != nil {
		return nil, err
	}
	pending := make(map[string]bool, len(entries))
	oidOf := make(map[string]gitobj.OID, len(entries))
	for _, e := range entries {
		pending[e.Name] = true
		oidOf[e.Name] = e.OID
	}

	out := make([]TreeEntryWithCommit, len(entries))
	for i, e := range entries {
		out[i] = TreeEntryWithCommit{TreeEntry: e}
	}

	head, ok, err := r.refs.ResolveRef(ctx, "refs/heads/"+branch)
	if err != nil || !ok {
		return out, err
	}

	current := head
	for steps := 0; current != "" && len(pending) > 0 && steps < maxTreeCommitsWalk; steps++ {
		commit, ok, err := r.getCommit(ctx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		treeOID, terr := r.treeOIDAtPath(ctx, commit.Tree, dirPath)
		if terr == nil {
			parentTreeOID := gitobj.OID("")
			if parent := commit.Parent(); parent != "" {
				if pc, ok, _ := r.getCommit(ctx, parent); ok {
					if pt, perr := r.treeOIDAtPath(ctx, pc.Tree, dirPath); perr == nil {
						parentTreeOID = pt
					}
				}
			}
			parentEntries, _ := r.listTreeEntries(ctx, parentTreeOID)
			parentOIDOf := make(map[string]gitobj.OID, len(parentEntries))
			for _, pe := range parentEntries {
				parentOIDOf[pe.Name] = pe.OID
			}
			curEntries, cerr := r.listTreeEntries(ctx, treeOID)
			if cerr == nil {
				curOIDOf := make(map[string]gitobj.OID, len(curEntries))
				for _, ce := range curEntries {
					curOIDOf[ce.Name] = ce.OID
				}
				for name := range pending {
					if curOIDOf[name] != parentOIDOf[name] {
						for i := range out {
							if out[i].Name == name {
								out[i].LastCommitOID = current
							}
						}
						delete(pending, name)
					}
				}
			}
		}
		current = commit.Parent()
	}
	return out, nil
}

func (r *Repo) treeOIDAtPath(ctx context.Context, rootTree gitobj.OID, dirPath string) (gitobj.OID, error) {
	current := rootTree
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return current, nil
	}
	for _, part := range strings.Split(dirPath, "/") {
		entries, err := r.listTreeEntries(ctx, current)
		if err != nil {
			return "", err
		}
		entry, ok := gitobj.FindEntry(entries, part)
		if !ok || entry.Kind != gitobj.EntryTree {
			return "", fmt.Errorf("engine: directory not found: %s", dirPath)
		}
		current = entry.OID
	}
	return current, nil
}

// PageData bundles branches, a tree listing, the readme OID, and the
// commit count into one response for a repository landing page.
type PageData struct {
	Branches    []string
	Tree        []gitobj.TreeEntry
	ReadmeOID   gitobj.OID
	HasReadme   bool
	CommitCount int
}

func (r *Repo) GetPageData(ctx context.Context, branch, path string) (PageData, error) {
	branches, err := r.ListBranches(ctx)
	if err != nil {
		return PageData{}, err
	}
	tree, err := r.GetTree(ctx, branch, path)
	if err != nil {
		return PageData{}, err
	}
	readmeOID, hasReadme, err := r.ReadmeOID(ctx, branch)
	if err != nil {
		return PageData{}, err
	}
	count, err := r.CountCommits(ctx, branch)
	if err != nil {
		return PageData{}, err
	}
	return PageData{Branches: branches, Tree: tree, ReadmeOID: readmeOID, HasReadme: hasReadme, CommitCount: count}, nil
}

// RepoIDString renders a metastore repository ID the way branch metadata
// keys its rows.
func RepoIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
