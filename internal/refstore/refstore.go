// Package refstore implements the ref layer: loose refs, the packed-refs
// fallback file, symbolic-ref indirection (HEAD), and ref listing. Every
// write is a last-writer-wins blob put — there is no compare-and-swap
// against an advertised old OID (§9's deliberate choice; a CAS/ETag-fenced
// variant is a compatible future extension, not introduced here).
package refstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/gitobj"
)

// maxSymbolicDepth bounds "ref: <other-ref>" indirection chases.
const maxSymbolicDepth = 10

const symbolicPrefix = "ref: "

// Ref is a resolved (name, oid) pair as surfaced by ListRefs.
type Ref struct {
	Name string
	OID  gitobj.OID
}

// Store is the Ref Store component (§4.3), scoped to one repository prefix
// within a blob store backend.
type Store struct {
	backend blobstore.Backend
	prefix  string
}

func New(backend blobstore.Backend, repoPrefix string) *Store {
	return &Store{backend: backend, prefix: repoPrefix}
}

func (s *Store) key(refName string) string {
	return fmt.Sprintf("%s/%s", s.prefix, refName)
}

// ReadRef returns the raw trimmed contents of a loose ref file: either a
// 40-char hex OID or a "ref: <target>" symbolic indirection. ok is false if
// no loose ref exists at this name (it may still exist only in
// packed-refs; callers wanting full resolution should use ResolveRef).
func (s *Store) ReadRef(ctx context.Context, refName string) (content string, ok bool, err error) {
	data, err := s.backend.Get(ctx, s.key(refName))
	if err != nil {
		if blobstore.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

// WriteRef stores a loose ref pointing directly at oid, overwriting
// whatever was there. No old-value check is performed.
func (s *Store) WriteRef(ctx context.Context, refName string, oid gitobj.OID) error {
	return s.backend.Put(ctx, s.key(refName), []byte(string(oid)+"\n"))
}

// WriteSymbolicRef stores a loose ref that indirects to another ref name,
// used for HEAD.
func (s *Store) WriteSymbolicRef(ctx context.Context, refName, target string) error {
	return s.backend.Put(ctx, s.key(refName), []byte(symbolicPrefix+target+"\n"))
}

// DeleteRef removes a loose ref. It does not touch packed-refs; a ref
// listed only in packed-refs is considered deleted once no loose ref
// shadows it and callers stop advertising it (this store does not rewrite
// packed-refs on delete, matching the original's minimal ref management).
func (s *Store) DeleteRef(ctx context.Context, refName string) error {
	return s.backend.Delete(ctx, s.key(refName))
}

// ResolveRef follows symbolic indirection down to a concrete 40-char OID,
// falling back to packed-refs when no loose ref is present. Depth is capped
// at 10 hops; a chain longer than that resolves to not-found rather than
// looping forever.
func (s *Store) ResolveRef(ctx context.Context, refName string) (gitobj.OID, bool, error) {
	return s.resolveRef(ctx, refName, 0)
}

func (s *Store) resolveRef(ctx context.Context, refName string, depth int) (gitobj.OID, bool, error) {
	if depth > maxSymbolicDepth {
		return "", false, nil
	}

	content, ok, err := s.ReadRef(ctx, refName)
	if err != nil {
		return "", false, err
	}
	if ok {
		if target, isSymbolic := strings.CutPrefix(content, symbolicPrefix); isSymbolic {
			return s.resolveRef(ctx, strings.TrimSpace(target), depth+1)
		}
		oid := gitobj.OID(content)
		if oid.Valid() {
			return oid, true, nil
		}
	}

	packed, perr := s.readPackedRefs(ctx)
	if perr != nil {
		return "", false, perr
	}
	for _, r := range packed {
		if r.Name == refName {
			return r.OID, true, nil
		}
	}
	return "", false, nil
}

// ListRefs returns every ref whose name has the given prefix (typically
// "refs/heads" or "refs/tags"), unioning packed-refs with loose refs.
// A loose ref shadows a packed entry of the same name.
func (s *Store) ListRefs(ctx context.Context, namePrefix string) ([]Ref, error) {
	seen := make(map[string]bool)
	var refs []Ref

	packed, err := s.readPackedRefs(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range packed {
		if strings.HasPrefix(r.Name, namePrefix) {
			refs = append(refs, r)
			seen[r.Name] = true
		}
	}

	keys, err := s.backend.List(ctx, s.key(namePrefix))
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, s.prefix+"/")
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			if blobstore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		content := strings.TrimSpace(string(data))
		if oid := gitobj.OID(content); oid.Valid() {
			if seen[name] {
				for i := range refs {
					if refs[i].Name == name {
						refs[i].OID = oid
					}
				}
				continue
			}
			refs = append(refs, Ref{Name: name, OID: oid})
			seen[name] = true
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (s *Store) readPackedRefs(ctx context.Context) ([]Ref, error) {
	data, err := s.backend.Get(ctx, s.key("packed-refs"))
	if err != nil {
		if blobstore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var refs []Ref
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		oid, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		parsed := gitobj.OID(oid)
		if !parsed.Valid() {
			continue
		}
		refs = append(refs, Ref{Name: name, OID: parsed})
	}
	return refs, nil
}

// WritePackedRefs serializes refs into the packed-refs format and stores
// it, replacing any previous contents wholesale.
func WritePackedRefs(ctx context.Context, s *Store, refs []Ref) error {
	var buf bytes.Buffer
	buf.WriteString("# pack-refs with: peeled fully-peeled sorted\n")
	for _, r := range refs {
		fmt.Fprintf(&buf, "%s %s\n", r.OID, r.Name)
	}
	return s.backend.Put(ctx, s.key("packed-refs"), buf.Bytes())
}
