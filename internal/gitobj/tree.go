package gitobj

import (
	"bytes"
	"fmt"
	"sort"
)

// TreeEntryKind distinguishes subtrees from blobs for sort/display purposes.
type TreeEntryKind int

const (
	EntryBlob TreeEntryKind = iota
	EntryTree
)

// TreeEntry is one decoded entry of a tree object.
type TreeEntry struct {
	Mode string
	Name string
	OID  OID
	Kind TreeEntryKind
}

// ParseTree decodes the concatenated "<mode> <name>\0<20-byte-oid>" entries
// of a tree payload. Malformed trailing bytes are ignored, matching the
// original implementation's tolerant entry-by-entry scan.
func ParseTree(payload []byte) []TreeEntry {
	var entries []TreeEntry
	pos := 0
	for pos < len(payload) {
		nul := bytes.IndexByte(payload[pos:], 0)
		if nul < 0 {
			break
		}
		nul += pos
		header := string(payload[pos:nul])
		sp := bytes.IndexByte([]byte(header), ' ')
		if sp < 0 {
			break
		}
		mode := header[:sp]
		name := header[sp+1:]

		if nul+21 > len(payload) {
			break
		}
		oid := OIDFromBytes(payload[nul+1 : nul+21])

		kind := EntryBlob
		if mode == "40000" || mode == "040000" {
			kind = EntryTree
		}
		entries = append(entries, TreeEntry{Mode: mode, Name: name, OID: oid, Kind: kind})
		pos = nul + 21
	}
	return entries
}

// SerializeTree re-encodes entries into the canonical tree payload. Entries
// are written in the order given; callers that need canonical ordering
// should sort first (SortEntries implements subtrees-first, name-ascending).
func SerializeTree(entries []TreeEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode, e.Name)
		oidBytes, _ := e.OID.Bytes()
		buf.Write(oidBytes)
	}
	return buf.Bytes()
}

// SortEntries orders entries subtrees-first, then name-ascending, matching
// the branch metadata projector's root-tree snapshot ordering and the
// browsing API's tree listing order.
func SortEntries(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == EntryTree
		}
		return entries[i].Name < entries[j].Name
	})
}

// FindEntry returns the entry with the given name, or false if absent.
func FindEntry(entries []TreeEntry, name string) (TreeEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// String renders "tree" or "blob" for JSON responses, matching the
// browsing API's TreeEntry.type field.
func (k TreeEntryKind) String() string {
	if k == EntryTree {
		return "tree"
	}
	return "blob"
}
