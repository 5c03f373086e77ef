package gitobj

import "testing"

func entryOID(b byte) OID {
	raw := make([]byte, 20)
	raw[19] = b
	return OIDFromBytes(raw)
}

func TestParseSerializeTreeRoundTrip(t *testing.T) {
	entries := []TreeEntry{
		{Mode: "100644", Name: "readme.md", OID: entryOID(1), Kind: EntryBlob},
		{Mode: "40000", Name: "src", OID: entryOID(2), Kind: EntryTree},
	}

	payload := SerializeTree(entries)
	parsed := ParseTree(payload)

	if len(parsed) != len(entries) {
		t.Fatalf("len(parsed) = %d, want %d", len(parsed), len(entries))
	}
	for i, e := range entries {
		if parsed[i] != e {
			t.Fatalf("entry %d = %+v, want %+v", i, parsed[i], e)
		}
	}
}

func TestSortEntriesSubtreesFirstThenName(t *testing.T) {
	entries := []TreeEntry{
		{Name: "zebra.go", Kind: EntryBlob},
		{Name: "apple", Kind: EntryTree},
		{Name: "banana.go", Kind: EntryBlob},
		{Name: "zoo", Kind: EntryTree},
	}
	SortEntries(entries)

	want := []string{"apple", "zoo", "banana.go", "zebra.go"}
	for i, name := range want {
		if entries[i].Name != name {
			t.Fatalf("entries[%d].Name = %q, want %q", i, entries[i].Name, name)
		}
	}
}

func TestFindEntry(t *testing.T) {
	entries := []TreeEntry{
		{Name: "a.txt", Kind: EntryBlob, OID: entryOID(1)},
		{Name: "b.txt", Kind: EntryBlob, OID: entryOID(2)},
	}
	got, ok := FindEntry(entries, "b.txt")
	if !ok || got.OID != entryOID(2) {
		t.Fatalf("FindEntry(b.txt) = %+v, %v", got, ok)
	}
	if _, ok := FindEntry(entries, "missing"); ok {
		t.Fatal("expected FindEntry to report absence")
	}
}
