package smarthttp

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/objstore"
	"github.com/gitlake/gitlake/internal/packfile"
)

func buildCommitGraph(t *testing.T, ctx context.Context, objects *objstore.Store) (root, blobOID, treeOID gitobj.OID) {
	t.Helper()

	var err error
	blobOID, err = objects.Put(ctx, gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("content\n")})
	if err != nil {
		t.Fatalf("Put blob: %v", err)
	}
	treeOID, err = objects.Put(ctx, gitobj.Envelope{
		Type:    gitobj.TypeTree,
		Payload: gitobj.SerializeTree([]gitobj.TreeEntry{{Mode: "100644", Name: "a.txt", OID: blobOID, Kind: gitobj.EntryBlob}}),
	})
	if err != nil {
		t.Fatalf("Put tree: %v", err)
	}
	payload := fmt.Sprintf("tree %s\nauthor a <a@example.com> 1700000000 +0000\ncommitter a <a@example.com> 1700000000 +0000\n\nmsg\n", treeOID)
	root, err = objects.Put(ctx, gitobj.Envelope{Type: gitobj.TypeCommit, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("Put commit: %v", err)
	}
	return root, blobOID, treeOID
}

func TestHandleUploadPackNoWantsReturnsBareFlush(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")

	resp, err := HandleUploadPack(ctx, objects, flushPkt())
	if err != nil {
		t.Fatalf("HandleUploadPack: %v", err)
	}
	if !bytes.Equal(resp, flushPkt()) {
		t.Fatalf("resp = %q, want bare flush-pkt", resp)
	}
}

func TestHandleUploadPackSendsReachableObjectsNotAlreadyHad(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	root, blobOID, treeOID := buildCommitGraph(t, ctx, objects)

	var body []byte
	body = append(body, encodeLine(fmt.Sprintf("want %s\n", root))...)
	body = append(body, flushPkt()...)

	resp, err := HandleUploadPack(ctx, objects, body)
	if err != nil {
		t.Fatalf("HandleUploadPack: %v", err)
	}

	nakPkt := encodeLine("NAK\n")
	if !bytes.HasPrefix(resp, nakPkt) {
		t.Fatalf("resp missing leading NAK pkt-line: %q", resp[:min(len(resp), 20)])
	}
	packBytes := resp[len(nakPkt):]
	if !bytes.HasPrefix(packBytes, packfile.Magic[:]) {
		t.Fatalf("expected a packfile immediately after NAK, got %q", packBytes[:min(len(packBytes), 8)])
	}

	count, err := packfile.ReadHeaderFields(packBytes)
	if err != nil {
		t.Fatalf("ReadHeaderFields: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3 (commit, tree, blob)", count)
	}

	table, err := packfile.BuildOffsetIndex(packBytes)
	if err != nil {
		t.Fatalf("BuildOffsetIndex: %v", err)
	}
	for _, oid := range []gitobj.OID{root, treeOID, blobOID} {
		oidBytes, _ := oid.Bytes()
		if _, ok := table[string(oidBytes)]; !ok {
			t.Fatalf("packed objects missing %s", oid)
		}
	}
}

func TestHandleUploadPackOmitsObjectsClientAlreadyHas(t *testing.T) {
	ctx := context.Background()
	objects := objstore.New(blobstore.NewMemoryBackend(), "repos/u/r.git")
	root, blobOID, treeOID := buildCommitGraph(t, ctx, objects)

	var body []byte
	body = append(body, encodeLine(fmt.Sprintf("want %s\n", root))...)
	for _, oid := range []gitobj.OID{root, treeOID, blobOID} {
		body = append(body, encodeLine(fmt.Sprintf("have %s\n", oid))...)
	}
	body = append(body, flushPkt()...)

	resp, err := HandleUploadPack(ctx, objects, body)
	if err != nil {
		t.Fatalf("HandleUploadPack: %v", err)
	}

	// The client claims to have everything reachable from root, so no pack
	// payload should follow (only NAK + flush).
	want := append(append([]byte{}, encodeLine("NAK\n")...), flushPkt()...)
	if !bytes.Equal(resp, want) {
		t.Fatalf("resp = %q, want %q", resp, want)
	}
}
