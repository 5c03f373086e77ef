package objstore

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"testing"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/packfile"
)

func TestPutGetRoundTripLooseObject(t *testing.T) {
	ctx := context.Background()
	s := New(blobstore.NewMemoryBackend(), "repos/u/r.git")

	env := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("loose content")}
	oid, err := s.Put(ctx, env)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if oid != env.HashOID() {
		t.Fatalf("Put returned %s, want %s", oid, env.HashOID())
	}

	got, err := s.Get(ctx, oid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != env.Type || string(got.Payload) != string(env.Payload) {
		t.Fatalf("Get = %+v, want %+v", got, env)
	}

	has, err := s.Has(ctx, oid)
	if err != nil || !has {
		t.Fatalf("Has = %v, %v; want true, nil", has, err)
	}
}

func TestGetMissingObjectFails(t *testing.T) {
	ctx := context.Background()
	s := New(blobstore.NewMemoryBackend(), "repos/u/r.git")

	missing := gitobj.OID("0000000000000000000000000000000000000a")
	if _, err := s.Get(ctx, missing); err == nil {
		t.Fatal("expected Get to fail for a missing object")
	}
	if has, err := s.Has(ctx, missing); err != nil || has {
		t.Fatalf("Has = %v, %v; want false, nil", has, err)
	}
}

// encodeVarint mirrors the pack codec's own base-128 varint encoding.
func encodeVarint(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// buildFullIndex constructs a real v2 pack index over the given entries, so
// Find resolves by fanout/sha-table scan rather than the minimal-index
// scan fallback.
func buildFullIndex(t *testing.T, entries map[gitobj.OID]uint64) []byte {
	t.Helper()

	type entry struct {
		oid    []byte
		offset uint64
	}
	var sorted []entry
	for oid, off := range entries {
		oidBytes, err := oid.Bytes()
		if err != nil {
			t.Fatalf("OID.Bytes: %v", err)
		}
		sorted = append(sorted, entry{oid: oidBytes, offset: off})
	}
	// insertion sort by raw bytes, good enough for the tiny fixtures here.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && string(sorted[j-1].oid) > string(sorted[j].oid); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	var fanout [256]uint32
	for _, e := range sorted {
		for b := int(e.oid[0]); b < 256; b++ {
			fanout[b]++
		}
	}

	buf := make([]byte, 0, 1024)
	buf = append(buf, packfile.IndexMagic[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 2)
	for _, f := range fanout {
		buf = binary.BigEndian.AppendUint32(buf, f)
	}
	for _, e := range sorted {
		buf = append(buf, e.oid...)
	}
	for range sorted {
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}
	for _, e := range sorted {
		buf = binary.BigEndian.AppendUint32(buf, uint32(e.offset))
	}
	var packChecksum [20]byte
	buf = append(buf, packChecksum[:]...)
	sum := sha1.Sum(buf)
	buf = append(buf, sum[:]...)
	return buf
}

func TestGetResolvesRefDeltaAcrossPacks(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	prefix := "repos/u/r.git"
	s := New(backend, prefix)

	baseEnv := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("base content")}
	baseOID := baseEnv.HashOID()

	packA, _, err := packfile.Build([]gitobj.Envelope{baseEnv})
	if err != nil {
		t.Fatalf("Build packA: %v", err)
	}
	idxA := buildFullIndex(t, map[gitobj.OID]uint64{baseOID: 12})

	targetContent := []byte("base content appended")
	targetEnv := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: targetContent}
	targetOID := targetEnv.HashOID()

	var deltaBody []byte
	deltaBody = append(deltaBody, encodeVarint(len(baseEnv.Payload))...)
	deltaBody = append(deltaBody, encodeVarint(len(targetContent))...)
	copyCmd := byte(0x80) | 0x01 | 0x10
	deltaBody = append(deltaBody, copyCmd, 0, byte(len(baseEnv.Payload)))
	insert := []byte(" appended")
	deltaBody = append(deltaBody, byte(len(insert)))
	deltaBody = append(deltaBody, insert...)

	deflated, err := gitobj.DeflateRaw(deltaBody)
	if err != nil {
		t.Fatalf("DeflateRaw: %v", err)
	}

	baseOIDBytes, _ := baseOID.Bytes()

	var packB []byte
	packB = append(packB, packfile.Magic[:]...)
	packB = binary.BigEndian.AppendUint32(packB, packfile.Version)
	packB = binary.BigEndian.AppendUint32(packB, 1)
	refDeltaOffset := uint64(len(packB))
	packB = append(packB, packfile.WriteObjectHeader(packfile.ObjRefDelta, len(deltaBody))...)
	packB = append(packB, baseOIDBytes...)
	packB = append(packB, deflated...)
	sum := sha1.Sum(packB)
	packB = append(packB, sum[:]...)

	idxB := buildFullIndex(t, map[gitobj.OID]uint64{targetOID: refDeltaOffset})

	put := func(key string, data []byte) {
		if err := backend.Put(ctx, key, data); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	put(prefix+"/objects/pack/pack-a.pack", packA)
	put(prefix+"/objects/pack/pack-a.idx", idxA)
	put(prefix+"/objects/pack/pack-b.pack", packB)
	put(prefix+"/objects/pack/pack-b.idx", idxB)

	got, err := s.Get(ctx, targetOID)
	if err != nil {
		t.Fatalf("Get(targetOID) across packs: %v", err)
	}
	if got.Type != gitobj.TypeBlob || string(got.Payload) != string(targetContent) {
		t.Fatalf("Get(targetOID) = %+v, want type=blob payload=%q", got, targetContent)
	}
}

func TestInvalidatePackListForcesRelist(t *testing.T) {
	ctx := context.Background()
	backend := blobstore.NewMemoryBackend()
	prefix := "repos/u/r.git"
	s := New(backend, prefix)

	baseEnv := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("v1")}
	packA, _, err := packfile.Build([]gitobj.Envelope{baseEnv})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	idxA := buildFullIndex(t, map[gitobj.OID]uint64{baseEnv.HashOID(): 12})

	if err := backend.Put(ctx, prefix+"/objects/pack/pack-a.pack", packA); err != nil {
		t.Fatalf("Put pack: %v", err)
	}
	if err := backend.Put(ctx, prefix+"/objects/pack/pack-a.idx", idxA); err != nil {
		t.Fatalf("Put idx: %v", err)
	}

	if _, err := s.Get(ctx, baseEnv.HashOID()); err != nil {
		t.Fatalf("Get before second pack: %v", err)
	}

	secondEnv := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("v2")}
	packC, _, err := packfile.Build([]gitobj.Envelope{secondEnv})
	if err != nil {
		t.Fatalf("Build packC: %v", err)
	}
	idxC := buildFullIndex(t, map[gitobj.OID]uint64{secondEnv.HashOID(): 12})
	if err := backend.Put(ctx, prefix+"/objects/pack/pack-c.pack", packC); err != nil {
		t.Fatalf("Put pack: %v", err)
	}
	if err := backend.Put(ctx, prefix+"/objects/pack/pack-c.idx", idxC); err != nil {
		t.Fatalf("Put idx: %v", err)
	}

	if _, err := s.Get(ctx, secondEnv.HashOID()); err == nil {
		t.Fatal("expected stale pack-index list to miss the newly added pack")
	}

	s.InvalidatePackList()

	got, err := s.Get(ctx, secondEnv.HashOID())
	if err != nil {
		t.Fatalf("Get after InvalidatePackList: %v", err)
	}
	if string(got.Payload) != "v2" {
		t.Fatalf("Get = %+v, want payload v2", got)
	}
}
