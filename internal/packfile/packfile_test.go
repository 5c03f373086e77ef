package packfile

import (
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/gitlake/gitlake/internal/gitobj"
)

func TestReadWriteObjectHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		objType int
		size    int
	}{
		{ObjBlob, 0},
		{ObjBlob, 15},
		{ObjCommit, 4096},
		{ObjTree, 1 << 20},
		{ObjRefDelta, 300},
	}

	for _, c := range cases {
		header := WriteObjectHeader(c.objType, c.size)
		data := append(append([]byte{}, header...), 0xFF, 0xEE)

		objType, size, headerEnd, err := ReadObjectHeader(data, 0)
		if err != nil {
			t.Fatalf("type=%d size=%d: ReadObjectHeader: %v", c.objType, c.size, err)
		}
		if objType != c.objType || size != c.size || headerEnd != len(header) {
			t.Fatalf("type=%d size=%d: got type=%d size=%d headerEnd=%d, want headerEnd=%d",
				c.objType, c.size, objType, size, headerEnd, len(header))
		}
	}
}

func TestReadOfsDeltaOffsetSingleByte(t *testing.T) {
	// A back-offset under 128 encodes in a single byte with no continuation.
	backOffset, consumed, err := ReadOfsDeltaOffset([]byte{0x42})
	if err != nil {
		t.Fatalf("ReadOfsDeltaOffset: %v", err)
	}
	if backOffset != 0x42 || consumed != 1 {
		t.Fatalf("backOffset=%d consumed=%d, want 0x42, 1", backOffset, consumed)
	}
}

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

func TestApplyDeltaInsertAndCopy(t *testing.T) {
	base := []byte("the quick brown fox")
	target := []byte("slow brown fox jumps")

	var delta []byte
	delta = append(delta, encodeVarint(len(base))...)
	delta = append(delta, encodeVarint(len(target))...)

	// INSERT "slow "
	insert := []byte("slow ")
	delta = append(delta, byte(len(insert)))
	delta = append(delta, insert...)

	// COPY "brown fox" from base (offset 10, size 9): cmd with offset+size bytes present.
	copyOffset := 10
	copySize := 9
	cmd := byte(0x80) | 0x01 | 0x10 // offset byte 0 present, size byte 0 present
	delta = append(delta, cmd, byte(copyOffset), byte(copySize))

	// INSERT " jumps"
	insert2 := []byte(" jumps")
	delta = append(delta, byte(len(insert2)))
	delta = append(delta, insert2...)

	got, err := ApplyDelta(base, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if string(got) != string(target) {
		t.Fatalf("ApplyDelta = %q, want %q", got, target)
	}
}

func TestApplyDeltaCopyOutOfBoundsFails(t *testing.T) {
	base := []byte("short")
	var delta []byte
	delta = append(delta, encodeVarint(len(base))...)
	delta = append(delta, encodeVarint(100)...)
	cmd := byte(0x80) | 0x01 | 0x10
	delta = append(delta, cmd, 0, 100)

	if _, err := ApplyDelta(base, delta); err == nil {
		t.Fatal("expected ApplyDelta to reject an out-of-bounds COPY")
	}
}

func TestApplyDeltaLengthMismatchFails(t *testing.T) {
	base := []byte("hello")
	var delta []byte
	delta = append(delta, encodeVarint(len(base))...)
	delta = append(delta, encodeVarint(10)...) // claims 10 bytes, but only inserts 5
	insert := []byte("howdy")
	delta = append(delta, byte(len(insert)))
	delta = append(delta, insert...)

	if _, err := ApplyDelta(base, delta); err == nil {
		t.Fatal("expected ApplyDelta to reject a result that doesn't match target size")
	}
}

func TestBuildAndReadHeaderFields(t *testing.T) {
	objects := []gitobj.Envelope{
		{Type: gitobj.TypeBlob, Payload: []byte("one")},
		{Type: gitobj.TypeBlob, Payload: []byte("two")},
	}
	pack, sum, err := Build(objects)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := sha1.Sum(pack[:len(pack)-20]); got != sum {
		t.Fatalf("trailing checksum mismatch")
	}
	count, err := ReadHeaderFields(pack)
	if err != nil {
		t.Fatalf("ReadHeaderFields: %v", err)
	}
	if count != uint32(len(objects)) {
		t.Fatalf("count = %d, want %d", count, len(objects))
	}
}

func TestScanForOIDResolvesNonDeltaObjects(t *testing.T) {
	objects := []gitobj.Envelope{
		{Type: gitobj.TypeBlob, Payload: []byte("alpha")},
		{Type: gitobj.TypeBlob, Payload: []byte("beta")},
		{Type: gitobj.TypeTree, Payload: gitobj.SerializeTree(nil)},
	}
	pack, _, err := Build(objects)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	table, err := BuildOffsetIndex(pack)
	if err != nil {
		t.Fatalf("BuildOffsetIndex: %v", err)
	}
	if len(table) != len(objects) {
		t.Fatalf("len(table) = %d, want %d", len(table), len(objects))
	}

	for _, obj := range objects {
		oidBytes, _ := obj.HashOID().Bytes()
		offset, ok, err := ScanForOID(pack, oidBytes)
		if err != nil {
			t.Fatalf("ScanForOID: %v", err)
		}
		if !ok {
			t.Fatalf("ScanForOID: %s not found", obj.HashOID())
		}
		objType, _, headerEnd, err := ReadObjectHeader(pack, int(offset))
		if err != nil {
			t.Fatalf("ReadObjectHeader at scanned offset: %v", err)
		}
		payload, err := gitobj.InflateRaw(pack[headerEnd:])
		if err != nil {
			t.Fatalf("InflateRaw at scanned offset: %v", err)
		}
		if typeFromPackType(objType) != obj.Type || string(payload) != string(obj.Payload) {
			t.Fatalf("scanned object mismatch for %s", obj.HashOID())
		}
	}
}

func TestWriteMinimalIndexHasZeroFanoutAndNoMatches(t *testing.T) {
	var checksum [20]byte
	copy(checksum[:], []byte("01234567890123456789"))

	raw := WriteMinimalIndex(checksum)
	idx, err := ParseIndex(raw)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if idx.TotalObjects() != 0 {
		t.Fatalf("TotalObjects() = %d, want 0", idx.TotalObjects())
	}

	target := make([]byte, 20)
	if _, ok, err := idx.Find(target); err != nil || ok {
		t.Fatalf("Find on minimal index = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

// buildFullIndex constructs a real v2 pack index (non-minimal fanout/sha/crc/
// offset tables) over the given oid-to-offset entries, for exercising Find's
// fanout-bounded scan against more than one object.
func buildFullIndex(t *testing.T, entries map[string]uint64, packChecksum [20]byte) []byte {
	t.Helper()

	type entry struct {
		oid    []byte
		offset uint64
	}
	var sorted []entry
	for oidHex, off := range entries {
		oidBytes, err := gitobj.OID(oidHex).Bytes()
		if err != nil {
			t.Fatalf("OID.Bytes: %v", err)
		}
		sorted = append(sorted, entry{oid: oidBytes, offset: off})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].oid) < string(sorted[j].oid)
	})

	var fanout [256]uint32
	for _, e := range sorted {
		for b := int(e.oid[0]); b < 256; b++ {
			fanout[b]++
		}
	}

	buf := make([]byte, 0, 1024)
	buf = append(buf, IndexMagic[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 2)
	for _, f := range fanout {
		buf = binary.BigEndian.AppendUint32(buf, f)
	}
	for _, e := range sorted {
		buf = append(buf, e.oid...)
	}
	for range sorted {
		buf = binary.BigEndian.AppendUint32(buf, 0) // CRC32, unused by Find
	}
	for _, e := range sorted {
		buf = binary.BigEndian.AppendUint32(buf, uint32(e.offset))
	}
	buf = append(buf, packChecksum[:]...)
	sum := sha1.Sum(buf)
	buf = append(buf, sum[:]...)
	return buf
}

func TestIndexFindLocatesExactOID(t *testing.T) {
	oidA := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("aaa")}.HashOID()
	oidB := gitobj.Envelope{Type: gitobj.TypeBlob, Payload: []byte("bbb")}.HashOID()

	raw := buildFullIndex(t, map[string]uint64{
		string(oidA): 12,
		string(oidB): 512,
	}, [20]byte{})

	idx, err := ParseIndex(raw)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}
	if idx.TotalObjects() != 2 {
		t.Fatalf("TotalObjects() = %d, want 2", idx.TotalObjects())
	}

	aBytes, _ := oidA.Bytes()
	offset, ok, err := idx.Find(aBytes)
	if err != nil || !ok || offset != 12 {
		t.Fatalf("Find(oidA) = offset=%d ok=%v err=%v, want 12 true nil", offset, ok, err)
	}

	bBytes, _ := oidB.Bytes()
	offset, ok, err = idx.Find(bBytes)
	if err != nil || !ok || offset != 512 {
		t.Fatalf("Find(oidB) = offset=%d ok=%v err=%v, want 512 true nil", offset, ok, err)
	}

	missing := make([]byte, 20)
	missing[0] = 0xFF
	if _, ok, err := idx.Find(missing); err != nil || ok {
		t.Fatalf("Find(missing) = ok=%v err=%v, want false nil", ok, err)
	}
}

type fakeFinder struct {
	byOID map[string]uint64
}

func (f fakeFinder) Find(oidBytes []byte) (uint64, bool, error) {
	off, ok := f.byOID[string(oidBytes)]
	return off, ok, nil
}

func TestResolveAtPlainObject(t *testing.T) {
	objects := []gitobj.Envelope{{Type: gitobj.TypeBlob, Payload: []byte("plain content")}}
	pack, _, err := Build(objects)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	objType, payload, err := ResolveAt(pack, fakeFinder{}, 12)
	if err != nil {
		t.Fatalf("ResolveAt: %v", err)
	}
	if objType != gitobj.TypeBlob || string(payload) != "plain content" {
		t.Fatalf("ResolveAt = %v %q", objType, payload)
	}
}

func TestResolveAtRefDeltaCrossPackReportsMissingBase(t *testing.T) {
	base := []byte("base content for delta")
	var deltaBody []byte
	deltaBody = append(deltaBody, encodeVarint(len(base))...)
	deltaBody = append(deltaBody, encodeVarint(len(base))...)
	cmd := byte(0x80) | 0x01 | 0x10
	deltaBody = append(deltaBody, cmd, 0, byte(len(base)))

	deflated, err := gitobj.DeflateRaw(deltaBody)
	if err != nil {
		t.Fatalf("DeflateRaw: %v", err)
	}

	var missingBase [20]byte
	missingBase[0] = 0xAB

	var pack []byte
	pack = append(pack, Magic[:]...)
	pack = binary.BigEndian.AppendUint32(pack, Version)
	pack = binary.BigEndian.AppendUint32(pack, 1)
	pack = append(pack, WriteObjectHeader(ObjRefDelta, len(deltaBody))...)
	pack = append(pack, missingBase[:]...)
	pack = append(pack, deflated...)
	sum := sha1.Sum(pack)
	pack = append(pack, sum[:]...)

	_, _, err = ResolveAt(pack, fakeFinder{byOID: map[string]uint64{}}, 12)
	if err == nil {
		t.Fatal("expected ResolveAt to report a cross-pack base")
	}
	var crossPackErr *ErrCrossPackBase
	if !asCrossPackBase(err, &crossPackErr) {
		t.Fatalf("err = %v, want *ErrCrossPackBase", err)
	}
	if crossPackErr.BaseOID != gitobj.OIDFromBytes(missingBase[:]) {
		t.Fatalf("BaseOID = %s, want %s", crossPackErr.BaseOID, gitobj.OIDFromBytes(missingBase[:]))
	}
}

func asCrossPackBase(err error, target **ErrCrossPackBase) bool {
	if e, ok := err.(*ErrCrossPackBase); ok {
		*target = e
		return true
	}
	return false
}
