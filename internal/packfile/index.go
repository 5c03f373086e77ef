package packfile

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

// IndexMagic is the v2 pack-index magic number.
var IndexMagic = [4]byte{0xff, 0x74, 0x4f, 0x63}

const (
	fanoutStart  = 8
	fanoutSize   = 256 * 4
	fanoutEnd    = fanoutStart + fanoutSize
	oidByteWidth = 20
)

// Index is a parsed (or parse-on-demand) view over a v2 pack-index blob.
type Index struct {
	raw          []byte
	totalObjects int
}

// ParseIndex validates the magic and version and captures the total object
// count from the last fanout bucket. It does not copy raw; callers must not
// mutate the backing slice afterward.
func ParseIndex(raw []byte) (*Index, error) {
	if len(raw) < fanoutEnd+2*oidByteWidth {
		return nil, fmt.Errorf("packfile: index too small (%d bytes)", len(raw))
	}
	if raw[0] != IndexMagic[0] || raw[1] != IndexMagic[1] || raw[2] != IndexMagic[2] || raw[3] != IndexMagic[3] {
		return nil, fmt.Errorf("packfile: bad index magic")
	}
	version := binary.BigEndian.Uint32(raw[4:8])
	if version != 2 {
		return nil, fmt.Errorf("packfile: unsupported index version %d", version)
	}
	total := int(binary.BigEndian.Uint32(raw[fanoutEnd-4 : fanoutEnd]))
	return &Index{raw: raw, totalObjects: total}, nil
}

// TotalObjects returns the object count declared by the last fanout bucket.
// A value of zero denotes the minimal/skeletal index written by
// receive-pack (§9's "pack index minimalism"); Find then reports every OID
// as absent, and objstore falls back to a linear pack scan.
func (idx *Index) TotalObjects() int { return idx.totalObjects }

// Find performs the fanout-bounded scan over the sorted SHA table described
// in §4.4: the range [fanout[first-1], fanout[first]) is scanned
// byte-for-byte for an exact OID match (the original implementation's
// index search is a bounded linear scan, not a true binary search, and
// this mirrors that exactly). Returns the pack offset of the matching
// object, or ok=false if absent from this index.
func (idx *Index) Find(oidBytes []byte) (offset uint64, ok bool, err error) {
	if len(oidBytes) != oidByteWidth {
		return 0, false, fmt.Errorf("packfile: oid must be 20 bytes, got %d", len(oidBytes))
	}
	if idx.totalObjects == 0 {
		return 0, false, nil
	}

	firstByte := int(oidBytes[0])
	startIdx := 0
	if firstByte > 0 {
		startIdx = idx.fanoutAt(firstByte - 1)
	}
	endIdx := idx.fanoutAt(firstByte)

	shaTableStart := fanoutEnd
	for i := startIdx; i < endIdx; i++ {
		shaOffset := shaTableStart + i*oidByteWidth
		if shaOffset+oidByteWidth > len(idx.raw) {
			break
		}
		if bytesEqual(idx.raw[shaOffset:shaOffset+oidByteWidth], oidBytes) {
			off, err := idx.offsetForPosition(i)
			if err != nil {
				return 0, false, err
			}
			return off, true, nil
		}
	}
	return 0, false, nil
}

func (idx *Index) fanoutAt(i int) int {
	offset := fanoutStart + i*4
	return int(binary.BigEndian.Uint32(idx.raw[offset : offset+4]))
}

func (idx *Index) offsetForPosition(i int) (uint64, error) {
	shaTableStart := fanoutEnd
	crcTableStart := shaTableStart + idx.totalObjects*oidByteWidth
	offsetTableStart := crcTableStart + idx.totalObjects*4
	pos := offsetTableStart + i*4
	if pos+4 > len(idx.raw) {
		return 0, fmt.Errorf("packfile: offset table truncated")
	}
	raw32 := binary.BigEndian.Uint32(idx.raw[pos : pos+4])

	if raw32&0x80000000 == 0 {
		return uint64(raw32), nil
	}

	largeIdx := int(raw32 &^ 0x80000000)
	largeTableStart := offsetTableStart + idx.totalObjects*4
	largePos := largeTableStart + largeIdx*8
	if largePos+8 > len(idx.raw) {
		return 0, fmt.Errorf("packfile: large-offset table truncated")
	}
	return binary.BigEndian.Uint64(idx.raw[largePos : largePos+8]), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WriteMinimalIndex emits the skeletal index receive-pack persists
// alongside every stored pack: magic, version 2, an all-zero fanout table,
// the pack's own SHA-1 trailer, and a trailing index checksum. Per §9 this
// is an intentional minimalism — a reader encountering an all-zero fanout
// must fall back to scanning the pack directly (see objstore's pack-scan
// fallback); populating a full fanout/SHA/offset table is a permitted, not
// required, enhancement.
func WriteMinimalIndex(packChecksum [20]byte) []byte {
	buf := make([]byte, 0, 8+fanoutSize+20+20)
	buf = append(buf, IndexMagic[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 2)
	buf = append(buf, make([]byte, fanoutSize)...)

	h := sha1.New()
	h.Write(buf)
	buf = append(buf, packChecksum[:]...)
	h.Write(packChecksum[:])

	idxChecksum := h.Sum(nil)
	buf = append(buf, idxChecksum...)
	return buf
}
