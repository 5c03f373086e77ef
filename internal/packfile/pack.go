package packfile

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"

	"github.com/gitlake/gitlake/internal/gitobj"
)

// Magic is the packfile container's leading 4 bytes.
var Magic = [4]byte{'P', 'A', 'C', 'K'}

// Version is the only pack format version this codec speaks.
const Version = 2

// maxDeltaDepth bounds same-pack OFS_DELTA/REF_DELTA recursion, matching
// the cross-pack iterative resolver's depth cap in objstore.
const maxDeltaDepth = 100

// ErrCrossPackBase is returned by ResolveAt when a REF_DELTA's base OID is
// not present in the pack's own index. The caller (objstore) is expected to
// locate the base in another pack or loose storage and continue resolution
// iteratively across packs.
type ErrCrossPackBase struct {
	BaseOID gitobj.OID
}

func (e *ErrCrossPackBase) Error() string {
	return fmt.Sprintf("packfile: REF_DELTA base %s not in this pack's index", e.BaseOID)
}

// ResolveAt decodes the object stored at offset within pack, recursively
// resolving OFS_DELTA (always same-pack, by construction) and REF_DELTA
// bases that happen to live in the same pack's index. A REF_DELTA whose
// base is absent from idx returns *ErrCrossPackBase for the caller to
// resolve against other packs.
func ResolveAt(pack []byte, idx finder, offset uint64) (gitobj.Type, []byte, error) {
	return resolveAt(pack, idx, offset, 0)
}

func resolveAt(pack []byte, idx finder, offset uint64, depth int) (gitobj.Type, []byte, error) {
	if depth > maxDeltaDepth {
		return 0, nil, fmt.Errorf("packfile: delta chain exceeds %d hops", maxDeltaDepth)
	}

	objType, _, headerEnd, err := ReadObjectHeader(pack, int(offset))
	if err != nil {
		return 0, nil, err
	}

	switch objType {
	case ObjCommit, ObjTree, ObjBlob, ObjTag:
		payload, err := gitobj.InflateRaw(pack[headerEnd:])
		if err != nil {
			return 0, nil, fmt.Errorf("packfile: inflate object at offset %d: %w", offset, err)
		}
		return typeFromPackType(objType), payload, nil

	case ObjOfsDelta:
		backOffset, consumed, err := ReadOfsDeltaOffset(pack[headerEnd:])
		if err != nil {
			return 0, nil, err
		}
		if backOffset > offset {
			return 0, nil, fmt.Errorf("packfile: OFS_DELTA back-offset exceeds object offset")
		}
		baseOffset := offset - backOffset
		baseType, baseContent, err := resolveAt(pack, idx, baseOffset, depth+1)
		if err != nil {
			return 0, nil, err
		}
		deltaStream, err := gitobj.InflateRaw(pack[headerEnd+consumed:])
		if err != nil {
			return 0, nil, fmt.Errorf("packfile: inflate OFS_DELTA stream: %w", err)
		}
		result, err := ApplyDelta(baseContent, deltaStream)
		if err != nil {
			return 0, nil, err
		}
		return baseType, result, nil

	case ObjRefDelta:
		if headerEnd+20 > len(pack) {
			return 0, nil, fmt.Errorf("packfile: truncated REF_DELTA base oid")
		}
		baseOID := gitobj.OIDFromBytes(pack[headerEnd : headerEnd+20])
		baseOffset, found, err := idx.Find(pack[headerEnd : headerEnd+20])
		if err != nil {
			return 0, nil, err
		}
		if !found {
			return 0, nil, &ErrCrossPackBase{BaseOID: baseOID}
		}
		baseType, baseContent, err := resolveAt(pack, idx, baseOffset, depth+1)
		if err != nil {
			return 0, nil, err
		}
		deltaStream, err := gitobj.InflateRaw(pack[headerEnd+20:])
		if err != nil {
			return 0, nil, fmt.Errorf("packfile: inflate REF_DELTA stream: %w", err)
		}
		result, err := ApplyDelta(baseContent, deltaStream)
		if err != nil {
			return 0, nil, err
		}
		return baseType, result, nil

	default:
		return 0, nil, fmt.Errorf("packfile: unknown object type %d at offset %d", objType, offset)
	}
}

func typeFromPackType(t int) gitobj.Type {
	switch t {
	case ObjCommit:
		return gitobj.TypeCommit
	case ObjTree:
		return gitobj.TypeTree
	case ObjBlob:
		return gitobj.TypeBlob
	case ObjTag:
		return gitobj.TypeTag
	}
	return 0
}

func packTypeFromType(t gitobj.Type) (int, bool) {
	switch t {
	case gitobj.TypeCommit:
		return ObjCommit, true
	case gitobj.TypeTree:
		return ObjTree, true
	case gitobj.TypeBlob:
		return ObjBlob, true
	case gitobj.TypeTag:
		return ObjTag, true
	}
	return 0, false
}

// ReadHeaderFields reads the 12-byte "PACK"+version+count container header.
func ReadHeaderFields(data []byte) (count uint32, err error) {
	if len(data) < 12 {
		return 0, fmt.Errorf("packfile: pack too small")
	}
	if data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return 0, fmt.Errorf("packfile: bad pack magic")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != Version {
		return 0, fmt.Errorf("packfile: unsupported pack version %d", version)
	}
	return binary.BigEndian.Uint32(data[8:12]), nil
}

// Build assembles a non-deltifying packfile containing exactly the given
// objects, in order, and appends the trailing SHA-1 checksum over every
// preceding byte. Matches §4.4's pack writer: no delta emission, ever.
func Build(objects []gitobj.Envelope) ([]byte, [20]byte, error) {
	pack := make([]byte, 0, 12)
	pack = append(pack, Magic[:]...)
	pack = binary.BigEndian.AppendUint32(pack, Version)
	pack = binary.BigEndian.AppendUint32(pack, uint32(len(objects)))

	for _, obj := range objects {
		packType, ok := packTypeFromType(obj.Type)
		if !ok {
			return nil, [20]byte{}, fmt.Errorf("packfile: cannot pack object type %v", obj.Type)
		}
		pack = append(pack, WriteObjectHeader(packType, len(obj.Payload))...)

		compressed, err := gitobj.DeflateRaw(obj.Payload)
		if err != nil {
			return nil, [20]byte{}, err
		}
		pack = append(pack, compressed...)
	}

	sum := sha1.Sum(pack)
	pack = append(pack, sum[:]...)
	return pack, sum, nil
}
