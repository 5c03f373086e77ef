package packfile

import (
	"fmt"

	"github.com/gitlake/gitlake/internal/gitobj"
)

// finder is satisfied by *Index and by any OID-to-offset lookup over the
// map BuildOffsetIndex returns (objstore's scannedIndex); it's the minimal surface ResolveAt needs to chase a REF_DELTA's
// base OID within a single pack.
type finder interface {
	Find(oidBytes []byte) (uint64, bool, error)
}

type rawEntry struct {
	offset     uint64
	objType    int
	payload    []byte // non-delta objects: the inflated object content
	delta      []byte // OFS/REF_DELTA: the inflated delta instruction stream
	baseOffset uint64 // OFS_DELTA only
	baseOID    []byte // REF_DELTA only
}

// ScanForOID walks a packfile sequentially — the fallback §9 requires when
// an index's fanout table is all-zero (the minimal index receive-pack
// writes). It resolves every object, including delta chains stored in
// arbitrary order, to recover the offset of the object whose OID is target.
func ScanForOID(pack []byte, target []byte) (uint64, bool, error) {
	table, err := BuildOffsetIndex(pack)
	if err != nil {
		return 0, false, err
	}
	off, ok := table[string(target)]
	return off, ok, nil
}

// BuildOffsetIndex resolves every object in pack and returns a map of
// 20-byte OID to offset. Used by ScanForOID, and available to objstore when
// it needs a full OID-to-offset view of a pack that only carries the
// minimal skeletal index.
func BuildOffsetIndex(pack []byte) (map[string]uint64, error) {
	count, err := ReadHeaderFields(pack)
	if err != nil {
		return nil, err
	}

	entries := make([]rawEntry, 0, count)
	pos := 12
	for i := uint32(0); i < count; i++ {
		objType, _, headerEnd, err := ReadObjectHeader(pack, pos)
		if err != nil {
			return nil, err
		}
		entry := rawEntry{offset: uint64(pos), objType: objType}

		switch objType {
		case ObjCommit, ObjTree, ObjBlob, ObjTag:
			payload, consumed, err := gitobj.InflateRawCounting(pack[headerEnd:])
			if err != nil {
				return nil, fmt.Errorf("packfile: scan: inflate object at %d: %w", pos, err)
			}
			entry.payload = payload
			pos = headerEnd + consumed

		case ObjOfsDelta:
			backOffset, consumed, err := ReadOfsDeltaOffset(pack[headerEnd:])
			if err != nil {
				return nil, err
			}
			deltaStart := headerEnd + consumed
			deltaStream, dConsumed, err := gitobj.InflateRawCounting(pack[deltaStart:])
			if err != nil {
				return nil, fmt.Errorf("packfile: scan: inflate OFS_DELTA at %d: %w", pos, err)
			}
			if backOffset > entry.offset {
				return nil, fmt.Errorf("packfile: scan: OFS_DELTA back-offset exceeds object offset at %d", pos)
			}
			entry.delta = deltaStream
			entry.baseOffset = entry.offset - backOffset
			pos = deltaStart + dConsumed

		case ObjRefDelta:
			if headerEnd+20 > len(pack) {
				return nil, fmt.Errorf("packfile: scan: truncated REF_DELTA base oid")
			}
			baseOID := append([]byte(nil), pack[headerEnd:headerEnd+20]...)
			deltaStart := headerEnd + 20
			deltaStream, dConsumed, err := gitobj.InflateRawCounting(pack[deltaStart:])
			if err != nil {
				return nil, fmt.Errorf("packfile: scan: inflate REF_DELTA at %d: %w", pos, err)
			}
			entry.delta = deltaStream
			entry.baseOID = baseOID
			pos = deltaStart + dConsumed

		default:
			return nil, fmt.Errorf("packfile: scan: unknown object type %d at offset %d", objType, pos)
		}

		entries = append(entries, entry)
	}

	resolved := make(map[uint64]gitobj.Envelope, len(entries))
	byOID := make(map[string]uint64, len(entries))
	var pending []rawEntry

	for _, e := range entries {
		if e.objType == ObjOfsDelta || e.objType == ObjRefDelta {
			pending = append(pending, e)
			continue
		}
		env := gitobj.Envelope{Type: typeFromPackType(e.objType), Payload: e.payload}
		resolved[e.offset] = env
		oidBytes, _ := env.HashOID().Bytes()
		byOID[string(oidBytes)] = e.offset
	}

	// Resolve delta entries to a fixpoint: a delta's base may itself be an
	// as-yet-unresolved delta, so keep sweeping the pending list until a
	// pass makes no further progress.
	for len(pending) > 0 {
		progressed := false
		next := pending[:0:0]

		for _, e := range pending {
			baseOffset := e.baseOffset
			haveBase := e.objType == ObjOfsDelta
			if e.objType == ObjRefDelta {
				if off, ok := byOID[string(e.baseOID)]; ok {
					baseOffset, haveBase = off, true
				}
			}

			base, ok := resolved[baseOffset]
			if !haveBase || !ok {
				next = append(next, e)
				continue
			}

			content, err := ApplyDelta(base.Payload, e.delta)
			if err != nil {
				return nil, err
			}
			env := gitobj.Envelope{Type: base.Type, Payload: content}
			resolved[e.offset] = env
			oidBytes, _ := env.HashOID().Bytes()
			byOID[string(oidBytes)] = e.offset
			progressed = true
		}

		if !progressed {
			return nil, fmt.Errorf("packfile: scan: unresolved delta chain (missing base in pack)")
		}
		pending = next
	}

	return byOID, nil
}
