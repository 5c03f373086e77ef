package smarthttp

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gitlake/gitlake/internal/blobstore"
	"github.com/gitlake/gitlake/internal/gitobj"
	"github.com/gitlake/gitlake/internal/objstore"
	"github.com/gitlake/gitlake/internal/packfile"
	"github.com/gitlake/gitlake/internal/refstore"
)

// RefUpdate is one accepted command from a receive-pack request: the
// ref's old and new OID (ZeroOID denotes create/delete) and its full
// "refs/..." name.
type RefUpdate struct {
	OldOID  gitobj.OID
	NewOID  gitobj.OID
	RefName string
}

// packSignature is the "PACK" magic receive-pack scans for to split the
// command section (pkt-line text) from the packfile payload (raw bytes),
// since the packfile isn't itself pkt-line framed.
var packSignature = []byte("PACK")

// HandleReceivePack parses ref-update commands and the trailing packfile
// from body, persists the pack (and its index) to backend under
// repoPrefix, applies each ref update via refs, and returns the pkt-line
// status report. Applied is the list of ref updates that were actually
// committed to the ref store — empty if the pack failed to persist, since
// no ref update is ever applied without the objects it depends on already
// being durable.
func HandleReceivePack(ctx context.Context, objects *objstore.Store, refs *refstore.Store, backend blobstore.Backend, repoPrefix string, body []byte) (response []byte, applied []RefUpdate, err error) {
	packStart := bytes.Index(body, packSignature)
	if packStart < 0 {
		return append(encodeLine("unpack ok\n"), flushPkt()...), nil, nil
	}

	commandSection := body[:packStart]
	packData := body[packStart:]

	var updates []RefUpdate
	for _, line := range parsePktLines(commandSection) {
		fields := strings.Fields(line)
		if len(fields) < 3 || len(fields[0]) != 40 || len(fields[1]) != 40 {
			continue
		}
		refName, _, _ := strings.Cut(fields[2], "\x00")
		updates = append(updates, RefUpdate{
			OldOID:  gitobj.OID(fields[0]),
			NewOID:  gitobj.OID(fields[1]),
			RefName: refName,
		})
	}

	sum := sha1.Sum(packData)
	packHash := hex.EncodeToString(sum[:])
	packKey := fmt.Sprintf("%s/objects/pack/pack-%s.pack", repoPrefix, packHash)

	if err := backend.Put(ctx, packKey, packData); err != nil {
		msg := fmt.Sprintf("ng unpack error %v\n", err)
		return append(encodeLine(msg), flushPkt()...), nil, nil
	}

	var packChecksum [20]byte
	if len(packData) >= 20 {
		copy(packChecksum[:], packData[len(packData)-20:])
	}
	idxKey := fmt.Sprintf("%s/objects/pack/pack-%s.idx", repoPrefix, packHash)
	_ = backend.Put(ctx, idxKey, packfile.WriteMinimalIndex(packChecksum))

	objects.InvalidatePackList()

	for _, u := range updates {
		refName := u.RefName
		if !strings.HasPrefix(refName, "refs/") {
			refName = "refs/heads/" + refName
		}

		if u.NewOID == gitobj.ZeroOID {
			if derr := refs.DeleteRef(ctx, refName); derr != nil {
				continue
			}
		} else {
			if werr := refs.WriteRef(ctx, refName, u.NewOID); werr != nil {
				continue
			}
		}
		applied = append(applied, RefUpdate{OldOID: u.OldOID, NewOID: u.NewOID, RefName: refName})
	}

	var buf bytes.Buffer
	buf.Write(encodeLine("unpack ok\n"))
	for _, u := range applied {
		buf.Write(encodeLine(fmt.Sprintf("ok %s\n", u.RefName)))
	}
	buf.Write(flushPkt())
	return buf.Bytes(), applied, nil
}
