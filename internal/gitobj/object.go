// Package gitobj implements the canonical git object envelope: the
// "<type> <size>\0<payload>" framing shared by loose objects and pack
// objects, and the commit/tree parsers built on top of it.
package gitobj

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// Type is a git object kind.
type Type int

const (
	TypeCommit Type = iota + 1
	TypeTree
	TypeBlob
	TypeTag
)

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ParseType maps a canonical type string to a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "commit":
		return TypeCommit, true
	case "tree":
		return TypeTree, true
	case "blob":
		return TypeBlob, true
	case "tag":
		return TypeTag, true
	default:
		return 0, false
	}
}

// OID is a 40-char lowercase hex SHA-1 object id.
type OID string

// ZeroOID is the all-zero OID used to denote ref creation/deletion in
// receive-pack commands.
const ZeroOID OID = "0000000000000000000000000000000000000000"

func (o OID) Valid() bool {
	if len(o) != 40 {
		return false
	}
	for _, c := range o {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func (o OID) Bytes() ([]byte, error) {
	return hex.DecodeString(string(o))
}

func OIDFromBytes(b []byte) OID {
	return OID(hex.EncodeToString(b))
}

// Envelope holds a decoded object: its type and raw payload (without the
// "<type> <size>\0" header).
type Envelope struct {
	Type    Type
	Payload []byte
}

// HashOID computes the OID that a canonical "<type> <size>\0<payload>"
// encoding of this envelope would have.
func (e Envelope) HashOID() OID {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", e.Type, len(e.Payload))
	h.Write(e.Payload)
	return OIDFromBytes(h.Sum(nil))
}

// Encode produces the zlib-deflated canonical form stored for loose objects
// and emitted by Object Store reads.
func Encode(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\x00", e.Type, len(e.Payload))
	buf.Write(e.Payload)

	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Decode inflates a zlib-wrapped canonical object and splits header/payload.
func Decode(data []byte) (Envelope, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return Envelope{}, fmt.Errorf("gitobj: zlib: %w", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return Envelope{}, fmt.Errorf("gitobj: inflate: %w", err)
	}
	return decodeInflated(buf.Bytes())
}

// DecodeInflated splits an already-inflated canonical byte stream into its
// header and payload. Used by the pack codec, which inflates objects itself
// while resolving deltas against raw (non-enveloped) content.
func DecodeInflated(data []byte) (Envelope, error) {
	return decodeInflated(data)
}

func decodeInflated(data []byte) (Envelope, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return Envelope{}, fmt.Errorf("gitobj: malformed object: no NUL header terminator")
	}
	header := string(data[:nul])
	var typeStr string
	var size int
	if _, err := fmt.Sscanf(header, "%s %d", &typeStr, &size); err != nil {
		return Envelope{}, fmt.Errorf("gitobj: malformed header %q: %w", header, err)
	}
	typ, ok := ParseType(typeStr)
	if !ok {
		return Envelope{}, fmt.Errorf("gitobj: unknown object type %q", typeStr)
	}
	payload := data[nul+1:]
	if len(payload) != size {
		return Envelope{}, fmt.Errorf("gitobj: declared size %d does not match payload length %d", size, len(payload))
	}
	return Envelope{Type: typ, Payload: payload}, nil
}

// InflateRaw zlib-inflates arbitrary compressed bytes without interpreting
// them as a canonical envelope (used by the pack codec on delta streams).
func InflateRaw(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InflateRawCounting behaves like InflateRaw but also reports how many
// bytes of data were consumed by the zlib stream. A scan across a packfile
// cannot otherwise know where one compressed object ends and the next
// begins, since nothing in the pack container records per-object length.
func InflateRawCounting(data []byte) ([]byte, int, error) {
	br := bytes.NewReader(data)
	bw := bufio.NewReaderSize(br, 512)
	r, err := zlib.NewReader(bw)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, 0, err
	}
	consumed := len(data) - br.Len() - bw.Buffered()
	return buf.Bytes(), consumed, nil
}

// DeflateRaw zlib-deflates arbitrary bytes, used when re-wrapping a
// materialized delta result into canonical pack/loose form.
func DeflateRaw(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
