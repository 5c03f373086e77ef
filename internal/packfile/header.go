// Package packfile implements the Pack Codec: the v2 pack-index format,
// the packfile container format, variable-length object headers, and the
// delta mini-language, per the git packfile wire format.
package packfile

import (
	"fmt"
)

// Object types as encoded in a pack object header's 3-bit type field.
const (
	ObjCommit   = 1
	ObjTree     = 2
	ObjBlob     = 3
	ObjTag      = 4
	ObjOfsDelta = 6
	ObjRefDelta = 7
)

// ReadObjectHeader decodes the variable-length pack object header starting
// at offset: 3-bit type in the high nibble of the first byte, low 4 bits
// plus 7-bits-per-continuation-byte size. Returns the object type, decoded
// size, and the offset immediately following the header.
func ReadObjectHeader(data []byte, offset int) (objType int, size int, headerEnd int, err error) {
	if offset < 0 || offset >= len(data) {
		return 0, 0, 0, fmt.Errorf("packfile: header offset %d out of range", offset)
	}

	pos := offset
	first := data[pos]
	pos++

	objType = int((first >> 4) & 0x07)
	size = int(first & 0x0f)
	shift := 4

	cont := first
	for cont&0x80 != 0 {
		if pos >= len(data) {
			return 0, 0, 0, fmt.Errorf("packfile: truncated object header at offset %d", offset)
		}
		cont = data[pos]
		pos++
		size |= int(cont&0x7f) << shift
		shift += 7
	}
	return objType, size, pos, nil
}

// WriteObjectHeader encodes a pack object header for the given type and
// payload size, low-4/high-7 bit packed, matching ReadObjectHeader.
func WriteObjectHeader(objType int, size int) []byte {
	c := byte((objType<<4)&0x70) | byte(size&0x0f)
	s := size >> 4
	if s > 0 {
		c |= 0x80
	}
	header := []byte{c}
	for s > 0 {
		b := byte(s & 0x7f)
		s >>= 7
		if s > 0 {
			b |= 0x80
		}
		header = append(header, b)
	}
	return header
}

// ReadOfsDeltaOffset decodes the OFS_DELTA negative back-offset varint,
// which uses the git-specific "offset = ((offset+1)<<7) | next7bits"
// continuation encoding (distinct from the plain base-128 varint used
// elsewhere). Returns the back-offset and the number of bytes consumed.
func ReadOfsDeltaOffset(data []byte) (backOffset uint64, consumed int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("packfile: empty OFS_DELTA offset")
	}
	offset := uint64(data[0] & 0x7f)
	pos := 1
	for data[pos-1]&0x80 != 0 {
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("packfile: truncated OFS_DELTA offset")
		}
		offset++
		offset = (offset << 7) | uint64(data[pos]&0x7f)
		pos++
	}
	return offset, pos, nil
}
