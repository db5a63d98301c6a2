package idcodec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/localsearch/qfind/internal/entry"
)

// EncodeID renders id as two base-63 segments joined by '-', a shorter
// copy-pasteable alternative to ID.String's 32 hex characters (~22
// characters here versus 32, at the cost of needing idcodec.DecodeID
// rather than entry.ParseID to read it back).
func EncodeID(id entry.ID) string {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return Encode(hi) + "-" + Encode(lo)
}

// DecodeID parses the form produced by EncodeID.
func DecodeID(encoded string) (entry.ID, error) {
	var id entry.ID
	parts := strings.SplitN(encoded, "-", 2)
	if len(parts) != 2 {
		return id, fmt.Errorf("idcodec: invalid id %q: want two '-'-joined segments", encoded)
	}
	hi, err := Decode(parts[0])
	if err != nil {
		return id, fmt.Errorf("idcodec: invalid id %q: %w", encoded, err)
	}
	lo, err := Decode(parts[1])
	if err != nil {
		return id, fmt.Errorf("idcodec: invalid id %q: %w", encoded, err)
	}
	binary.BigEndian.PutUint64(id[:8], hi)
	binary.BigEndian.PutUint64(id[8:], lo)
	return id, nil
}
