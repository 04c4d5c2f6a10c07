// Package debugid implements the breakpad-style DebugId: a 16-byte GUID
// plus a 32-bit age, rendered as the canonical 33-character uppercase hex
// identifier every reader and the dispatcher compare against.
package debugid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Size is the length in bytes of the GUID+age identity (16 + 4).
const Size = 20

// DebugId is a 16-byte GUID plus a 32-bit age. Equality and hashing are
// bit-exact on the 20-byte form; use Equal rather than == since DebugId
// contains an array and is comparable, but Equal documents intent.
type DebugId struct {
	guid [16]byte
	age  uint32
}

// Nil is the reserved "unspecified" debug id.
var Nil = DebugId{}

// IsNil reports whether id is the reserved unspecified value.
func (id DebugId) IsNil() bool {
	return id == Nil
}

// Equal reports whether id and other have the same 20-byte identity.
func (id DebugId) Equal(other DebugId) bool {
	return id == other
}

// GUID returns the 16-byte GUID component.
func (id DebugId) GUID() [16]byte { return id.guid }

// Age returns the 32-bit age component.
func (id DebugId) Age() uint32 { return id.age }

// New constructs a DebugId from a raw 16-byte GUID and an age.
func New(guid [16]byte, age uint32) DebugId {
	return DebugId{guid: guid, age: age}
}

// String renders the canonical 33-character uppercase breakpad form: the
// GUID fields little-endian in the first 16 bytes, followed by the age as
// hex with no padding.
func (id DebugId) String() string {
	var b strings.Builder
	b.Grow(33)
	fmt.Fprintf(&b, "%08X%04X%04X", binary.LittleEndian.Uint32(id.guid[0:4]),
		binary.LittleEndian.Uint16(id.guid[4:6]), binary.LittleEndian.Uint16(id.guid[6:8]))
	for _, c := range id.guid[8:16] {
		fmt.Fprintf(&b, "%02X", c)
	}
	fmt.Fprintf(&b, "%X", id.age)
	return b.String()
}

// Parse reconstructs a DebugId from its breakpad hex rendering. It rejects
// non-hex characters and a total length outside 33 to 40 hex digits for the
// GUID plus variable-width age, matching the canonical String() shape: exactly
// 32 hex chars of GUID followed by 1-8 hex chars of age.
func Parse(s string) (DebugId, error) {
	if len(s) < 33 {
		return DebugId{}, fmt.Errorf("debugid: %q too short, want at least 33 hex chars", s)
	}
	guidHex := s[:32]
	ageHex := s[32:]
	if len(ageHex) == 0 || len(ageHex) > 8 {
		return DebugId{}, fmt.Errorf("debugid: %q has invalid age length", s)
	}
	guidBytes, err := hex.DecodeString(guidHex)
	if err != nil {
		return DebugId{}, fmt.Errorf("debugid: %q is not valid hex: %w", s, err)
	}
	age64, err := strconv.ParseUint(ageHex, 16, 32)
	if err != nil {
		return DebugId{}, fmt.Errorf("debugid: %q has invalid age: %w", s, err)
	}

	var id DebugId
	id.guid[0] = guidBytes[3]
	id.guid[1] = guidBytes[2]
	id.guid[2] = guidBytes[1]
	id.guid[3] = guidBytes[0]
	id.guid[4] = guidBytes[5]
	id.guid[5] = guidBytes[4]
	id.guid[6] = guidBytes[7]
	id.guid[7] = guidBytes[6]
	copy(id.guid[8:16], guidBytes[8:16])
	id.age = uint32(age64)
	return id, nil
}

// MarshalText implements encoding.TextMarshaler over the breakpad hex form,
// so DebugId plugs directly into encoding/json and yaml.v3.
func (id DebugId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DebugId) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
