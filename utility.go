package fat

import (
	"strings"
	"unicode/utf16"

	"encoding/binary"
)

var defaultEncoding = binary.LittleEndian

// utf16Units reinterprets raw little-endian bytes as UTF-16 code units. An
// odd trailing byte is ignored.
func utf16Units(raw []byte) []uint16 {
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, defaultEncoding.Uint16(raw[i:]))
	}

	return units
}

// utf16String decodes all of the given little-endian UTF-16 data, NULs
// included.
func utf16String(raw []byte) string {
	return string(utf16.Decode(utf16Units(raw)))
}

// utf16StringToNul decodes little-endian UTF-16 data up to but excluding the
// first NUL character. Long-filename fragments are padded past the NUL with
// 0xffff fill, which must not reach the decoded name.
func utf16StringToNul(raw []byte) string {
	units := utf16Units(raw)
	for i, unit := range units {
		if unit == 0 {
			units = units[:i]
			break
		}
	}

	return string(utf16.Decode(units))
}

// splitPath splits a path on both separator styles. Empty components,
// including leading and trailing separators, are dropped.
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

func isPowerOfTwo(value uint32) bool {
	return value != 0 && value&(value-1) == 0
}
