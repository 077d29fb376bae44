package desc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/funcfs/pkg"
)

// Language is one language's worth of descriptor strings, indexed by
// the 1-based string index referenced from descriptors.
type Language struct {
	ID      uint16   // USB language id (e.g. 0x0409)
	Strings []string // Strings[i] answers string index i+1
}

// StringTable is the validated, language-keyed string table built from
// a string blob. The table keeps exactly the number of strings the
// descriptor blob requires per language; surplus declared strings are
// validated and discarded.
type StringTable struct {
	Languages []Language

	// firstID is the base of the contiguous id range assigned at bind
	// time, or 0 while unbound.
	firstID uint8
}

// ParseStrings validates data as a string blob against the number of
// strings the descriptor blob requires and builds the table.
func ParseStrings(data []byte, needed int) (*StringTable, error) {
	if len(data) < 16 {
		return nil, pkg.ErrDescriptorTooShort
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != StringsBlobMagic {
		return nil, fmt.Errorf("magic 0x%08x: %w", magic, pkg.ErrBadMagic)
	}
	declared := binary.LittleEndian.Uint32(data[4:8])
	if declared != uint32(len(data)) {
		return nil, fmt.Errorf("declared %d bytes, have %d: %w",
			declared, len(data), pkg.ErrLengthMismatch)
	}
	strCount := binary.LittleEndian.Uint32(data[8:12])
	langCount := binary.LittleEndian.Uint32(data[12:16])

	if (strCount == 0) != (langCount == 0) {
		return nil, fmt.Errorf("%d strings, %d languages: %w",
			strCount, langCount, pkg.ErrMalformed)
	}
	if int(strCount) < needed {
		return nil, fmt.Errorf("%d strings declared, %d required: %w",
			strCount, needed, pkg.ErrMalformed)
	}

	t := &StringTable{}
	body := data[16:]
	for l := uint32(0); l < langCount; l++ {
		if len(body) < 2 {
			return nil, fmt.Errorf("language %d: %w", l, pkg.ErrDescriptorTooShort)
		}
		lang := Language{ID: binary.LittleEndian.Uint16(body[0:2])}
		body = body[2:]

		for s := uint32(0); s < strCount; s++ {
			str, rest, err := nextString(body)
			if err != nil {
				return nil, fmt.Errorf("language %d string %d: %w", l, s, err)
			}
			if int(s) < needed {
				lang.Strings = append(lang.Strings, str)
			}
			body = rest
		}

		// Empty-string sentinel closes each language section.
		sentinel, rest, err := nextString(body)
		if err != nil || sentinel != "" {
			return nil, fmt.Errorf("language %d missing sentinel: %w", l, pkg.ErrMalformed)
		}
		body = rest

		t.Languages = append(t.Languages, lang)
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%d trailing bytes: %w", len(body), pkg.ErrMalformed)
	}

	pkg.LogDebug(pkg.ComponentParser, "string blob accepted",
		"languages", langCount, "strings", strCount, "kept", needed)
	return t, nil
}

// nextString consumes one NUL-terminated string from data.
func nextString(data []byte) (string, []byte, error) {
	for i := range data {
		if data[i] == 0 {
			return string(data[:i]), data[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("unterminated string: %w", pkg.ErrMalformed)
}

// AssignIDs records the base of the contiguous string id range
// allocated by the composite layer at bind time. The same ids apply to
// every language.
func (t *StringTable) AssignIDs(first uint8) {
	t.firstID = first
}

// ClearIDs discards the bind-time id assignment.
func (t *StringTable) ClearIDs() {
	t.firstID = 0
}

// ID returns the bound string id for a 1-based string index, or 0 if
// unassigned or out of range.
func (t *StringTable) ID(index int) uint8 {
	if t.firstID == 0 || index < 1 || len(t.Languages) == 0 ||
		index > len(t.Languages[0].Strings) {
		return 0
	}
	return t.firstID + uint8(index-1)
}

// Count returns the number of strings kept per language.
func (t *StringTable) Count() int {
	if len(t.Languages) == 0 {
		return 0
	}
	return len(t.Languages[0].Strings)
}

// Lookup returns the string at a 1-based index in the given language.
func (t *StringTable) Lookup(langID uint16, index int) (string, bool) {
	for i := range t.Languages {
		if t.Languages[i].ID != langID {
			continue
		}
		if index < 1 || index > len(t.Languages[i].Strings) {
			return "", false
		}
		return t.Languages[i].Strings[index-1], true
	}
	return "", false
}
