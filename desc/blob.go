package desc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/funcfs/pkg"
)

// Blob is a validated descriptor blob: the raw descriptor bytes for
// every declared speed tier plus the counts and mappings computed while
// walking them. The byte buffers are private copies of the accepted
// input and must never be mutated; the binder rewrites its own copy.
type Blob struct {
	// Flags holds the capability flags (legacy blobs are normalized
	// to HasFSDesc|HasHSDesc).
	Flags uint32

	// NotifierHandle is the notifier handle declared by the blob, or
	// -1 when the EventNotify flag is absent.
	NotifierHandle int

	// Counts holds the declared descriptor count per speed tier.
	Counts [TierCount]uint32

	// OSDescCount is the number of OS descriptor block records.
	OSDescCount uint32

	// Descriptors holds the concatenated raw descriptor bytes of all
	// declared tiers.
	Descriptors []byte

	// OSDescriptors holds the raw OS descriptor block, if any.
	OSDescriptors []byte

	// InterfaceCount and EndpointCount are computed from the first
	// populated tier and verified identical for every other tier.
	InterfaceCount int
	EndpointCount  int

	// StringsNeeded is the highest string index referenced by any
	// descriptor, i.e. the number of strings the string blob must
	// provide.
	StringsNeeded int

	// ExtPropCount, ExtPropNameLen, and ExtPropDataLen record totals
	// over all extended-property OS descriptor records, for sizing the
	// bound per-interface tables.
	ExtPropCount   int
	ExtPropNameLen int
	ExtPropDataLen int

	tierLen [TierCount]int

	// addrMap maps 1-based endpoint index to the declared address.
	addrMap [MaxEndpoints + 1]uint8
}

// ParseBlob validates data as a descriptor blob and indexes it.
// It is deterministic and leaves no state behind on failure.
func ParseBlob(data []byte) (*Blob, error) {
	if len(data) < 8 {
		return nil, pkg.ErrDescriptorTooShort
	}

	// Private immutable copy; all slices below alias it.
	buf := make([]byte, len(data))
	copy(buf, data)

	b := &Blob{NotifierHandle: -1}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	declared := binary.LittleEndian.Uint32(buf[4:8])
	if declared != uint32(len(buf)) {
		return nil, fmt.Errorf("declared %d bytes, have %d: %w",
			declared, len(buf), pkg.ErrLengthMismatch)
	}

	off := 8
	switch magic {
	case BlobMagic:
		b.Flags = HasFSDesc | HasHSDesc
	case BlobMagicV2:
		if len(buf) < 12 {
			return nil, pkg.ErrDescriptorTooShort
		}
		b.Flags = binary.LittleEndian.Uint32(buf[8:12])
		if b.Flags&^uint32(allBlobFlags) != 0 {
			return nil, fmt.Errorf("flags 0x%08x: %w", b.Flags, pkg.ErrNotSupported)
		}
		off = 12
	default:
		return nil, fmt.Errorf("magic 0x%08x: %w", magic, pkg.ErrBadMagic)
	}

	readU32 := func() (uint32, error) {
		if len(buf)-off < 4 {
			return 0, pkg.ErrDescriptorTooShort
		}
		v := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		return v, nil
	}

	if b.Flags&EventNotify != 0 {
		h, err := readU32()
		if err != nil {
			return nil, err
		}
		b.NotifierHandle = int(h)
	}

	tierFlags := [TierCount]uint32{HasFSDesc, HasHSDesc, HasSSDesc}
	for tier := range tierFlags {
		if b.Flags&tierFlags[tier] == 0 {
			continue
		}
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		b.Counts[tier] = n
	}
	if b.Flags&HasMSOSDesc != 0 {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		b.OSDescCount = n
	}
	if b.Counts[TierFull] == 0 && b.Counts[TierHigh] == 0 &&
		b.Counts[TierSuper] == 0 && b.OSDescCount == 0 {
		return nil, fmt.Errorf("no descriptors declared: %w", pkg.ErrMalformed)
	}

	descStart := off
	established := false
	for tier := range b.Counts {
		if b.Counts[tier] == 0 {
			continue
		}
		var tc tierCounter
		consumed, err := Walk(buf[off:], int(b.Counts[tier]), tc.visit(b, established))
		if err != nil {
			return nil, fmt.Errorf("speed tier %d: %w", tier, err)
		}
		if !established {
			b.InterfaceCount = tc.interfaces
			b.EndpointCount = tc.endpoints
			established = true
		} else if b.InterfaceCount != tc.interfaces || b.EndpointCount != tc.endpoints {
			return nil, fmt.Errorf("speed tier %d declares %d interfaces / %d endpoints, first tier %d/%d: %w",
				tier, tc.interfaces, tc.endpoints, b.InterfaceCount, b.EndpointCount,
				pkg.ErrCountMismatch)
		}
		b.tierLen[tier] = consumed
		off += consumed
	}
	b.Descriptors = buf[descStart:off]

	if b.OSDescCount > 0 {
		osStart := off
		consumed, err := parseOSDescs(buf[off:], b.OSDescCount, b)
		if err != nil {
			return nil, err
		}
		off += consumed
		b.OSDescriptors = buf[osStart:off]
	}

	if off != len(buf) {
		return nil, fmt.Errorf("%d trailing bytes: %w", len(buf)-off, pkg.ErrMalformed)
	}

	pkg.LogDebug(pkg.ComponentParser, "descriptor blob accepted",
		"flags", b.Flags,
		"interfaces", b.InterfaceCount,
		"endpoints", b.EndpointCount,
		"stringsNeeded", b.StringsNeeded,
		"osDescs", b.OSDescCount)
	return b, nil
}

// tierCounter accumulates entity counts while walking one speed tier.
type tierCounter struct {
	interfaces int
	endpoints  int
}

// visit returns the walk callback for one tier. When establishing, the
// first tier's endpoint addresses populate the index→address map;
// otherwise each address must match the established map.
func (tc *tierCounter) visit(b *Blob, verify bool) EntityFunc {
	return func(kind EntityKind, value *byte, d []byte) error {
		switch kind {
		case KindInterface:
			if n := int(*value) + 1; n > tc.interfaces {
				tc.interfaces = n
			}
		case KindString:
			if n := int(*value); n > b.StringsNeeded {
				b.StringsNeeded = n
			}
		case KindEndpoint:
			tc.endpoints++
			if tc.endpoints > MaxEndpoints {
				return pkg.ErrTooManyEndpoints
			}
			if !verify {
				b.addrMap[tc.endpoints] = *value
			} else if b.addrMap[tc.endpoints] != *value {
				return fmt.Errorf("endpoint %d address 0x%02x, first tier 0x%02x: %w",
					tc.endpoints, *value, b.addrMap[tc.endpoints], pkg.ErrCountMismatch)
			}
		}
		return nil
	}
}

// Tier returns the raw descriptor bytes of one speed tier (nil when
// the tier is not populated).
func (b *Blob) Tier(tier int) []byte {
	if tier < 0 || tier >= TierCount || b.tierLen[tier] == 0 {
		return nil
	}
	start := 0
	for t := 0; t < tier; t++ {
		start += b.tierLen[t]
	}
	return b.Descriptors[start : start+b.tierLen[tier]]
}

// HasTier returns true if the tier declares any descriptors.
func (b *Blob) HasTier(tier int) bool {
	return tier >= 0 && tier < TierCount && b.Counts[tier] > 0
}

// VirtualAddr returns true if blob-declared endpoint addresses must be
// preserved in the view presented to the controlling process.
func (b *Blob) VirtualAddr() bool {
	return b.Flags&VirtualAddr != 0
}

// Address returns the declared address of the 1-based endpoint index.
func (b *Blob) Address(index int) uint8 {
	if index < 1 || index > b.EndpointCount {
		return 0
	}
	return b.addrMap[index]
}

// IndexOfAddress returns the 1-based endpoint index declaring the given
// address, or 0 if no endpoint declares it.
func (b *Blob) IndexOfAddress(addr uint8) int {
	for i := 1; i <= b.EndpointCount; i++ {
		if b.addrMap[i] == addr {
			return i
		}
	}
	return 0
}
