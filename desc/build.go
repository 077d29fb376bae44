package desc

import "encoding/binary"

// BlobBuilder assembles a versioned descriptor blob from raw per-tier
// descriptor bytes. It exists for tools and tests that synthesize
// function definitions; the engine itself only parses.
type BlobBuilder struct {
	flags    uint32
	notifier uint32
	tiers    [TierCount]tierBytes
	osCount  uint32
	osBytes  []byte
}

type tierBytes struct {
	count uint32
	raw   []byte
}

// SetFlags ORs additional capability flags (e.g. [VirtualAddr]) into
// the blob header. Tier flags are derived from SetTier automatically.
func (b *BlobBuilder) SetFlags(flags uint32) *BlobBuilder {
	b.flags |= flags
	return b
}

// SetNotifier declares an event notifier handle.
func (b *BlobBuilder) SetNotifier(handle uint32) *BlobBuilder {
	b.flags |= EventNotify
	b.notifier = handle
	return b
}

// SetTier supplies one speed tier's descriptor count and raw bytes.
func (b *BlobBuilder) SetTier(tier, count int, raw []byte) *BlobBuilder {
	if tier < 0 || tier >= TierCount {
		return b
	}
	b.tiers[tier] = tierBytes{count: uint32(count), raw: raw}
	switch tier {
	case TierFull:
		b.flags |= HasFSDesc
	case TierHigh:
		b.flags |= HasHSDesc
	case TierSuper:
		b.flags |= HasSSDesc
	}
	return b
}

// SetOSDescriptors supplies the OS descriptor block.
func (b *BlobBuilder) SetOSDescriptors(count int, raw []byte) *BlobBuilder {
	b.flags |= HasMSOSDesc
	b.osCount = uint32(count)
	b.osBytes = raw
	return b
}

// Bytes serializes the blob.
func (b *BlobBuilder) Bytes() []byte {
	size := 12
	if b.flags&EventNotify != 0 {
		size += 4
	}
	for tier := range b.tiers {
		if b.flags&tierFlag(tier) != 0 {
			size += 4 + len(b.tiers[tier].raw)
		}
	}
	if b.flags&HasMSOSDesc != 0 {
		size += 4 + len(b.osBytes)
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, BlobMagicV2)
	out = binary.LittleEndian.AppendUint32(out, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, b.flags)
	if b.flags&EventNotify != 0 {
		out = binary.LittleEndian.AppendUint32(out, b.notifier)
	}
	for tier := range b.tiers {
		if b.flags&tierFlag(tier) != 0 {
			out = binary.LittleEndian.AppendUint32(out, b.tiers[tier].count)
		}
	}
	if b.flags&HasMSOSDesc != 0 {
		out = binary.LittleEndian.AppendUint32(out, b.osCount)
	}
	for tier := range b.tiers {
		if b.flags&tierFlag(tier) != 0 {
			out = append(out, b.tiers[tier].raw...)
		}
	}
	if b.flags&HasMSOSDesc != 0 {
		out = append(out, b.osBytes...)
	}
	return out
}

// tierFlag maps a tier index to its header flag bit.
func tierFlag(tier int) uint32 {
	switch tier {
	case TierFull:
		return HasFSDesc
	case TierHigh:
		return HasHSDesc
	case TierSuper:
		return HasSSDesc
	default:
		return 0
	}
}

// AppendInterface appends a 9-byte interface descriptor to buf.
func AppendInterface(buf []byte, number, numEndpoints, class, subclass, protocol, iInterface uint8) []byte {
	return append(buf,
		InterfaceDescLength, TypeInterface,
		number, 0, numEndpoints, class, subclass, protocol, iInterface)
}

// AppendBulkEndpoint appends a 7-byte bulk endpoint descriptor to buf.
func AppendBulkEndpoint(buf []byte, address uint8, maxPacket uint16) []byte {
	return append(buf,
		EndpointDescLength, TypeEndpoint,
		address, TransferTypeBulk, byte(maxPacket), byte(maxPacket>>8), 0)
}

// AppendInterruptEndpoint appends a 7-byte interrupt endpoint
// descriptor to buf.
func AppendInterruptEndpoint(buf []byte, address uint8, maxPacket uint16, interval uint8) []byte {
	return append(buf,
		EndpointDescLength, TypeEndpoint,
		address, TransferTypeInterrupt, byte(maxPacket), byte(maxPacket>>8), interval)
}

// BuildStrings serializes a string blob for the given languages. Every
// language must carry the same number of strings.
func BuildStrings(langs []Language) []byte {
	strCount := 0
	if len(langs) > 0 {
		strCount = len(langs[0].Strings)
	}

	size := 16
	for i := range langs {
		size += 2
		for _, s := range langs[i].Strings {
			size += len(s) + 1
		}
		size++ // sentinel
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, StringsBlobMagic)
	out = binary.LittleEndian.AppendUint32(out, uint32(size))
	out = binary.LittleEndian.AppendUint32(out, uint32(strCount))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(langs)))
	for i := range langs {
		out = binary.LittleEndian.AppendUint16(out, langs[i].ID)
		for _, s := range langs[i].Strings {
			out = append(out, s...)
			out = append(out, 0)
		}
		out = append(out, 0) // sentinel
	}
	return out
}
