package desc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/funcfs/pkg"
)

// OSDescHeader is the decoded header of one OS descriptor block record.
type OSDescHeader struct {
	Interface uint8  // Interface slot the record binds to
	Length    uint32 // dwLength: total record length including header
	Version   uint16 // bcdVersion: must be 1
	Index     uint16 // wIndex: OSDescExtCompat or OSDescExtProp
	Count     uint16 // Feature or property count
}

// OSDescRecord is one record of a validated OS descriptor block.
type OSDescRecord struct {
	Header OSDescHeader
	Body   []byte
}

// WalkOSDescs walks an already accepted OS descriptor block, handing
// each record to fn.
func WalkOSDescs(data []byte, count uint32, fn func(rec OSDescRecord) error) error {
	var scratch Blob
	off := 0
	for i := uint32(0); i < count; i++ {
		var hdr OSDescHeader
		n, err := parseOSDesc(data[off:], &hdr, &scratch)
		if err != nil {
			return err
		}
		rec := OSDescRecord{Header: hdr, Body: data[off+osDescHeaderLength : off+n]}
		if err := fn(rec); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// parseOSDescs validates count OS descriptor records at the head of
// data, accumulating extended-property totals into b. It returns the
// number of bytes consumed.
func parseOSDescs(data []byte, count uint32, b *Blob) (int, error) {
	consumed := 0
	for i := uint32(0); i < count; i++ {
		var hdr OSDescHeader
		n, err := parseOSDesc(data[consumed:], &hdr, b)
		if err != nil {
			return consumed, fmt.Errorf("os descriptor %d at offset %d: %w", i, consumed, err)
		}
		consumed += n
	}
	return consumed, nil
}

// parseOSDesc validates a single OS descriptor record.
func parseOSDesc(data []byte, hdr *OSDescHeader, b *Blob) (int, error) {
	if len(data) < osDescHeaderLength {
		return 0, pkg.ErrDescriptorTooShort
	}
	hdr.Interface = data[0]
	hdr.Length = binary.LittleEndian.Uint32(data[1:5])
	hdr.Version = binary.LittleEndian.Uint16(data[5:7])
	hdr.Index = binary.LittleEndian.Uint16(data[7:9])
	hdr.Count = binary.LittleEndian.Uint16(data[9:11])

	if hdr.Version != 1 {
		return 0, fmt.Errorf("bcdVersion %d: %w", hdr.Version, pkg.ErrNotSupported)
	}
	length := int(hdr.Length)
	if length < osDescHeaderLength || length > len(data) {
		return 0, fmt.Errorf("record length %d: %w", length, pkg.ErrMalformed)
	}
	body := data[osDescHeaderLength:length]

	switch hdr.Index {
	case OSDescExtCompat:
		// Count is the union's low byte; the high byte is reserved.
		features := int(hdr.Count & 0xFF)
		if hdr.Count>>8 != 0 {
			return 0, fmt.Errorf("reserved byte 0x%02x: %w", hdr.Count>>8, pkg.ErrMalformed)
		}
		if len(body) != features*extCompatDescLength {
			return 0, fmt.Errorf("%d compat features in %d bytes: %w",
				features, len(body), pkg.ErrMalformed)
		}

	case OSDescExtProp:
		if err := parseExtProps(body, int(hdr.Count), b); err != nil {
			return 0, err
		}

	default:
		return 0, fmt.Errorf("wIndex 0x%04x: %w", hdr.Index, pkg.ErrNotSupported)
	}

	return length, nil
}

// parseExtProps validates count extended-property records occupying
// exactly the given body, accumulating size totals into b.
func parseExtProps(body []byte, count int, b *Blob) error {
	for i := 0; i < count; i++ {
		if len(body) < 14 {
			return fmt.Errorf("property %d: %w", i, pkg.ErrDescriptorTooShort)
		}
		size := binary.LittleEndian.Uint32(body[0:4])
		typ := binary.LittleEndian.Uint32(body[4:8])
		nameLen := int(binary.LittleEndian.Uint16(body[8:10]))
		if typ < ExtPropTypeUnicode || typ > ExtPropTypeUnicodeMultiple {
			return fmt.Errorf("property %d data type %d: %w", i, typ, pkg.ErrNotSupported)
		}
		if len(body) < 14+nameLen {
			return fmt.Errorf("property %d: %w", i, pkg.ErrDescriptorTooShort)
		}
		dataLen := int(binary.LittleEndian.Uint32(body[10+nameLen : 14+nameLen]))
		total := 14 + nameLen + dataLen
		if int(size) != total || len(body) < total {
			return fmt.Errorf("property %d size %d, computed %d: %w",
				i, size, total, pkg.ErrMalformed)
		}
		b.ExtPropCount++
		b.ExtPropNameLen += nameLen
		b.ExtPropDataLen += dataLen
		body = body[total:]
	}
	if len(body) != 0 {
		return fmt.Errorf("%d trailing property bytes: %w", len(body), pkg.ErrMalformed)
	}
	return nil
}
