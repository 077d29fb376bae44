package desc

import "encoding/binary"

// EndpointDesc is a view over raw endpoint descriptor bytes (7 or 9
// bytes, already validated by Walk). Mutating methods write through to
// the underlying buffer.
type EndpointDesc []byte

// Address returns the bEndpointAddress field.
func (d EndpointDesc) Address() uint8 {
	return d[2]
}

// SetAddress overwrites the bEndpointAddress field.
func (d EndpointDesc) SetAddress(addr uint8) {
	d[2] = addr
}

// Number returns the endpoint number (1-15) from the address field.
func (d EndpointDesc) Number() uint8 {
	return d[2] & EndpointNumberMask
}

// IsIn returns true for an IN (device-to-host) endpoint.
func (d EndpointDesc) IsIn() bool {
	return d[2]&EndpointDirectionMask == EndpointDirectionIn
}

// TransferType returns the transfer type from bmAttributes.
func (d EndpointDesc) TransferType() uint8 {
	return d[3] & EndpointTransferTypeMask
}

// IsIsochronous returns true for an isochronous endpoint.
func (d EndpointDesc) IsIsochronous() bool {
	return d.TransferType() == TransferTypeIsochronous
}

// MaxPacketSize returns the wMaxPacketSize field.
func (d EndpointDesc) MaxPacketSize() uint16 {
	return binary.LittleEndian.Uint16(d[4:6])
}

// SetMaxPacketSize overwrites the wMaxPacketSize field.
func (d EndpointDesc) SetMaxPacketSize(size uint16) {
	binary.LittleEndian.PutUint16(d[4:6], size)
}

// Interval returns the bInterval field.
func (d EndpointDesc) Interval() uint8 {
	return d[6]
}
