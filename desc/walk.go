package desc

import (
	"fmt"

	"github.com/ardnew/funcfs/pkg"
)

// EntityKind identifies what a walk callback is being handed.
type EntityKind uint8

// Entity kinds reported by Walk.
const (
	// KindDescriptor is reported once per descriptor, with d covering
	// the descriptor's full byte range and value nil.
	KindDescriptor EntityKind = iota

	// KindInterface reports an interface number. value points at the
	// bInterfaceNumber byte inside d.
	KindInterface

	// KindString reports a nonzero string table index. value points at
	// the index byte inside d.
	KindString

	// KindEndpoint reports an endpoint address. value points at the
	// bEndpointAddress byte inside d.
	KindEndpoint
)

// EntityFunc receives each entity found while walking raw descriptors.
// The value pointer aliases the walked buffer so callers rewriting
// numbers at bind time can update the bytes in place.
type EntityFunc func(kind EntityKind, value *byte, d []byte) error

// Walk validates and visits count descriptors at the head of data,
// invoking fn for each descriptor and for every interface, string, and
// endpoint entity it declares. It returns the number of bytes consumed.
//
// Descriptor types that only a host-facing configuration may declare
// (device, configuration, string, qualifier) are rejected, as is any
// type the function engine does not understand.
func Walk(data []byte, count int, fn EntityFunc) (int, error) {
	consumed := 0
	for i := 0; i < count; i++ {
		n, err := walkOne(data[consumed:], fn)
		if err != nil {
			return consumed, fmt.Errorf("descriptor %d at offset %d: %w", i, consumed, err)
		}
		consumed += n
	}
	return consumed, nil
}

// walkOne validates a single descriptor and dispatches its entities.
func walkOne(data []byte, fn EntityFunc) (int, error) {
	if len(data) < 2 {
		return 0, pkg.ErrDescriptorTooShort
	}
	length := int(data[0])
	if length < 2 || length > len(data) {
		return 0, pkg.ErrDescriptorTooShort
	}
	d := data[:length]
	typ := d[1]

	badLength := func(want int) error {
		if length != want {
			return fmt.Errorf("type 0x%02x length %d, want %d: %w",
				typ, length, want, pkg.ErrMalformed)
		}
		return nil
	}

	if err := fn(KindDescriptor, nil, d); err != nil {
		return 0, err
	}

	switch typ {
	case TypeDevice, TypeConfiguration, TypeString, TypeDeviceQualifier:
		// Only the composite layer may declare these.
		return 0, fmt.Errorf("host-level descriptor type 0x%02x: %w", typ, pkg.ErrMalformed)

	case TypeInterface:
		if err := badLength(InterfaceDescLength); err != nil {
			return 0, err
		}
		if err := fn(KindInterface, &d[2], d); err != nil {
			return 0, err
		}
		if d[8] != 0 { // iInterface
			if err := fn(KindString, &d[8], d); err != nil {
				return 0, err
			}
		}

	case TypeEndpoint:
		if length != EndpointDescLength && length != EndpointDescAudioLength {
			return 0, fmt.Errorf("endpoint descriptor length %d: %w", length, pkg.ErrMalformed)
		}
		if d[2]&EndpointNumberMask == 0 {
			return 0, fmt.Errorf("endpoint number zero: %w", pkg.ErrMalformed)
		}
		if err := fn(KindEndpoint, &d[2], d); err != nil {
			return 0, err
		}

	case TypeInterfaceAssoc:
		if err := badLength(InterfaceAssocLength); err != nil {
			return 0, err
		}
		if d[7] != 0 { // iFunction
			if err := fn(KindString, &d[7], d); err != nil {
				return 0, err
			}
		}

	case TypeHID:
		if err := badLength(HIDDescLength); err != nil {
			return 0, err
		}

	case TypeOTG:
		if err := badLength(OTGDescLength); err != nil {
			return 0, err
		}

	case TypeSSEndpointComp:
		if err := badLength(SSEndpointCompLength); err != nil {
			return 0, err
		}

	case TypeOtherSpeedConfig, TypeInterfacePower, TypeDebug:
		return 0, fmt.Errorf("unsupported descriptor type 0x%02x: %w", typ, pkg.ErrNotSupported)

	default:
		return 0, fmt.Errorf("unknown descriptor type 0x%02x: %w", typ, pkg.ErrMalformed)
	}

	return length, nil
}
