package desc

// Standard USB descriptor types (USB 2.0 Spec Table 9-5).
const (
	TypeDevice           = 0x01
	TypeConfiguration    = 0x02
	TypeString           = 0x03
	TypeInterface        = 0x04
	TypeEndpoint         = 0x05
	TypeDeviceQualifier  = 0x06
	TypeOtherSpeedConfig = 0x07
	TypeInterfacePower   = 0x08
	TypeOTG              = 0x09
	TypeDebug            = 0x0A
	TypeInterfaceAssoc   = 0x0B
	TypeHID              = 0x21
	TypeSSEndpointComp   = 0x30
)

// Standard descriptor lengths in bytes.
const (
	InterfaceDescLength     = 9
	EndpointDescLength      = 7
	EndpointDescAudioLength = 9 // With bRefresh and bSynchAddress
	InterfaceAssocLength    = 8
	HIDDescLength           = 9
	OTGDescLength           = 3
	SSEndpointCompLength    = 6
)

// Endpoint address fields.
const (
	EndpointNumberMask    = 0x0F
	EndpointDirectionMask = 0x80
	EndpointDirectionOut  = 0x00
	EndpointDirectionIn   = 0x80
)

// Endpoint attribute fields (bmAttributes).
const (
	EndpointTransferTypeMask = 0x03
	TransferTypeControl      = 0x00
	TransferTypeIsochronous  = 0x01
	TransferTypeBulk         = 0x02
	TransferTypeInterrupt    = 0x03
)

// Descriptor blob magic tags.
const (
	BlobMagic        = 1 // Legacy format: full- and high-speed tiers implied
	StringsBlobMagic = 2 // String blob
	BlobMagicV2      = 3 // Versioned format with explicit flags
)

// Descriptor blob capability flags (versioned format only).
const (
	HasFSDesc   = 1 << 0 // Full-/low-speed descriptor tier present
	HasHSDesc   = 1 << 1 // High-speed descriptor tier present
	HasSSDesc   = 1 << 2 // Super-speed descriptor tier present
	HasMSOSDesc = 1 << 3 // OS descriptor block present
	VirtualAddr = 1 << 4 // Preserve blob-declared endpoint addresses
	EventNotify = 1 << 5 // Notifier handle field present
)

// allBlobFlags is the set of flag bits this implementation understands.
const allBlobFlags = HasFSDesc | HasHSDesc | HasSSDesc | HasMSOSDesc |
	VirtualAddr | EventNotify

// Speed tier indices into per-speed descriptor tables.
const (
	TierFull  = 0 // Low/full speed
	TierHigh  = 1 // High speed
	TierSuper = 2 // Super speed

	TierCount = 3
)

// MaxEndpoints is the maximum number of data endpoints one function
// may declare.
const MaxEndpoints = 14

// OS descriptor block record types (wIndex values).
const (
	OSDescExtCompat = 0x0004 // Extended compatibility ID records
	OSDescExtProp   = 0x0005 // Extended properties records
)

// OS descriptor record sizes.
const (
	osDescHeaderLength  = 11 // interface + dwLength + bcdVersion + wIndex + wCount
	extCompatDescLength = 24 // One extended-compatibility feature record
)

// Extended property data types (dwPropertyDataType).
const (
	ExtPropTypeUnicode         = 1
	ExtPropTypeUnicodeEnv      = 2
	ExtPropTypeBinary          = 3
	ExtPropTypeLE32            = 4
	ExtPropTypeBE32            = 5
	ExtPropTypeUnicodeLink     = 6
	ExtPropTypeUnicodeMultiple = 7
)
