// Package desc implements the wire formats a controlling process uses
// to define a USB function: the descriptor blob, the string blob, the
// OS descriptor block, setup packets, and event records.
//
// # Descriptor Blob
//
// A descriptor blob opens with a 4-byte little-endian magic tag and a
// 4-byte declared total length. The versioned format ([BlobMagicV2])
// follows with a flags word selecting which speed tiers are present
// and whether a notifier handle and an OS descriptor block follow; the
// legacy format ([BlobMagic]) implies full- and high-speed tiers. One
// 4-byte descriptor count per declared tier precedes the concatenated
// raw descriptor bytes.
//
// [ParseBlob] validates the grammar of every tier, computes interface,
// endpoint, and string-index counts, and records the endpoint
// index→address map. The first populated tier establishes the counts
// and the address map; every other tier must match them exactly.
//
// # String Blob
//
// [ParseStrings] validates the per-language string tables against the
// string count computed by [ParseBlob] and builds a [StringTable].
//
// # Raw Byte Contract
//
// Validated blobs remain raw bytes: the function binder rewrites
// interface numbers, string ids, and endpoint addresses inside a copy
// at bind time. [Walk] therefore hands its callback pointers into the
// walked buffer ([EntityFunc]) instead of decoded structures.
package desc
