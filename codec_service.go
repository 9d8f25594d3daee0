// Package carcode implements the payload codec used on vehicle tag labels.
//
// Every physical tag carries a QR code whose content is an obfuscated form
// of the tag's canonical identifier. The obfuscation is deliberately weak: a
// repeating-key XOR under a fixed shared key, encoded with a base64-style
// text encoding. Its purpose is to deter casual QR readers from displaying
// raw tag identifiers, not to resist anyone with access to the client
// binary. The exact bit-level scheme must be preserved across releases
// because payloads printed on already-issued physical labels cannot be
// re-issued.
//
// The package exposes three concerns:
//
//   - payload construction and parsing (CodecService)
//   - tag identifier generation (NewTagID)
//   - batch issuance with sealed persistence (Issuer)
package carcode

import "southwinds.dev/carcode/internal/mem"

const (
	// SchemeTag is the fixed scheme marker that opens every obfuscated payload.
	SchemeTag = "CC"

	// FormatVersion is the payload format version emitted by BuildPayload.
	// Bumping it invalidates all previously issued labels, so it only changes
	// together with the obfuscation scheme itself.
	FormatVersion = 1

	// TagIDPrefix is the literal prefix every canonical tag identifier
	// carries. It is the only part of a payload with business meaning.
	TagIDPrefix = "TAG-"

	// EncryptedMarker is the prefix that conclusively identifies an
	// obfuscated payload. Strings starting with it are never reinterpreted
	// as any other format, even when parsing fails.
	EncryptedMarker = SchemeTag + "::"

	// ScanPathMarker is the URL path fragment that identifies a scan
	// deep-link. Recognition is based on path shape only; the host is
	// deliberately not checked so labels survive a domain change.
	ScanPathMarker = "/scan/"
)

// Format classifies the recognized shape of a scanned string.
type Format string

const (
	// FormatEncrypted is the obfuscated wire format: CC::1:<encoded-body>.
	FormatEncrypted Format = "encrypted"

	// FormatPlain is a bare canonical tag identifier, e.g. a manually typed
	// legacy code.
	FormatPlain Format = "plain"

	// FormatURL is a deep-link URL embedding the identifier after /scan/.
	FormatURL Format = "url"

	// FormatUnknown marks input that matches none of the recognized shapes.
	FormatUnknown Format = "unknown"
)

// CodecService defines the payload codec operations.
//
// All operations are pure and safe for concurrent use: each call reads the
// fixed obfuscation key and touches no shared mutable state. There is no
// caching and no retry logic; every call returns in time proportional to the
// input length.
type CodecService interface {
	// BuildPayload produces the wire payload for a canonical tag identifier.
	// The result has the form CC::1:<encoded-body> where the body is the
	// XOR-obfuscated identifier in the codec's text encoding. Identifiers
	// that do not start with TAG- are rejected.
	BuildPayload(tagID string) (string, error)

	// ParsePayload recovers a canonical tag identifier from a scanned
	// string. Three formats are recognized, in strict order of precedence:
	//
	//  1. Encrypted: input starting with CC:: is decoded and deobfuscated.
	//     If anything about it is malformed the input is unrecognized;
	//     it never falls through to the other rules.
	//  2. Plain: input starting with TAG- is accepted verbatim.
	//  3. URL: input containing /scan/ yields whatever follows the first
	//     occurrence, truncated at the first '?' or '#', provided it
	//     starts with TAG-.
	//
	// Unrecognized input returns ("", nil): it is an expected outcome of
	// scanning arbitrary QR codes, not an error. The error return is
	// reserved for codec misuse, e.g. calling a closed codec.
	ParsePayload(scanned string) (string, error)

	// DetectFormat reports which recognized shape the scanned string has,
	// without decoding it. A FormatEncrypted result does not imply the
	// payload parses successfully.
	DetectFormat(scanned string) Format

	// MemoryProtection reports the level of memory locking achieved for the
	// key enclave at construction time.
	MemoryProtection() mem.ProtectionLevel

	// Close destroys the key enclave and releases the audit logger. The
	// codec is unusable afterwards.
	Close() error
}
