package carcode

import (
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"southwinds.dev/carcode/audit"
	"southwinds.dev/carcode/internal/keystream"
	"southwinds.dev/carcode/internal/mem"
	"southwinds.dev/carcode/internal/radix64"
)

// Initialize memguard in init function to ensure it's set up before any codec operation
func init() {
	// Enable memguard protection
	memguard.CatchInterrupt()
}

// Codec is the CodecService implementation. The obfuscation key lives in a
// memguard enclave and is opened only for the duration of a single build or
// parse operation.
type Codec struct {
	keyEnclave *memguard.Enclave
	mu         sync.RWMutex

	// Memory protection
	memoryProtectionLevel mem.ProtectionLevel

	// Audit logging
	audit audit.Logger

	closed bool
}

var _ CodecService = (*Codec)(nil)

// New creates a codec from the given options.
//
// The function resolves the obfuscation key (options, environment, or the
// compiled-in default), seals it into a protected enclave, and optionally
// locks process memory. Memory locking failure is not fatal; the enclave
// still protects the key and the achieved level is reported through
// MemoryProtection.
//
// Parameters:
//   - options: codec configuration (key material, memory locking)
//   - auditLogger: logger for build/parse events (nil creates a no-op logger)
//
// Returns:
//   - CodecService: ready-to-use codec
//   - error: if the options are invalid or no key can be resolved
func New(options Options, auditLogger audit.Logger) (CodecService, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	// Set up audit logger - use no-op logger if none provided
	// This ensures audit operations never fail due to nil pointer access
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	key, err := options.resolveKey()
	if err != nil {
		_ = auditLogger.Log("KEY_LOAD", false, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to resolve obfuscation key: %w", err)
	}

	c := &Codec{
		// NewEnclave wipes the source slice after sealing
		keyEnclave:            memguard.NewEnclave(key),
		memoryProtectionLevel: mem.ProtectionNone,
		audit:                 auditLogger,
	}

	if options.EnableMemoryLock {
		// Best-effort: the codec remains functional even if platform memory
		// locking is unavailable
		protectionLevel, err := mem.Lock()
		if err != nil {
			fmt.Printf("WARNING: Cannot fully protect memory: %v\n", err)
			fmt.Println("However, MemGuard will still provide protection for the obfuscation key")
		}
		c.memoryProtectionLevel = protectionLevel
	}

	_ = auditLogger.Log("KEY_LOAD", true, map[string]interface{}{
		"memory_protection": mem.Describe(c.memoryProtectionLevel),
	})

	return c, nil
}

// BuildPayload produces the wire payload CC::1:<encoded-body> for a tag
// identifier. See CodecService.
func (c *Codec) BuildPayload(tagID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", fmt.Errorf("codec is closed")
	}

	if !strings.HasPrefix(tagID, TagIDPrefix) {
		_ = c.audit.Log("PAYLOAD_BUILD", false, map[string]interface{}{
			"error": fmt.Sprintf("tag identifier must start with %s", TagIDPrefix),
		})
		return "", fmt.Errorf("tag identifier must start with %s", TagIDPrefix)
	}

	var payload string
	err := c.withKey(func(key []byte) error {
		cipherBytes := keystream.Apply(radix64.StringToBytes(tagID), key)
		payload = fmt.Sprintf("%s::%d:%s", SchemeTag, FormatVersion, radix64.BytesToText(cipherBytes))
		return nil
	})
	if err != nil {
		_ = c.audit.Log("PAYLOAD_BUILD", false, map[string]interface{}{
			"tag_id": tagID,
			"error":  err.Error(),
		})
		return "", err
	}

	_ = c.audit.Log("PAYLOAD_BUILD", true, map[string]interface{}{
		"tag_id": tagID,
		"format": string(FormatEncrypted),
	})

	return payload, nil
}

// ParsePayload recovers a canonical tag identifier from a scanned string.
// Unrecognized input yields ("", nil). See CodecService for the precedence
// rules.
func (c *Codec) ParsePayload(scanned string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", fmt.Errorf("codec is closed")
	}

	format := DetectFormatString(scanned)

	var tagID string
	switch format {
	case FormatEncrypted:
		// The CC:: marker is conclusive: a malformed encrypted payload is
		// unrecognized, never reinterpreted as plain or URL format.
		id, err := c.parseEncrypted(scanned)
		if err != nil {
			return "", err
		}
		tagID = id

	case FormatPlain:
		tagID = scanned

	case FormatURL:
		tagID = parseScanURL(scanned)
	}

	_ = c.audit.Log("PAYLOAD_PARSE", tagID != "", map[string]interface{}{
		"tag_id": tagID,
		"format": string(format),
	})

	return tagID, nil
}

// parseEncrypted handles rule 1 of the parse chain. It returns "" for every
// malformed shape: too few components, garbage from a lax decode, or a
// deobfuscated value without the TAG- prefix.
func (c *Codec) parseEncrypted(scanned string) (string, error) {
	components := strings.Split(scanned, ":")

	// A well-formed payload splits into at least 4 components: the scheme
	// tag, the empty string between the double colons, the version, and the
	// body. The body may itself contain ':' characters, so everything from
	// the fourth component on is rejoined rather than dropped.
	if len(components) < 4 {
		return "", nil
	}

	body := strings.Join(components[3:], ":")

	var tagID string
	err := c.withKey(func(key []byte) error {
		plainBytes := keystream.Apply(radix64.TextToBytes(body), key)
		decoded := radix64.BytesToString(plainBytes)
		if strings.HasPrefix(decoded, TagIDPrefix) {
			tagID = decoded
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return tagID, nil
}

// parseScanURL handles rule 3 of the parse chain: everything after the first
// /scan/ occurrence, truncated at the first '?' or '#'.
func parseScanURL(scanned string) string {
	idx := strings.Index(scanned, ScanPathMarker)
	if idx < 0 {
		return ""
	}

	code := scanned[idx+len(ScanPathMarker):]
	if cut := strings.IndexAny(code, "?#"); cut >= 0 {
		code = code[:cut]
	}

	if !strings.HasPrefix(code, TagIDPrefix) {
		return ""
	}

	return code
}

// DetectFormat reports the recognized shape of the scanned string.
func (c *Codec) DetectFormat(scanned string) Format {
	return DetectFormatString(scanned)
}

// DetectFormatString classifies a scanned string without needing a codec
// instance. The order mirrors the parse precedence: the CC:: marker wins
// over everything, then a bare identifier, then a scan deep-link.
func DetectFormatString(scanned string) Format {
	switch {
	case strings.HasPrefix(scanned, EncryptedMarker):
		return FormatEncrypted
	case strings.HasPrefix(scanned, TagIDPrefix):
		return FormatPlain
	case strings.Contains(scanned, ScanPathMarker):
		return FormatURL
	default:
		return FormatUnknown
	}
}

// MemoryProtection reports the memory locking level achieved at construction.
func (c *Codec) MemoryProtection() mem.ProtectionLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memoryProtectionLevel
}

// Close destroys the key enclave reference and closes the audit logger.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.keyEnclave = nil

	_ = c.audit.Log("CODEC_CLOSE", true, nil)

	return c.audit.Close()
}

// withKey opens the key enclave, hands the key bytes to fn, and destroys the
// buffer immediately afterwards to minimize exposure.
func (c *Codec) withKey(fn func(key []byte) error) error {
	if c.keyEnclave == nil {
		return fmt.Errorf("codec has no key material")
	}

	keyBuffer, err := c.keyEnclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer keyBuffer.Destroy()

	return fn(keyBuffer.Bytes())
}
