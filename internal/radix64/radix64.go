// Package radix64 implements the printable text encoding used by CarCode QR
// payloads. It is bit-compatible with the legacy client implementation, which
// means two deliberate departures from encoding/base64:
//
//   - decoding is lax: characters outside the alphabet resolve to a -1 index
//     and propagate as deterministic garbage bytes instead of raising an error
//     (the payload layer post-validates the result), and
//   - string/byte conversion is one byte per character by code point, not
//     UTF-8 aware, matching the legacy text-to-byte mapping.
//
// The standard library decoder rejects exactly the inputs that already-issued
// labels depend on surviving, so this package cannot be replaced by it.
package radix64

import "strings"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const padChar = '='

// BytesToText encodes data into the 64-character alphabet, three input bytes
// per four output characters, '='-padded in the final group. No line wrapping.
func BytesToText(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(((len(data) + 2) / 3) * 4)

	for i := 0; i < len(data); i += 3 {
		b0 := int(data[i])
		rest := len(data) - i

		sb.WriteByte(alphabet[b0>>2])

		if rest == 1 {
			sb.WriteByte(alphabet[(b0&0x03)<<4])
			sb.WriteByte(padChar)
			sb.WriteByte(padChar)
			break
		}

		b1 := int(data[i+1])
		sb.WriteByte(alphabet[((b0&0x03)<<4)|(b1>>4)])

		if rest == 2 {
			sb.WriteByte(alphabet[(b1&0x0F)<<2])
			sb.WriteByte(padChar)
			break
		}

		b2 := int(data[i+2])
		sb.WriteByte(alphabet[((b1&0x0F)<<2)|(b2>>6)])
		sb.WriteByte(alphabet[b2&0x3F])
	}

	return sb.String()
}

// TextToBytes decodes text produced by BytesToText. Trailing '=' characters
// are stripped first, then the remaining characters are consumed four at a
// time; a trailing group of two characters yields one byte and a group of
// three yields two. Characters outside the alphabet are not rejected: their
// -1 lookup index flows through the bit reassembly and the caller is expected
// to validate the decoded result.
func TextToBytes(text string) []byte {
	text = strings.TrimRight(text, string(padChar))
	if len(text) < 2 {
		return []byte{}
	}

	out := make([]byte, 0, (len(text)/4)*3+2)

	for i := 0; i < len(text); i += 4 {
		rest := len(text) - i
		if rest < 2 {
			// A lone trailing character carries fewer than 8 bits.
			break
		}

		e0 := alphabetIndex(text[i])
		e1 := alphabetIndex(text[i+1])
		out = append(out, byte((e0<<2)|(e1>>4)))

		if rest == 2 {
			break
		}
		e2 := alphabetIndex(text[i+2])
		out = append(out, byte(((e1&0x0F)<<4)|(e2>>2)))

		if rest == 3 {
			break
		}
		e3 := alphabetIndex(text[i+3])
		out = append(out, byte(((e2&0x03)<<6)|e3))
	}

	return out
}

// StringToBytes maps each character of s to one byte via its code point.
// Code points above 255 are out of contract and truncate to the low byte.
func StringToBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// BytesToString is the inverse of StringToBytes: each byte becomes the
// character with that code point value.
func BytesToString(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// alphabetIndex returns the 0-63 position of c, or -1 when c is not in the
// alphabet. The -1 sentinel is part of the wire contract, see package doc.
func alphabetIndex(c byte) int {
	return strings.IndexByte(alphabet, c)
}
