// Package keystream implements the symmetric obfuscation transform applied to
// tag identifiers before they are encoded into a QR payload. It is a
// repeating-key XOR, which is deliberately weak: the goal is to keep generic
// QR readers from displaying tag identifiers, not to resist an attacker who
// holds the client binary. Determinism is required — re-scanning the same
// printed label must always yield the same bytes — so there is no nonce and
// no randomisation.
package keystream

// Apply XORs data with key repeated cyclically and returns the result as a
// new slice. The operation is total: it cannot fail, and garbage input maps
// to garbage output. Apply is its own inverse.
func Apply(data, key []byte) []byte {
	out := make([]byte, len(data))
	if len(key) == 0 {
		copy(out, data)
		return out
	}
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
