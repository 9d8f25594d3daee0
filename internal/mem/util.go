package mem

// ProtectionLevel indicates how well the process can protect key material in memory
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // No memory protection available
	ProtectionPartial                        // Some protection measures applied
	ProtectionFull                           // Full memory protection (locked memory)
)

// Lock attempts to prevent sensitive data from being swapped to disk
// Returns the protection level achieved and any error encountered
func Lock() (ProtectionLevel, error) {
	// Platform-specific implementation
	return lockMemoryPlatform()
}

// Unlock releases memory locks if they were applied
func Unlock() error {
	// Platform-specific implementation
	return unlockMemoryPlatform()
}

// Describe returns a human-readable description of a protection level.
func Describe(level ProtectionLevel) string {
	switch level {
	case ProtectionFull:
		return "full (memory locked)"
	case ProtectionPartial:
		return "partial (lock unavailable, enclaves only)"
	default:
		return "none"
	}
}
