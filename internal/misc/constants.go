package misc

const (
	// ArgonTime batch-sealing key derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 32

	FilePermissions = 0600 // user read + write
)
