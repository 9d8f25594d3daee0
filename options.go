package carcode

import (
	"encoding/hex"
	"fmt"
	"os"
)

// DefaultObfuscationKey is the fixed key compiled into every producer and
// consumer of payloads. It is shared by design: the same bytes sit in the
// mobile scanning client and in the label issuing service, and every payload
// printed on a physical tag was built with it. Changing it invalidates all
// labels already in circulation for the current format version, so it only
// ever changes together with FormatVersion.
var DefaultObfuscationKey = []byte("c4rC0de-t4g-0bfusc4t10n-k3y")

// Options represents configuration parameters for codec initialization.
//
// The codec's security posture is intentionally modest (see the package
// documentation), but the key is still kept out of serialized configuration:
// the ObfuscationKey field carries a `json:"-"` tag so it never leaks into
// config files, logs, or audit metadata. Deployments that must override the
// compiled-in key do so either programmatically or through an environment
// variable named by EnvKeyVar.
type Options struct {
	// ObfuscationKey is the repeating XOR key applied to tag identifiers.
	// When empty, EnvKeyVar is consulted; when that is also empty,
	// DefaultObfuscationKey is used. The key must be identical on the
	// issuing and scanning sides or round-trips fail.
	//
	// Serialization Security:
	// - json:"-" tag prevents inclusion in JSON serialization
	// - Never persisted in configuration files or included in audit events
	ObfuscationKey []byte `json:"-"` // Don't serialize the key for security

	// EnvKeyVar names an environment variable containing the obfuscation
	// key as a hex string. Environment delivery avoids exposing the key in
	// command-line arguments and process lists, and suits container
	// orchestration where secrets arrive through the environment.
	EnvKeyVar string `json:"env_key_var,omitempty"`

	// EnableMemoryLock controls memory locking to prevent the key paging to
	// disk. This is best-effort: on platforms or under privileges where
	// mlockall is unavailable the codec still runs, with the key protected
	// only by its memory enclave.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// DefaultOptions returns the configuration used by the shipped clients: the
// compiled-in key, no environment override, and no memory locking.
func DefaultOptions() Options {
	return Options{
		ObfuscationKey: DefaultObfuscationKey,
	}
}

// Validate checks that the options can yield a usable key.
func (o Options) Validate() error {
	if len(o.ObfuscationKey) == 0 && o.EnvKeyVar == "" {
		return fmt.Errorf("either ObfuscationKey or EnvKeyVar must be provided")
	}

	return nil
}

// resolveKey returns the key bytes the codec should use, consulting the
// environment when configured. The returned slice is a private copy.
func (o Options) resolveKey() ([]byte, error) {
	if len(o.ObfuscationKey) > 0 {
		key := make([]byte, len(o.ObfuscationKey))
		copy(key, o.ObfuscationKey)
		return key, nil
	}

	if o.EnvKeyVar != "" {
		value := os.Getenv(o.EnvKeyVar)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is not set or empty", o.EnvKeyVar)
		}
		key, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("environment variable %s does not contain a hex-encoded key: %w", o.EnvKeyVar, err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("environment variable %s decodes to an empty key", o.EnvKeyVar)
		}
		return key, nil
	}

	return nil, fmt.Errorf("no obfuscation key configured")
}
