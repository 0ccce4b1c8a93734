package pathoram

import "errors"

// Sentinel errors returned by Access and its collaborators. Callers should
// use errors.Is against these, since transport and storage layers wrap them
// with additional context via %w.
var (
	// ErrInvalidConfig is returned when a Config fails validation (invalid
	// N, Z, B, or b).
	ErrInvalidConfig = errors.New("pathoram: invalid configuration")

	// ErrInvalidAddr is returned when Access is called with an address
	// outside the configured range.
	ErrInvalidAddr = errors.New("pathoram: invalid address")

	// ErrInvalidDataSize is returned when a write's payload does not match
	// the configured block size.
	ErrInvalidDataSize = errors.New("pathoram: data size doesn't match block size")

	// ErrStashOverflow is fatal: eviction could not place all real blocks
	// within stash_cap. It signals parameter mis-sizing or a broken RNG
	// and must never be masked.
	ErrStashOverflow = errors.New("pathoram: stash overflow")

	// ErrUnknownAddress is returned by a read of an address that has never
	// been written. It is recoverable: a typed absence, not an exception.
	ErrUnknownAddress = errors.New("pathoram: unknown address")

	// ErrEncryptionFailed/ErrDecryptionFailed surface as CryptoError, fatal.
	ErrEncryptionFailed = errors.New("pathoram: block encryption failed")
	ErrDecryptionFailed = errors.New("pathoram: block decryption failed")

	// ErrProtocol covers bucket-count mismatch, unknown opcode, version
	// mismatch. Fatal.
	ErrProtocol = errors.New("pathoram: protocol violation")

	// ErrTransport covers connection drop, short read, framing violation.
	// Recoverable: the caller may retry the whole access after reconnect.
	ErrTransport = errors.New("pathoram: transport error")
)

// TransportError wraps a network-layer failure during read_path/write_path.
// The access's position-map update is rolled back before this is returned.
type TransportError struct {
	Op  string // "read_path" or "write_path"
	Err error
}

func (e *TransportError) Error() string {
	return "pathoram: transport error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// CryptoError wraps a decrypt failure or malformed ciphertext. Fatal:
// indicates server corruption or key mismatch, never recovered from.
type CryptoError struct {
	Addr int64
	Err  error
}

func (e *CryptoError) Error() string {
	return "pathoram: crypto error: " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error { return ErrDecryptionFailed }

// ProtocolError wraps a bucket-count mismatch, unknown opcode, or version
// mismatch observed on the wire. Fatal.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "pathoram: protocol error: " + e.Detail
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// ConfigError wraps an invalid startup configuration (N, Z, B, or b). Fatal.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "pathoram: config error: " + e.Detail
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }
