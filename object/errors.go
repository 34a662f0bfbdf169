package object

import "errors"

// Errors returned by Decode. These map directly onto the Corrupt/Auth
// error kinds described in spec.md §7; callers in higher-level packages
// wrap them into the engine's typed *rekord.Error.
var (
	// ErrWrongKey is returned when the sealed symmetric key cannot be
	// unsealed with the repository's secret key.
	ErrWrongKey = errors.New("object: wrong key (failed to unseal)")

	// ErrUnsupportedVersion is returned when an envelope declares a
	// version newer than this codec understands.
	ErrUnsupportedVersion = errors.New("object: unsupported envelope version")

	// ErrUnknownType is returned when an envelope declares a type code
	// this codec does not recognize.
	ErrUnknownType = errors.New("object: unknown object type")

	// ErrTruncated is returned when an envelope ends before a FINAL
	// segment tag is observed, or is shorter than the fixed header.
	ErrTruncated = errors.New("object: truncated envelope")

	// ErrCorrupt is returned when envelope bytes fail authentication.
	ErrCorrupt = errors.New("object: corrupt envelope (authentication failed)")
)
