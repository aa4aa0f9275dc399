package envelope

import "errors"

// Failure semantics named in §4.2: missing blob, tag mismatch, and
// decompression failure are distinguished so callers (and the service
// shell's error taxonomy) can react differently to each.
var (
	ErrNotFound          = errors.New("envelope: object not found")
	ErrIntegrityMismatch = errors.New("envelope: integrity check failed")
	ErrCorruption        = errors.New("envelope: corrupted chunk data")
	ErrSizeMismatch      = errors.New("envelope: total size mismatch")
)
