package searchindex

import "errors"

// Error kinds surfaced by the Search Index Core, per §7.
var (
	ErrRateLimitExceeded = errors.New("searchindex: rate limit exceeded")
	ErrOPRFKeyMissing    = errors.New("searchindex: oprf key missing")
	ErrSearchFailed      = errors.New("searchindex: search failed")
)
