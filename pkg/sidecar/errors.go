package sidecar

import "errors"

// These are internal to open/parse: TryOpen collapses every one of them to
// "no sidecar available" rather than surfacing them, matching the spec's
// contract that a stale or corrupt sidecar is silently ignored.
var (
	errTooSmall           = errors.New("sidecar: file smaller than header")
	errBadMagic           = errors.New("sidecar: bad magic")
	errUnsupportedVersion = errors.New("sidecar: unsupported version")
	errTruncated          = errors.New("sidecar: truncated region")
	errSchemaMismatch     = errors.New("sidecar: schema does not match layer")
	errStaleHash          = errors.New("sidecar: layer hash does not match")
)
