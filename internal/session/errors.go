package session

import "errors"

// Error taxonomy for the per-session loop. Transport errors destroy the
// session; everything else degrades it to idle and the loop continues.
var (
	ErrTransport           = errors.New("transport lost")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMalformedInput      = errors.New("malformed input")
	ErrCapability          = errors.New("capability unavailable")
)
