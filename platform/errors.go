package platform

import (
	"errors"
	"fmt"
)

// Reason classifies why a probe failed.
type Reason string

const (
	// ReasonLookupFailed means the platform could not resolve or authorize the channel.
	ReasonLookupFailed Reason = "lookup_failed"
	// ReasonTransport covers network failures, timeouts, 5xx and open circuits.
	ReasonTransport Reason = "transport_error"
	// ReasonMalformed means the platform answered with a body we could not decode.
	ReasonMalformed Reason = "malformed_response"
)

// ProbeError is the only error type returned by Platform.Probe.
type ProbeError struct {
	Platform string
	Channel  string
	Reason   Reason
	Err      error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s probe %s: %s", e.Platform, e.Channel, e.Reason)
	}
	return fmt.Sprintf("%s probe %s: %s: %v", e.Platform, e.Channel, e.Reason, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ReasonOf returns the probe failure reason carried by err, or "" when err is
// not a *ProbeError.
func ReasonOf(err error) Reason {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// IsReason reports whether err is a *ProbeError with the given reason.
func IsReason(err error, r Reason) bool { return err != nil && ReasonOf(err) == r }

func newProbeError(platform, channel string, r Reason, err error) *ProbeError {
	return &ProbeError{Platform: platform, Channel: channel, Reason: r, Err: err}
}
