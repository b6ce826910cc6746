package onnx

import "fmt"

// FormatError reports malformed input bytes or a structural property the
// target runtime cannot accept (e.g. symbolic spatial dimensions). Fatal,
// never retried.
type FormatError struct {
	Detail string
	Cause  error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed model: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("malformed model: %s", e.Detail)
}

// Unwrap returns the underlying parse error, if any.
func (e *FormatError) Unwrap() error { return e.Cause }

// UnsupportedVersionError reports an opset outside the supported window.
// Newer-than-supported models are rejected rather than best-effort parsed.
type UnsupportedVersionError struct {
	Version int64
	Min     int64
	Max     int64
}

// Error implements the error interface.
func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported opset version %d (supported: %d-%d)", e.Version, e.Min, e.Max)
}
