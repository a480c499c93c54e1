// Package wire defines the error kinds spec.md §7 requires to surface at
// the HTTP boundary, so the control plane can map them to status codes
// without inspecting error strings.
package wire

import "errors"

// Kind classifies an error by the HTTP status it should surface as.
type Kind int

const (
	// KindInternal is any error that isn't one of the classified kinds
	// below; it surfaces as 500.
	KindInternal Kind = iota
	// KindMalformedSDP covers SDP parse/validation failures: bad line
	// order, missing BUNDLE/rtcp-mux, unsupported codec, missing SSRC
	// where required, missing FMTP, or a viewer/streamer codec mismatch.
	KindMalformedSDP
	// KindAuth is a missing or invalid WHIP bearer token.
	KindAuth
	// KindUnknownRoom is a WHEP request naming a room with no streamer.
	KindUnknownRoom
	// KindNotFound covers other "no such resource" cases, e.g. no
	// thumbnail frame captured yet.
	KindNotFound
)

// Error is a Kind-tagged error for HTTP handlers to classify with
// errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a classified Error that also carries an underlying
// cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
