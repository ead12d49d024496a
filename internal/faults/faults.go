// Package faults defines the typed error taxonomy shared by the capture
// pipeline. Every failure that reaches the capture sequencer carries a Kind
// so the screen layer can decide what to show without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the component that produced it.
type Kind string

const (
	KindSensorUnavailable     Kind = "sensor_unavailable"
	KindCaptureDevice         Kind = "capture_device"
	KindPostProcess           Kind = "post_process"
	KindSubmitTransport       Kind = "submit_transport"
	KindSubmitDecode          Kind = "submit_decode"
	KindBrightnessUnsupported Kind = "brightness_unsupported"
	KindUnknown               Kind = "unknown"
)

// Error is a classified failure. Op names the operation that failed
// ("camera.capture", "match.submit", ...).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. An err that is already classified keeps its
// original kind. Wrap(nil) returns nil.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// IsKind reports whether the first classified error in err's chain has kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindSensorUnavailable:
		return "Light sensor unavailable. Flash will not adapt to lighting."
	case KindCaptureDevice:
		return "Could not take the picture. Please try again."
	case KindPostProcess:
		return "Could not process the picture. Please retake it."
	case KindSubmitTransport:
		return "Could not reach the server. Check your connection and retry."
	case KindSubmitDecode:
		return "The server sent an unexpected reply. Please retry."
	case KindBrightnessUnsupported:
		return "Screen flash is not supported on this device."
	default:
		return "Something went wrong. Please try again."
	}
}
