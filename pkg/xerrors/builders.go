// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package xerrors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// BadRequest builds a BAD_REQUEST error for a missing or malformed request field.
func BadRequest(format string, args ...any) *Error {
	return New(CodeBadRequest, fmt.Sprintf(format, args...))
}

// UnknownCommand builds the error the dispatcher returns for an unregistered
// command name (spec section 4.4 item 2).
func UnknownCommand(cmd string) *Error {
	return New(CodeUnknownCommand, fmt.Sprintf("Command '%s' not implemented.", cmd))
}

// InvalidJSON wraps a JSON decode/type/lookup failure (spec section 4.4 item 6).
func InvalidJSON(cause error) *Error {
	return Wrap(CodeInvalidJSON, fmt.Sprintf("invalid JSON: %s", cause), cause)
}

// InvalidHex builds an error for a malformed hex-encoded payload field.
func InvalidHex(field string, cause error) *Error {
	return Wrap(CodeInvalidHex, fmt.Sprintf("invalid hex in field %q", field), cause)
}

// InvalidParameter builds an error for a well-typed but out-of-range or
// otherwise unusable parameter value.
func InvalidParameter(format string, args ...any) *Error {
	return New(CodeInvalidParam, fmt.Sprintf(format, args...))
}

// DongleRequired builds the error a job returns when it needs the crypto
// dongle capability and none is attached (spec section 4.3).
func DongleRequired() *Error {
	return New(CodeDongleRequired, "DongleRequired")
}

// CryptoFailure wraps a failure reported by the dongle/crypto capability itself.
func CryptoFailure(cause error) *Error {
	return Wrap(CodeCryptoFailure, "crypto operation failed", cause)
}

// Internal wraps an unexpected internal failure, the catch-all at the
// worker/session boundary (spec section 4.5/9's "catch -> log -> store" envelope).
func Internal(cause error) *Error {
	if cause == nil {
		return New(CodeInternal, "internal error")
	}
	return Wrap(CodeInternal, cause.Error(), cause)
}

// ReadTimeout builds the transport-level error for an idle read deadline
// (spec section 4.9, default 20s, retried up to maxRetries).
func ReadTimeout() *Error {
	return New(CodeReadTimeout, "read timeout")
}

// ProtocolClose builds the transport-level error used to close a session
// with a named close reason ("bad_payload", "internal_error", "going_away").
func ProtocolClose(reason string) *Error {
	e := New(CodeProtocolClose, "protocol close")
	e.Details = reason
	return e
}

// FromContext classifies context cancellation/deadline errors into the
// matching xerrors code, mirroring how every blocking call in this hub
// (queue waits, socket reads, job timeouts) surfaces ctx errors.
func FromContext(err error) *Error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ReadTimeout()
	}
	if stderrors.Is(err, context.Canceled) {
		return ProtocolClose("going_away")
	}
	return Internal(err)
}
