package authclient

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNetworkUnavailable    = "NETWORK_UNAVAILABLE"
	TextCodeInvalidServerResponse = "INVALID_SERVER_RESPONSE"
	TextCodeSessionExpired        = "SESSION_EXPIRED"
	TextCodeValidationFailed      = "VALIDATION_FAILED"
	TextCodeUnauthenticated       = "UNAUTHENTICATED"
	TextCodeInvalidTransition     = "INVALID_SESSION_STATE_TRANSITION"
)

// ErrNetworkUnavailable is returned when no response was received.
var ErrNetworkUnavailable = goerrors.New("network unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetworkUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrInvalidServerResponse is returned when a response fails shape validation.
var ErrInvalidServerResponse = goerrors.New("invalid server response", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidServerResponse).
	WithCode(goerrors.CodeInternal)

// ErrSessionExpired is returned when the refresh exchange failed or no refresh
// credential was stored. The durable store has been cleared when this is seen.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrValidationFailed is returned when caller supplied input is rejected
// before any network call.
var ErrValidationFailed = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrUnauthenticated is returned by operations that need an active session.
var ErrUnauthenticated = goerrors.New("no authenticated session", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidTransition is returned when a session state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// newError clones base so callers never mutate the shared sentinel.
func newError(base *goerrors.Error, source error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

func hasTextCode(err error, code string) bool {
	var ge *goerrors.Error
	for err != nil {
		if errors.As(err, &ge) {
			if ge.TextCode == code {
				return true
			}
			err = ge.Source
			continue
		}
		return false
	}
	return false
}

// IsNetworkUnavailable reports whether err means no response was received.
func IsNetworkUnavailable(err error) bool {
	return hasTextCode(err, TextCodeNetworkUnavailable)
}

// IsInvalidServerResponse reports whether err is a payload shape failure.
func IsInvalidServerResponse(err error) bool {
	return hasTextCode(err, TextCodeInvalidServerResponse)
}

// IsSessionExpired reports whether err forces the user to log in again.
func IsSessionExpired(err error) bool {
	return hasTextCode(err, TextCodeSessionExpired)
}

// IsValidationFailed reports whether err rejected caller input.
func IsValidationFailed(err error) bool {
	return hasTextCode(err, TextCodeValidationFailed)
}

// IsUnauthenticated reports whether err was caused by a missing session.
func IsUnauthenticated(err error) bool {
	return hasTextCode(err, TextCodeUnauthenticated)
}

const (
	MessageSessionExpired     = "Your session has expired. Please log in again."
	MessageNetworkUnavailable = "Unable to reach the server. Check your connection and try again."
	MessageInvalidResponse    = "The server returned an unexpected response. Please try again later."
	MessageUnauthenticated    = "Please log in to continue."
	MessageGeneric            = "Something went wrong. Please try again."
)

// UserMessage translates err into a short string suitable for display.
// Server supplied messages are returned verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case IsSessionExpired(err):
		return MessageSessionExpired
	case IsNetworkUnavailable(err):
		return MessageNetworkUnavailable
	case IsInvalidServerResponse(err):
		return MessageInvalidResponse
	case IsUnauthenticated(err):
		return MessageUnauthenticated
	}

	var rerr *ResponseError
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}

	if IsValidationFailed(err) {
		var ge *goerrors.Error
		if errors.As(err, &ge) && ge.Source != nil {
			return ge.Source.Error()
		}
		return ErrValidationFailed.Message
	}

	return MessageGeneric
}
