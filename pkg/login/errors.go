package login

import "errors"

// ErrAttemptInFlight is returned when a submit arrives while another attempt
// is still running
var ErrAttemptInFlight = errors.New("a sign-in attempt is already in progress")

// CodeAccountExistsWithDifferentCredential is reported when the email behind
// a federated account is already registered with another sign-in method
const CodeAccountExistsWithDifferentCredential = "auth/account-exists-with-different-credential"

// AccountConflictMessage replaces the provider message for
// CodeAccountExistsWithDifferentCredential
const AccountConflictMessage = "An account already exists with this email using a different sign-in method. Please use the original sign-in method."

// AuthError is a failure reported by the identity provider
type AuthError struct {
	Code    string // e.g. auth/wrong-password
	Message string // human-readable, shown verbatim to the user
	Err     error  // underlying cause, if any
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the provider error code carried by err, or "" if err is
// not an AuthError
func ErrorCode(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// failureMessage is the text shown for a failed attempt
func failureMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return err.Error()
}

// federatedFailureMessage is failureMessage with the credential-conflict override
func federatedFailureMessage(err error) string {
	if ErrorCode(err) == CodeAccountExistsWithDifferentCredential {
		return AccountConflictMessage
	}
	return failureMessage(err)
}
