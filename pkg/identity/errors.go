package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/autohub/pkg/login"
)

// Error codes reported by the client
const (
	CodeUserNotFound           = "auth/user-not-found"
	CodeWrongPassword          = "auth/wrong-password"
	CodeInvalidCredential      = "auth/invalid-credential"
	CodeUserDisabled           = "auth/user-disabled"
	CodeTooManyRequests        = "auth/too-many-requests"
	CodeInvalidEmail           = "auth/invalid-email"
	CodeMissingPassword        = "auth/missing-password"
	CodeCredentialAlreadyInUse = "auth/credential-already-in-use"
	CodeEmailAlreadyInUse      = "auth/email-already-in-use"
	CodeOperationNotAllowed    = "auth/operation-not-allowed"
	CodeInvalidAPIKey          = "auth/invalid-api-key"
	CodeNetworkRequestFailed   = "auth/network-request-failed"
	CodePopupBlocked           = "auth/popup-blocked"
	CodePopupClosedByUser      = "auth/popup-closed-by-user"
	CodeInvalidUserToken       = "auth/invalid-user-token"
	CodeOperationNotSupported  = "auth/operation-not-supported-in-this-environment"
	CodeInternalError          = "auth/internal-error"
)

// restErrorCodes maps Identity Toolkit error messages to client codes
var restErrorCodes = map[string]string{
	"EMAIL_NOT_FOUND":                  CodeUserNotFound,
	"INVALID_PASSWORD":                 CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":        CodeInvalidCredential,
	"USER_DISABLED":                    CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER":      CodeTooManyRequests,
	"INVALID_EMAIL":                    CodeInvalidEmail,
	"MISSING_PASSWORD":                 CodeMissingPassword,
	"INVALID_IDP_RESPONSE":             CodeInvalidCredential,
	"FEDERATED_USER_ID_ALREADY_LINKED": CodeCredentialAlreadyInUse,
	"EMAIL_EXISTS":                     CodeEmailAlreadyInUse,
	"OPERATION_NOT_ALLOWED":            CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":          CodeOperationNotAllowed,
	"INVALID_ID_TOKEN":                 CodeInvalidUserToken,
}

// newAuthError builds the error reported for code
func newAuthError(code string, cause error) *login.AuthError {
	return &login.AuthError{
		Code:    code,
		Message: fmt.Sprintf("Firebase: Error (%s).", code),
		Err:     cause,
	}
}

// codeForMessage maps an Identity Toolkit error message such as
// "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled" to a client code
func codeForMessage(message string) string {
	name := message
	if i := strings.Index(name, " : "); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)

	if code, ok := restErrorCodes[name]; ok {
		return code
	}
	if strings.HasPrefix(name, "API key not valid") || name == "API_KEY_INVALID" {
		return CodeInvalidAPIKey
	}
	return CodeInternalError
}

type restErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseErrorResponse converts a non-200 Identity Toolkit response
func parseErrorResponse(status int, body []byte) *login.AuthError {
	var parsed restErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return newAuthError(CodeInternalError, fmt.Errorf("identity toolkit returned status %d", status))
	}
	return newAuthError(codeForMessage(parsed.Error.Message),
		fmt.Errorf("identity toolkit returned status %d: %s", status, parsed.Error.Message))
}
