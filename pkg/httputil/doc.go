// Package httputil holds the HTTP helpers shared by the sign-in server:
// JSON responses, form and JSON request parsing, and middleware.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, state)
//	httputil.WriteBadRequest(w, "email is required")
//	httputil.WriteErrorCode(w, http.StatusUnauthorized, "auth/wrong-password", msg)
//
// # Requests
//
//	if !httputil.ParseFormOrError(w, r) {
//		return // Error response already written
//	}
//	if !httputil.ValidateAll(w,
//		httputil.NonEmpty(email, "email"),
//		httputil.NonEmpty(password, "password"),
//	) {
//		return
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(64*1024),
//	)
package httputil
