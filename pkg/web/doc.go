// Package web serves the AutoHub AI sign-in screen.
//
// Each browser is identified by a device cookie and gets its own
// login.Screen, popup window and namespace of the key-value store. Password
// sign-in runs inside the POST request. GitHub sign-in runs in the
// background: the POST redirects the browser to the consent page handed
// over by the device's popup window, and the callback route completes the
// flow and waits for the attempt to settle before redirecting.
//
// Routes:
//
//	GET  /login                  sign-in page
//	POST /login                  email and password (form or JSON)
//	GET  /login/state            screen state as JSON
//	POST /login/github           start GitHub sign-in
//	GET  /login/github/callback  GitHub OAuth2 redirect target
//	GET  /register, POST /register  switch to the registration screen
//	GET  /static/...             stylesheet and images
package web
