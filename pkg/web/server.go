package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/autohub/pkg/httputil"
	"github.com/platinummonkey/autohub/pkg/kvstore"
	"github.com/platinummonkey/autohub/pkg/login"
	"github.com/platinummonkey/autohub/pkg/middleware"
	"github.com/platinummonkey/autohub/pkg/observability"
	"github.com/platinummonkey/autohub/pkg/popup"
)

const (
	// DeviceCookieName identifies the browser across requests
	DeviceCookieName = "autohub_device"

	// GitHubTokenKey is where a device's GitHub access token is kept
	GitHubTokenKey = "github_token"

	methodPassword = "password"
	methodGitHub   = "github"

	maxFormBytes = 64 * 1024

	rateLimitedMessage = "Too many sign-in attempts. Please try again later."
)

var errAttemptAborted = errors.New("sign-in attempt aborted")

// Options configures the sign-in server
type Options struct {
	SuccessURL  string
	RegisterURL string

	CookieSecure bool
	DeviceTTL    time.Duration
	MaxDevices   int

	// PopupTimeout bounds a GitHub attempt from button press to callback
	PopupTimeout time.Duration
	// HandoffTimeout bounds how long the consent URL waits for the request
	// that asked for it
	HandoffTimeout time.Duration
	// CallbackWait bounds how long the callback route waits for the attempt
	// to finish after delivering the code
	CallbackWait time.Duration

	// Limiter throttles sign-in submissions per client address; nil disables it
	Limiter    middleware.Limiter
	TrustProxy bool
}

func (o *Options) setDefaults() {
	if o.SuccessURL == "" {
		o.SuccessURL = "/"
	}
	if o.RegisterURL == "" {
		o.RegisterURL = "/register"
	}
	if o.DeviceTTL <= 0 {
		o.DeviceTTL = 24 * time.Hour
	}
	if o.MaxDevices <= 0 {
		o.MaxDevices = 10000
	}
	if o.PopupTimeout <= 0 {
		o.PopupTimeout = 10 * time.Minute
	}
	if o.HandoffTimeout <= 0 {
		o.HandoffTimeout = 5 * time.Second
	}
	if o.CallbackWait <= 0 {
		o.CallbackWait = 30 * time.Second
	}
}

// Server serves the sign-in screen over HTTP
type Server struct {
	opts     Options
	auth     login.Authenticator
	broker   *popup.Broker
	store    kvstore.Store
	renderer *Renderer
	logger   *observability.Logger
	metrics  *observability.Metrics
	devices  *deviceRegistry
}

// NewServer creates the sign-in server. store is shared by all devices;
// each device sees its own namespace of it.
func NewServer(opts Options, auth login.Authenticator, broker *popup.Broker, store kvstore.Store,
	renderer *Renderer, logger *observability.Logger, metrics *observability.Metrics) *Server {
	opts.setDefaults()

	s := &Server{
		opts:     opts,
		auth:     auth,
		broker:   broker,
		store:    store,
		renderer: renderer,
		logger:   logger,
		metrics:  metrics,
	}
	s.devices = newDeviceRegistry(opts.MaxDevices, opts.DeviceTTL, s.newDevice, func(*device) {
		if s.metrics != nil {
			s.metrics.ScreensActive.Dec()
		}
	})
	return s
}

// Router returns the HTTP handler for every sign-in route
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleShow).Methods(http.MethodGet)
	r.Handle("/login", s.limit(s.handleCredentials)).Methods(http.MethodPost)
	r.HandleFunc("/login/state", s.handleState).Methods(http.MethodGet)
	r.Handle("/login/github", s.limit(s.handleGitHubStart)).Methods(http.MethodPost)
	r.HandleFunc("/login/github/callback", s.handleGitHubCallback).Methods(http.MethodGet)
	r.HandleFunc("/login/github/cancel", s.handleGitHubCancel).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodGet, http.MethodPost)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", StaticHandler()))

	return httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.SecurityHeadersMiddleware,
		httputil.MaxBytesMiddleware(maxFormBytes),
	)(r)
}

// limit applies the sign-in rate limiter, if any, to a submission route
func (s *Server) limit(h http.HandlerFunc) http.Handler {
	if s.opts.Limiter == nil {
		return h
	}
	rl := middleware.NewRateLimitMiddleware(s.opts.Limiter, s.logger, s.metrics)
	rl.TrustProxy = s.opts.TrustProxy
	rl.OnLimited = s.rejectRateLimited
	return rl.Handler(h)
}

func (s *Server) newDevice(id string) *device {
	d := &device{
		id:     id,
		window: popup.NewWindow(s.opts.HandoffTimeout),
		store:  kvstore.Namespace(s.store, DeviceNamespace(id)),
	}

	logger := s.logger.WithField("device_id", id)
	d.screen = login.NewScreen(s.auth, d.store, d.window, login.Callbacks{
		OnLoginSuccess: func() {
			d.signedIn.Store(true)
			logger.Info("Sign-in succeeded")
		},
		OnSwitchToRegister: func() {
			logger.Debug("Switching to registration")
		},
		OnGithubToken: func(token string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.store.Set(ctx, GitHubTokenKey, token); err != nil {
				logger.WithError(err).Error("Failed to save GitHub token")
			}
		},
	})

	if s.metrics != nil {
		s.metrics.ScreensActive.Inc()
	}
	return d
}

// deviceFor returns the caller's device, issuing a cookie for new browsers
func (s *Server) deviceFor(w http.ResponseWriter, r *http.Request) (*device, *http.Request) {
	id := ""
	if c, err := r.Cookie(DeviceCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     DeviceCookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(s.opts.DeviceTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.opts.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	d, _ := s.devices.get(id)
	return d, r.WithContext(observability.WithDeviceID(r.Context(), id))
}

type pageData struct {
	State login.State
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, state login.State) {
	if err := s.renderer.Render(w, status, "login", pageData{State: state}); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to render login page")
		httputil.WriteInternalError(w, fmt.Errorf("failed to render page"))
	}
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	d, r := s.deviceFor(w, r)
	if d.takeSignedIn() {
		// a GitHub attempt finished after its callback stopped waiting
		s.redirectSuccess(w, r)
		return
	}
	s.renderLogin(w, r, http.StatusOK, d.screen.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	d, _ := s.deviceFor(w, r)
	_ = httputil.WriteJSON(w, http.StatusOK, d.screen.Snapshot())
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	d, r := s.deviceFor(w, r)
	logger := observability.FromContext(r.Context())

	var req credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	} else {
		if !httputil.ParseFormOrError(w, r) {
			return
		}
		req.Email = httputil.FormString(r, "email")
		req.Password = r.PostFormValue("password")
	}

	if !httputil.ValidateAll(w,
		httputil.NonEmpty(req.Email, "email"),
		httputil.NonEmpty(req.Password, "password"),
	) {
		return
	}

	s.abandonConsent(r.Context(), d)

	start := time.Now()
	if err := d.screen.SubmitCredentials(r.Context(), req.Email, req.Password); err != nil {
		s.observeAttempt(methodPassword, observability.OutcomeRejected, start)
		s.rejectBusy(w, r, d)
		return
	}

	if d.takeSignedIn() {
		s.observeAttempt(methodPassword, observability.OutcomeSuccess, start)
		s.redirectSuccess(w, r)
		return
	}

	state := d.screen.Snapshot()
	s.observeAttempt(methodPassword, observability.OutcomeFailure, start)
	logger.WithField("error", state.Error).Info("Password sign-in failed")
	s.renderFailure(w, r, state)
}

func (s *Server) handleGitHubStart(w http.ResponseWriter, r *http.Request) {
	d, r := s.deviceFor(w, r)
	logger := observability.FromContext(r.Context())

	d.handoff.Lock()
	defer d.handoff.Unlock()
	s.abandonConsent(r.Context(), d)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PopupTimeout)
	ctx = observability.WithLogger(observability.WithDeviceID(ctx, d.id), s.logger)
	attempt := newGitHubAttempt(cancel)

	finished := make(chan error, 1)
	go func() {
		defer cancel()
		defer d.finishAttempt(attempt)
		defer observability.RecoverPanic(logger, "github sign-in")

		start := time.Now()
		err := errAttemptAborted
		defer func() { finished <- err }()

		err = d.screen.SubmitFederatedLogin(ctx)
		switch {
		case errors.Is(err, login.ErrAttemptInFlight):
			s.observeAttempt(methodGitHub, observability.OutcomeRejected, start)
		case d.screen.Snapshot().Error == "":
			s.observeAttempt(methodGitHub, observability.OutcomeSuccess, start)
		default:
			s.observeAttempt(methodGitHub, observability.OutcomeFailure, start)
		}
	}()

	select {
	case consentURL := <-d.window.URLs():
		d.trackAttempt(attempt)
		http.Redirect(w, r, consentURL, http.StatusSeeOther)
	case err := <-finished:
		// the attempt ended before asking for consent
		if errors.Is(err, login.ErrAttemptInFlight) {
			s.rejectBusy(w, r, d)
			return
		}
		state := d.screen.Snapshot()
		logger.WithField("error", state.Error).Info("GitHub sign-in failed before consent")
		s.renderFailure(w, r, state)
	case <-r.Context().Done():
		logger.Debug("Client left before consent page was ready")
	}
}

func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	state := httputil.ParseQueryString(r, "state", "")
	err := s.broker.Complete(state,
		httputil.ParseQueryString(r, "code", ""),
		httputil.ParseQueryString(r, "error", ""),
		httputil.ParseQueryString(r, "error_description", ""),
	)
	if errors.Is(err, popup.ErrUnknownState) {
		logger.Warn("GitHub callback for unknown popup state")
		d, r := s.deviceFor(w, r)
		snapshot := d.screen.Snapshot()
		if !snapshot.Loading {
			snapshot.Error = "This sign-in link has expired. Please try again."
		}
		s.renderLogin(w, r, http.StatusBadRequest, snapshot)
		return
	}

	c, cookieErr := r.Cookie(DeviceCookieName)
	if cookieErr != nil {
		// consent finished in another browser; the attempt resumes there
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	d, ok := s.devices.lookup(c.Value)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CallbackWait)
	defer cancel()
	if err := d.screen.Wait(ctx); err != nil {
		// still running; the page refreshes until it settles
		s.renderLogin(w, r, http.StatusAccepted, d.screen.Snapshot())
		return
	}

	if d.takeSignedIn() {
		s.redirectSuccess(w, r)
		return
	}
	s.renderFailure(w, r, d.screen.Snapshot())
}

// handleGitHubCancel abandons a GitHub attempt whose consent page the user
// left without answering. The attempt fails as a closed popup.
func (s *Server) handleGitHubCancel(w http.ResponseWriter, r *http.Request) {
	d, r := s.deviceFor(w, r)
	s.abandonConsent(r.Context(), d)

	if httputil.WantsJSON(r) {
		_ = httputil.WriteJSON(w, http.StatusOK, d.screen.Snapshot())
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	d, r := s.deviceFor(w, r)
	s.abandonConsent(r.Context(), d)
	if d.screen.Snapshot().Loading {
		s.rejectBusy(w, r, d)
		return
	}
	d.screen.SwitchToRegister()
	http.Redirect(w, r, s.opts.RegisterURL, http.StatusSeeOther)
}

// abandonConsent fails a GitHub attempt still parked on its consent page
// and waits for it to wind down, so the next submission is not refused
func (s *Server) abandonConsent(ctx context.Context, d *device) {
	attempt := d.abortAttempt()
	if attempt == nil {
		return
	}
	observability.FromContext(ctx).Info("Abandoned GitHub sign-in waiting for consent")

	timer := time.NewTimer(s.opts.CallbackWait)
	defer timer.Stop()
	select {
	case <-attempt.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Server) redirectSuccess(w http.ResponseWriter, r *http.Request) {
	if httputil.WantsJSON(r) {
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"redirect": s.opts.SuccessURL})
		return
	}
	http.Redirect(w, r, s.opts.SuccessURL, http.StatusSeeOther)
}

func (s *Server) renderFailure(w http.ResponseWriter, r *http.Request, state login.State) {
	if httputil.WantsJSON(r) {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, state.Error)
		return
	}
	s.renderLogin(w, r, http.StatusUnauthorized, state)
}

func (s *Server) rejectBusy(w http.ResponseWriter, r *http.Request, d *device) {
	if httputil.WantsJSON(r) {
		httputil.WriteConflict(w, login.ErrAttemptInFlight.Error())
		return
	}
	s.renderLogin(w, r, http.StatusConflict, d.screen.Snapshot())
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request, _ time.Duration) {
	if httputil.WantsJSON(r) {
		httputil.WriteErrorCode(w, http.StatusTooManyRequests, "rate_limited", rateLimitedMessage)
		return
	}
	d, r := s.deviceFor(w, r)
	state := d.screen.Snapshot()
	state.Error = rateLimitedMessage
	s.renderLogin(w, r, http.StatusTooManyRequests, state)
}

func (s *Server) observeAttempt(method, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLoginAttempt(method, outcome, time.Since(start))
	}
}
