// Package sdk is the staffgrid client session core: it signs a user in
// (with an optional one-time passcode step), keeps the authenticated
// session and its role-scoped permission set current, switches roles, and
// signs out.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/terraconstructs/staffgrid/internal/logging"
	"github.com/terraconstructs/staffgrid/internal/telemetry"
)

// State is the orchestrator's protocol state.
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAwaitingOTP    State = "awaiting_otp"
	StateAuthenticated  State = "authenticated"
	StateRoleSwitching  State = "role_switching"
	StateLoggingOut     State = "logging_out"
	StateFailed         State = "failed"
)

// Backend is the set of remote calls the orchestrator makes.
// *APIClient implements it.
type Backend interface {
	PermissionFetcher
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*AuthTokens, error)
	SwitchRole(ctx context.Context, bearer string, roleID int64) error
	Logout(ctx context.Context, bearer, refresh string) error
}

// PendingOTPChallenge is the in-memory state between a login that demanded
// a passcode and its verification. It is never persisted.
type PendingOTPChallenge struct {
	Email            string
	DeviceIdentifier string
	IssuedAt         time.Time
	Attempts         int
}

// LoginResult is the outcome of Login or VerifyOTP.
type LoginResult struct {
	// OTPRequired is set when the backend demands a passcode. Challenge
	// describes it and the session is not authenticated yet.
	OTPRequired bool
	Challenge   *PendingOTPChallenge
	// Session is the published snapshot after the call.
	Session Session
	// PermissionsErr is set when sign-in succeeded but the permission set
	// could not be loaded. The session is authenticated with empty
	// permissions and RefreshPermissions can retry.
	PermissionsErr error
}

// Orchestrator runs the login, OTP, role-switch, and logout protocols
// against a Backend and publishes the results through a SessionStore.
type Orchestrator struct {
	api      Backend
	creds    CredentialStore
	session  *SessionStore
	cache    *ResponseCache
	resolver *PermissionResolver

	mu      sync.Mutex
	state   State
	pending *PendingOTPChallenge
	// switching is the role switch holding the live intent, if any.
	// Permission loads wait for it instead of committing under its intent.
	switching *switchRun

	maxOTPAttempts int
	logger         *slog.Logger
	metrics        *telemetry.AuthMetrics
	now            func() time.Time
}

type switchRun struct {
	intent Intent
	done   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records protocol outcomes on m.
func WithMetrics(m *telemetry.AuthMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithResponseCache replaces the default permission response cache.
func WithResponseCache(cache *ResponseCache) Option {
	return func(o *Orchestrator) {
		if cache != nil {
			o.cache = cache
		}
	}
}

// WithMaxOTPAttempts drops the pending challenge after n rejected codes.
// Zero, the default, leaves lockout to the backend.
func WithMaxOTPAttempts(n int) Option {
	return func(o *Orchestrator) {
		o.maxOTPAttempts = n
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator wires a session store, response cache, and permission
// resolver around api and creds.
func NewOrchestrator(api Backend, creds CredentialStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:    api,
		creds:  creds,
		state:  StateAnonymous,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = NewResponseCache(DefaultCacheSize, DefaultCacheTTL)
	}
	o.session = NewSessionStore(creds, WithSessionLogger(o.logger))
	o.resolver = NewPermissionResolver(api, o.cache, o.logger, o.metrics)
	return o
}

// Session returns the underlying store.
func (o *Orchestrator) Session() *SessionStore {
	return o.session
}

// Snapshot returns the latest published session.
func (o *Orchestrator) Snapshot() Session {
	return o.session.Snapshot()
}

// Subscribe registers an observer of session snapshots.
func (o *Orchestrator) Subscribe(fn func(Session)) func() {
	return o.session.Subscribe(fn)
}

// State returns the current protocol state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// PendingChallenge returns a copy of the pending OTP challenge, or nil.
func (o *Orchestrator) PendingChallenge() *PendingOTPChallenge {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil
	}
	c := *o.pending
	return &c
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// settle derives the resting state from the published session.
func (o *Orchestrator) settle() {
	snap := o.session.Snapshot()
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.pending != nil:
		o.state = StateAwaitingOTP
	case snap.Phase == PhaseAuthenticated:
		o.state = StateAuthenticated
	case snap.Phase == PhaseFailed:
		o.state = StateFailed
	default:
		o.state = StateAnonymous
	}
}

func (o *Orchestrator) record(ctx context.Context, protocol string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrStaleIntent):
		outcome = "stale"
		o.metrics.RecordStaleCommit(ctx, protocol)
	case err != nil:
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	o.metrics.RecordProtocol(ctx, protocol, outcome, time.Since(start))
}

// LoadUser restores a session from the credential store at startup. It makes
// no network call: when both tokens are present and the access token decodes
// and has not expired, the principal is built from its claims with no
// permissions loaded. Any other case leaves the session as it is.
func (o *Orchestrator) LoadUser(ctx context.Context) Session {
	snap := o.session.Snapshot()
	if snap.Phase == PhaseAuthenticated || snap.Phase == PhaseLoading {
		return snap
	}

	creds, err := o.creds.LoadCredentials()
	if err != nil {
		o.logger.Warn("could not read stored credentials", "error", err)
		return snap
	}
	if !creds.Complete() {
		return snap
	}
	info, err := DecodeToken(creds.AccessToken)
	if err != nil {
		o.logger.Debug("stored access token is malformed", "error", err)
		return snap
	}
	if info.Expired(o.now()) {
		o.logger.Debug("stored access token has expired", "expired_at", info.ExpiresAt)
		return snap
	}

	principal := PrincipalFromClaims(info.Claims)
	if err := o.session.Commit(o.session.Current(), creds.AccessToken, creds.RefreshToken, principal); err != nil {
		o.logger.Debug("restored session was superseded", "error", err)
		return o.session.Snapshot()
	}
	o.settle()
	o.logger.Info("restored session from stored credentials", "principal", principal.ID)
	return o.session.Snapshot()
}

// Login submits credentials. When the backend demands a passcode the result
// carries the challenge and nothing is written to the credential store. An
// empty deviceID uses the credential store's device identifier.
func (o *Orchestrator) Login(ctx context.Context, email, password, deviceID string) (res *LoginResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.Login")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		o.record(ctx, "login", start, err)
	}()

	if deviceID == "" {
		deviceID, err = o.creds.DeviceID()
		if err != nil {
			return nil, newError(KindTransport, "login", err)
		}
	}
	span.SetAttributes(attribute.String(telemetry.AttrDeviceID, deviceID))

	o.mu.Lock()
	o.pending = nil
	o.state = StateAuthenticating
	o.mu.Unlock()

	intent := o.session.BeginLoading()
	resp, err := o.api.Login(ctx, LoginRequest{Email: email, Password: password, DeviceIdentifier: deviceID})
	if err != nil {
		return nil, o.fail(intent, "login", err)
	}

	if resp.OTPRequired {
		telemetry.AddEvent(span, "otp.required")
		challenge := &PendingOTPChallenge{
			Email:            email,
			DeviceIdentifier: deviceID,
			IssuedAt:         o.now(),
		}
		o.mu.Lock()
		o.pending = challenge
		o.state = StateAwaitingOTP
		o.mu.Unlock()
		o.logger.Info("login requires a one-time passcode", "email", email)
		c := *challenge
		return &LoginResult{OTPRequired: true, Challenge: &c, Session: o.session.Snapshot()}, nil
	}

	return o.attach(ctx, intent, "login", resp.Tokens)
}

// VerifyOTP completes a login that demanded a passcode. Any failure keeps
// the challenge so the user can retry, unless WithMaxOTPAttempts is set and
// exhausted.
func (o *Orchestrator) VerifyOTP(ctx context.Context, code string) (res *LoginResult, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.VerifyOTP")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		o.record(ctx, "verify_otp", start, err)
	}()

	o.mu.Lock()
	challenge := o.pending
	if challenge == nil {
		o.mu.Unlock()
		return nil, newError(KindOTPRejected, "verify_otp", ErrNoPendingChallenge)
	}
	o.state = StateAuthenticating
	o.mu.Unlock()

	intent := o.session.BeginLoading()
	tokens, err := o.api.VerifyOTP(ctx, VerifyOTPRequest{
		Email:            challenge.Email,
		Code:             code,
		DeviceIdentifier: challenge.DeviceIdentifier,
	})
	if err != nil {
		o.mu.Lock()
		if o.pending == challenge {
			challenge.Attempts++
			if o.maxOTPAttempts > 0 && IsKind(err, KindOTPRejected) && challenge.Attempts >= o.maxOTPAttempts {
				o.logger.Warn("OTP attempts exhausted, dropping challenge", "email", challenge.Email, "attempts", challenge.Attempts)
				o.pending = nil
			}
		}
		o.mu.Unlock()
		return nil, o.fail(intent, "verify_otp", err)
	}

	o.mu.Lock()
	if o.pending == challenge {
		o.pending = nil
	}
	o.mu.Unlock()
	return o.attach(ctx, intent, "verify_otp", tokens)
}

// AbandonOTP drops the pending challenge and returns to Anonymous, or to
// Authenticated when a session was live before the login. Stored
// credentials are left alone.
func (o *Orchestrator) AbandonOTP() {
	o.mu.Lock()
	had := o.pending != nil
	o.pending = nil
	o.mu.Unlock()
	if !had {
		return
	}
	if o.session.Snapshot().Phase == PhaseLoading {
		if err := o.session.Abandon(o.session.Current()); err != nil {
			o.logger.Debug("abandon superseded", "error", err)
		}
	}
	o.settle()
	o.logger.Info("OTP challenge abandoned")
}

// attach persists tokens, loads the permission set, and commits the session.
func (o *Orchestrator) attach(ctx context.Context, intent Intent, op string, tokens *AuthTokens) (*LoginResult, error) {
	info, err := DecodeToken(tokens.Access)
	if err != nil {
		return nil, o.fail(intent, op, err)
	}

	bearer, err := o.session.Persist(intent, tokens.Access, tokens.Refresh)
	if err != nil {
		o.settle()
		if errors.Is(err, ErrStaleIntent) {
			return nil, newError(KindTransport, op, err)
		}
		return nil, o.fail(intent, op, newError(KindTransport, op, err))
	}

	var (
		principal   *Principal
		recoverable *Error
	)
	resolved, permErr := o.resolver.Fetch(ctx, bearer, FetchOptions{Fresh: true})
	if permErr != nil {
		o.logger.Warn("signed in without permissions", "op", op, "error", permErr)
		principal = PrincipalFromClaims(info.Claims)
		recoverable = asError(permErr, KindPermissionFetch, "permissions")
	} else {
		principal = AssemblePrincipal(resolved, &info.Claims)
	}

	if err := o.session.commit(intent, tokens.Access, tokens.Refresh, principal, recoverable); err != nil {
		o.settle()
		if errors.Is(err, ErrStaleIntent) {
			return nil, newError(KindTransport, op, err)
		}
		return nil, o.fail(intent, op, err)
	}
	o.settle()

	o.logger.Info("signed in", "op", op, "principal", principal.ID, "role", principal.ActiveRole.RoleName)
	return &LoginResult{Session: o.session.Snapshot(), PermissionsErr: permErr}, nil
}

// fail records err on the session for intent and returns it typed.
func (o *Orchestrator) fail(intent Intent, op string, err error) error {
	serr := asError(err, KindTransport, op)
	if ferr := o.session.Fail(intent, serr); ferr != nil {
		o.logger.Debug("failure superseded", "op", op, "error", serr)
	}
	o.settle()
	o.logger.Warn("protocol failed", "op", op, "kind", serr.Kind, "error", serr)
	return serr
}

// SwitchRole changes the active role to target, which must be one of the
// principal's available roles. On success the session carries the new role
// and its freshly fetched permission set. On any failure the active role is
// unchanged; a RoleSwitch error with BackendSwitched set means the backend
// applied the switch but its permissions could not be loaded, and
// RefreshPermissions can recover.
func (o *Orchestrator) SwitchRole(ctx context.Context, target RoleAssignment) error {
	return o.SwitchRoleByID(ctx, target.RoleID)
}

// SwitchRoleByID is SwitchRole by role id.
func (o *Orchestrator) SwitchRoleByID(ctx context.Context, roleID int64) (err error) {
	const op = "switch_role"
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.SwitchRole",
		attribute.Int64(telemetry.AttrRoleID, roleID),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		o.record(ctx, op, start, err)
	}()

	snap := o.session.Snapshot()
	if !snap.IsAuthenticated() {
		return newError(KindRoleSwitch, op, ErrNotAuthenticated)
	}
	if _, ok := snap.Principal.Role(roleID); !ok {
		return newError(KindRoleSwitch, op, ErrRoleNotAvailable)
	}

	run := o.beginSwitch()
	defer o.endSwitch(run)
	defer o.settle()
	intent := run.intent

	creds, err := o.creds.LoadCredentials()
	if err != nil {
		return o.switchFailed(intent, newError(KindRoleSwitch, op, err))
	}

	if err := o.api.SwitchRole(ctx, creds.AccessToken, roleID); err != nil {
		return o.switchFailed(intent, asError(err, KindRoleSwitch, op))
	}
	o.resolver.Invalidate()

	resolved, err := o.resolver.Fetch(ctx, creds.AccessToken, FetchOptions{Fresh: true})
	if err != nil {
		return o.switchFailed(intent, &Error{Kind: KindRoleSwitch, Op: op, BackendSwitched: true, Err: err})
	}

	var claims *TokenClaims
	if info, err := DecodeToken(creds.AccessToken); err == nil {
		claims = &info.Claims
	}
	principal := AssemblePrincipal(resolved, claims)
	if err := o.session.Commit(intent, creds.AccessToken, creds.RefreshToken, principal); err != nil {
		if errors.Is(err, ErrStaleIntent) {
			return &Error{Kind: KindRoleSwitch, Op: op, BackendSwitched: true, Err: err}
		}
		return o.switchFailed(intent, &Error{Kind: KindRoleSwitch, Op: op, BackendSwitched: true, Err: err})
	}

	o.logger.Info("switched role", "principal", principal.ID, "role", principal.ActiveRole.RoleName)
	return nil
}

// beginSwitch takes a fresh intent for a role switch and registers it, under
// o.mu so a permission load never reads the intent without the registration.
func (o *Orchestrator) beginSwitch() *switchRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	run := &switchRun{intent: o.session.Issue(), done: make(chan struct{})}
	o.switching = run
	o.state = StateRoleSwitching
	return run
}

func (o *Orchestrator) endSwitch(run *switchRun) {
	o.mu.Lock()
	if o.switching == run {
		o.switching = nil
	}
	o.mu.Unlock()
	close(run.done)
}

func (o *Orchestrator) switchFailed(intent Intent, err *Error) error {
	if ferr := o.session.Fail(intent, err); ferr != nil {
		stale := *err
		stale.Err = fmt.Errorf("%w: %w", ferr, err.Err)
		return &stale
	}
	o.logger.Warn("role switch failed", "backend_switched", err.BackendSwitched, "error", err)
	return err
}

// Logout revokes the refresh token on the backend, then resets the session
// and clears the credential store and response cache. Backend errors are
// logged, never returned: logout always completes locally and supersedes
// any protocol still in flight.
func (o *Orchestrator) Logout(ctx context.Context) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.Logout")
	defer span.End()

	o.mu.Lock()
	o.pending = nil
	o.state = StateLoggingOut
	o.mu.Unlock()

	creds, err := o.creds.LoadCredentials()
	if err != nil {
		o.logger.Warn("could not read credentials for logout", "error", err)
	} else if creds.RefreshToken != "" {
		if err := o.api.Logout(ctx, creds.AccessToken, creds.RefreshToken); err != nil {
			telemetry.RecordError(span, err)
			o.logger.Warn("backend logout failed", "error", err)
		}
	}

	o.resolver.Invalidate()
	if err := o.session.Reset(); err != nil {
		o.logger.Warn("could not clear credentials", "error", err)
	}
	o.setState(StateAnonymous)
	o.record(ctx, "logout", start, nil)
	o.logger.Info("signed out")
	return nil
}

// EnsurePermissionsLoaded fetches the permission set if the authenticated
// principal has none. It does nothing when one is already loaded.
func (o *Orchestrator) EnsurePermissionsLoaded(ctx context.Context) error {
	snap := o.session.Snapshot()
	if !snap.IsAuthenticated() {
		return newError(KindPermissionFetch, "permissions", ErrNotAuthenticated)
	}
	if !ShouldFetch(snap.Principal) {
		return nil
	}
	return o.loadPermissions(ctx, FetchOptions{})
}

// RefreshPermissions fetches the permission set from the backend, bypassing
// the cache.
func (o *Orchestrator) RefreshPermissions(ctx context.Context) error {
	if !o.session.Snapshot().IsAuthenticated() {
		return newError(KindPermissionFetch, "permissions", ErrNotAuthenticated)
	}
	return o.loadPermissions(ctx, FetchOptions{Fresh: true})
}

func (o *Orchestrator) loadPermissions(ctx context.Context, opts FetchOptions) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.LoadPermissions",
		attribute.Bool("fresh", opts.Fresh),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		o.record(ctx, "permissions", start, err)
	}()

	intent, err := o.permissionIntent(ctx)
	if err != nil {
		return err
	}
	creds, err := o.creds.LoadCredentials()
	if err != nil {
		return newError(KindPermissionFetch, "permissions", err)
	}

	resolved, err := o.resolver.Fetch(ctx, creds.AccessToken, opts)
	if err != nil {
		_ = o.session.Fail(intent, err)
		return err
	}

	var claims *TokenClaims
	if info, err := DecodeToken(creds.AccessToken); err == nil {
		claims = &info.Claims
	}
	principal := AssemblePrincipal(resolved, claims)
	if err := o.session.Commit(intent, creds.AccessToken, creds.RefreshToken, principal); err != nil {
		if errors.Is(err, ErrStaleIntent) {
			return newError(KindPermissionFetch, "permissions", err)
		}
		_ = o.session.Fail(intent, err)
		return err
	}
	o.settle()
	return nil
}

// permissionIntent returns the intent a permission load commits under. A
// role switch in flight owns the live intent; the load waits for it to end
// and then runs against the switched session.
func (o *Orchestrator) permissionIntent(ctx context.Context) (Intent, error) {
	for {
		o.mu.Lock()
		run := o.switching
		intent := o.session.Current()
		o.mu.Unlock()

		if run == nil || run.intent != intent {
			if !o.session.Snapshot().IsAuthenticated() {
				return 0, newError(KindPermissionFetch, "permissions", ErrNotAuthenticated)
			}
			return intent, nil
		}
		o.logger.Debug("permission load waiting for role switch")
		select {
		case <-run.done:
		case <-ctx.Done():
			return 0, newError(KindPermissionFetch, "permissions", ctx.Err())
		}
	}
}
