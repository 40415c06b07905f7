// Package service implements the staffgrid authentication flows on top of
// the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/repository"
	"github.com/terraconstructs/staffgrid/internal/telemetry"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned for disabled accounts with valid credentials.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrInvalidOTP is returned for a wrong, expired, or missing passcode.
	ErrInvalidOTP = errors.New("invalid or expired code")
	// ErrOTPLocked is returned once a challenge has used up its attempts.
	ErrOTPLocked = errors.New("too many attempts")
	// ErrRoleNotAssigned is returned when switching to a role the user lacks.
	ErrRoleNotAssigned = errors.New("role not assigned")
	// ErrInvalidRefreshToken is returned by Logout for unparseable tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Dependencies are the collaborators of AuthService.
type Dependencies struct {
	Users         repository.UserRepository
	Roles         repository.RoleRepository
	UserRoles     repository.UserRoleRepository
	Devices       repository.DeviceRepository
	OTPs          repository.OTPChallengeRepository
	RefreshTokens repository.RefreshTokenRepository
	Tokens        *auth.TokenIssuer
	OTP           *auth.OTPIssuer
	Enforcer      *auth.GrantEnforcer
}

// Options tunes AuthService policies.
type Options struct {
	OTPTTL         time.Duration
	OTPMaxAttempts int
	Logger         *slog.Logger
}

// AuthService implements login, OTP verification, permission lookup, role
// switching, and logout.
type AuthService struct {
	deps Dependencies
	opts Options
	now  func() time.Time
}

// NewAuthService creates the service. Zero options get defaults.
func NewAuthService(deps Dependencies, opts Options) *AuthService {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	if opts.OTPMaxAttempts <= 0 {
		opts.OTPMaxAttempts = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &AuthService{deps: deps, opts: opts, now: time.Now}
}

// LoginInput is a password login attempt from a device.
type LoginInput struct {
	Email            string
	Password         string
	DeviceIdentifier string
}

// UserInfo is the user block returned with tokens.
type UserInfo struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Tokens is the result of a completed login.
type Tokens struct {
	Access  string
	Refresh string
	User    UserInfo
}

// LoginResult is either Tokens or a passcode demand.
type LoginResult struct {
	Tokens      *Tokens
	OTPRequired bool
}

// Login checks the password. Trusted devices receive tokens immediately;
// others get a passcode sent and OTPRequired set.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (res *LoginResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerServer, "staffapi.Login",
		attribute.String(telemetry.AttrDeviceID, in.DeviceIdentifier),
	)
	defer func() {
		telemetry.RecordError(span, err)
		if res != nil {
			span.SetAttributes(attribute.Bool(telemetry.AttrOTPRequired, res.OTPRequired))
		}
		span.End()
	}()

	user, err := s.authenticate(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	trusted, err := s.deps.Devices.IsTrusted(ctx, user.ID, in.DeviceIdentifier)
	if err != nil {
		return nil, err
	}
	if trusted {
		if err := s.deps.Devices.Trust(ctx, user.ID, in.DeviceIdentifier); err != nil {
			return nil, err
		}
		tokens, err := s.issue(ctx, user)
		if err != nil {
			return nil, err
		}
		s.opts.Logger.Info("login from trusted device", "user_id", user.ID)
		return &LoginResult{Tokens: tokens}, nil
	}

	hash, err := s.deps.OTP.Issue(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.deps.OTPs.Create(ctx, &models.OTPChallenge{
		ID:        bunx.NewUUIDv7(),
		UserID:    user.ID,
		DeviceID:  in.DeviceIdentifier,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.opts.OTPTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	s.opts.Logger.Info("login requires passcode", "user_id", user.ID)
	return &LoginResult{OTPRequired: true}, nil
}

// VerifyOTPInput is a passcode submission.
type VerifyOTPInput struct {
	Email            string
	Code             string
	DeviceIdentifier string
}

// VerifyOTP checks the newest open challenge for the user and device. A
// correct code trusts the device and returns tokens.
func (s *AuthService) VerifyOTP(ctx context.Context, in VerifyOTPInput) (_ *Tokens, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerServer, "staffapi.VerifyOTP",
		attribute.String(telemetry.AttrDeviceID, in.DeviceIdentifier),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	user, err := s.deps.Users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}

	ch, err := s.deps.OTPs.GetOpen(ctx, user.ID, in.DeviceIdentifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}
	if !s.now().Before(ch.ExpiresAt) {
		return nil, ErrInvalidOTP
	}
	if ch.Attempts >= s.opts.OTPMaxAttempts {
		return nil, ErrOTPLocked
	}

	if !s.deps.OTP.Verify(ch.CodeHash, in.Code) {
		attempts, err := s.deps.OTPs.IncrementAttempts(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		s.opts.Logger.Warn("passcode rejected", "user_id", user.ID, "attempts", attempts)
		if attempts >= s.opts.OTPMaxAttempts {
			return nil, ErrOTPLocked
		}
		return nil, ErrInvalidOTP
	}

	if err := s.deps.OTPs.Consume(ctx, ch.ID); err != nil {
		return nil, err
	}
	if err := s.deps.Devices.Trust(ctx, user.ID, in.DeviceIdentifier); err != nil {
		return nil, err
	}
	s.opts.Logger.Info("passcode verified, device trusted", "user_id", user.ID)
	return s.issue(ctx, user)
}

func (s *AuthService) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.deps.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.DisabledAt != nil {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*Tokens, error) {
	id := auth.Identity{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.DisplayName(),
		Picture: user.PictureURL,
	}
	assignments, err := s.deps.UserRoles.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active := activeAssignment(assignments); active != nil {
		id.RoleID = active.RoleID
		if active.Role != nil {
			id.Role = active.Role.Name
		}
	}

	pair, err := s.deps.Tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	if err := s.deps.RefreshTokens.Create(ctx, &models.RefreshToken{
		JTI:       pair.RefreshJTI,
		UserID:    user.ID,
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, err
	}
	if err := s.deps.Users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.opts.Logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	return &Tokens{
		Access:  pair.Access,
		Refresh: pair.Refresh,
		User:    UserInfo{ID: user.ID, Email: user.Email, FirstName: user.FirstName, LastName: user.LastName},
	}, nil
}

// activeAssignment returns the active assignment, else the primary, else
// the first.
func activeAssignment(assignments []models.UserRole) *models.UserRole {
	for i := range assignments {
		if assignments[i].IsActive {
			return &assignments[i]
		}
	}
	for i := range assignments {
		if assignments[i].IsPrimary {
			return &assignments[i]
		}
	}
	if len(assignments) > 0 {
		return &assignments[0]
	}
	return nil
}

// Grant is one feature's allowed actions.
type Grant struct {
	FeatureCode string
	CanView     bool
	CanCreate   bool
	CanEdit     bool
	CanDelete   bool
}

// RoleGrants is a role assignment with its evaluated grants.
type RoleGrants struct {
	ID          int64
	Name        string
	IsPrimary   bool
	IsActive    bool
	Permissions []Grant
}

// Permissions is the active role, its grants, and the user's profile.
type Permissions struct {
	Role        string
	Permissions []Grant
	User        *models.User
	Roles       []RoleGrants
}

// Permissions evaluates the grants of every role assigned to userID. The
// active role comes from storage, not from the token, so it reflects
// switches made after the token was issued.
func (s *AuthService) Permissions(ctx context.Context, userID string) (*Permissions, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.deps.UserRoles.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.deps.Roles.ListGrants(ctx)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(grants))
	for _, g := range grants {
		codes = append(codes, g.FeatureCode)
	}
	catalog := auth.Catalog(codes)

	out := &Permissions{User: user, Permissions: []Grant{}, Roles: make([]RoleGrants, 0, len(assignments))}
	active := activeAssignment(assignments)
	for _, a := range assignments {
		matrix, err := s.deps.Enforcer.Matrix(a.RoleID, catalog)
		if err != nil {
			return nil, err
		}
		rg := RoleGrants{
			ID:          a.RoleID,
			IsPrimary:   a.IsPrimary,
			IsActive:    active != nil && a.RoleID == active.RoleID,
			Permissions: toGrants(catalog, matrix),
		}
		if a.Role != nil {
			rg.Name = a.Role.Name
		}
		if rg.IsActive {
			out.Role = rg.Name
			out.Permissions = rg.Permissions
		}
		out.Roles = append(out.Roles, rg)
	}
	return out, nil
}

func toGrants(catalog []string, matrix map[string][]string) []Grant {
	out := make([]Grant, 0, len(matrix))
	for _, feature := range catalog {
		actions, ok := matrix[feature]
		if !ok {
			continue
		}
		g := Grant{FeatureCode: feature}
		for _, a := range actions {
			switch a {
			case "view":
				g.CanView = true
			case "create":
				g.CanCreate = true
			case "edit":
				g.CanEdit = true
			case "delete":
				g.CanDelete = true
			}
		}
		out = append(out, g)
	}
	return out
}

// SwitchRole makes roleID the user's active role.
func (s *AuthService) SwitchRole(ctx context.Context, userID string, roleID int64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerServer, "staffapi.SwitchRole",
		attribute.String(telemetry.AttrPrincipalID, userID),
		attribute.Int64(telemetry.AttrRoleID, roleID),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if err := s.deps.UserRoles.SetActive(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotAssigned
		}
		return err
	}
	s.opts.Logger.Info("role switched", "user_id", userID, "role_id", roleID)
	return nil
}

// Logout revokes the refresh token. Unknown or already revoked tokens are
// not an error; tokens that fail verification are.
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	claims, err := s.deps.Tokens.Parse(refresh, auth.TokenTypeRefresh)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	revoked, err := s.refreshRevoked(ctx, claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		s.opts.Logger.Debug("refresh token already revoked or unknown", "user_id", claims.UserID)
		return nil
	}
	if err := s.deps.RefreshTokens.Revoke(ctx, claims.ID, s.now()); err != nil {
		return err
	}
	s.opts.Logger.Info("refresh token revoked", "user_id", claims.UserID)
	return nil
}

// refreshRevoked reports whether the refresh token with jti was revoked.
// Tokens with no record count as revoked.
func (s *AuthService) refreshRevoked(ctx context.Context, jti string) (bool, error) {
	tok, err := s.deps.RefreshTokens.GetByJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return tok.RevokedAt != nil, nil
}
