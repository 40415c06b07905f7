package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Backend endpoint paths, relative to the API base URL.
const (
	PathLogin       = "/login"
	PathVerifyOTP   = "/verify-otp"
	PathPermissions = "/permissions"
	PathSwitchRole  = "/switch-role"
	PathLogout      = "/logout"
)

// DetailOTPRequired is the login response detail that starts the OTP step.
const DetailOTPRequired = "OTP_REQUIRED"

const maxResponseBytes = 1 << 20

// LoginRequest is the payload of the login endpoint.
type LoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	DeviceIdentifier string `json:"deviceIdentifier"`
}

// VerifyOTPRequest is the payload of the OTP verification endpoint.
type VerifyOTPRequest struct {
	Email            string `json:"email"`
	Code             string `json:"code"`
	DeviceIdentifier string `json:"deviceIdentifier"`
}

// UserSummary is the optional user block returned with tokens.
type UserSummary struct {
	ID        FlexibleID `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
}

// AuthTokens is a successful login or verification response.
type AuthTokens struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    *UserSummary `json:"user,omitempty"`
}

// LoginResponse is the outcome of the login call: either tokens or an OTP demand.
type LoginResponse struct {
	Tokens      *AuthTokens
	OTPRequired bool
	Detail      string
}

// APIClient talks to the authentication backend over REST/JSON.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// APIClientOptions configures APIClient construction.
type APIClientOptions struct {
	HTTPClient *http.Client
}

// APIClientOption mutates APIClientOptions.
type APIClientOption func(*APIClientOptions)

// WithHTTPClient overrides the HTTP client used for backend calls.
func WithHTTPClient(client *http.Client) APIClientOption {
	return func(opts *APIClientOptions) {
		opts.HTTPClient = client
	}
}

// NewAPIClient creates a client for the backend at baseURL.
// An http.Client with a 30s timeout is created when one is not supplied.
func NewAPIClient(baseURL string, optFns ...APIClientOption) *APIClient {
	opts := APIClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the normalized base URL.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

type apiResponse struct {
	status int
	body   []byte
}

func (r *apiResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *apiResponse) detail() string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(r.body, &payload); err != nil {
		return ""
	}
	return payload.Detail
}

// bearerClient returns an HTTP client that attaches bearer to every request.
func (c *APIClient) bearerClient(bearer string) *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}),
			Base:   base,
		},
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
}

func (c *APIClient) do(ctx context.Context, client *http.Client, op, method, path string, payload any) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, newError(KindTransport, op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, newError(KindTransport, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(KindTransport, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return &apiResponse{status: resp.StatusCode, body: data}, nil
}

// Login submits credentials. A response whose detail is OTP_REQUIRED, on a
// 2xx or 4xx status, yields OTPRequired instead of an error.
func (c *APIClient) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	const op = "login"
	resp, err := c.do(ctx, c.httpClient, op, http.MethodPost, PathLogin, req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AuthTokens
		Detail string `json:"detail"`
	}
	decodeErr := json.Unmarshal(resp.body, &payload)

	if decodeErr == nil && payload.Detail == DetailOTPRequired && resp.status < 500 {
		return &LoginResponse{OTPRequired: true, Detail: payload.Detail}, nil
	}
	if !resp.ok() {
		return nil, statusError(KindTransport, op, resp.status, resp.detail())
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.status, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if payload.Access == "" || payload.Refresh == "" {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.status, Detail: "response carried no tokens"}
	}
	tokens := payload.AuthTokens
	return &LoginResponse{Tokens: &tokens}, nil
}

// VerifyOTP submits a one-time passcode. A 400 or 401 yields KindOTPRejected.
func (c *APIClient) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*AuthTokens, error) {
	const op = "verify_otp"
	resp, err := c.do(ctx, c.httpClient, op, http.MethodPost, PathVerifyOTP, req)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized {
		return nil, statusError(KindOTPRejected, op, resp.status, resp.detail())
	}
	if !resp.ok() {
		return nil, statusError(KindTransport, op, resp.status, resp.detail())
	}

	var tokens AuthTokens
	if err := json.Unmarshal(resp.body, &tokens); err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if tokens.Access == "" || tokens.Refresh == "" {
		return nil, &Error{Kind: KindTransport, Op: op, Status: resp.status, Detail: "response carried no tokens"}
	}
	return &tokens, nil
}

type roleJSON struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	IsPrimary   bool              `json:"is_primary"`
	IsActive    bool              `json:"is_active"`
	Permissions []PermissionGrant `json:"permissions"`
}

// FlexibleID is an identifier that decodes from a JSON string or number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

type profileJSON struct {
	ID             FlexibleID `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	ProfilePicture string     `json:"profile_picture"`
	Roles          []roleJSON `json:"roles"`
}

type permissionsJSON struct {
	Role        string            `json:"role"`
	Permissions []PermissionGrant `json:"permissions"`
	Profile     profileJSON       `json:"profile"`
}

func (p permissionsJSON) resolved() *ResolvedPermissions {
	roles := make([]RoleAssignment, 0, len(p.Profile.Roles))
	for _, r := range p.Profile.Roles {
		roles = append(roles, RoleAssignment{
			RoleID:      r.ID,
			RoleName:    r.Name,
			Permissions: NewPermissionSet(r.Permissions),
			IsPrimary:   r.IsPrimary,
			IsActive:    r.IsActive,
		})
	}
	return &ResolvedPermissions{
		RoleName:    p.Role,
		Permissions: NewPermissionSet(p.Permissions),
		Profile: Profile{
			ID:             string(p.Profile.ID),
			Email:          p.Profile.Email,
			FirstName:      p.Profile.FirstName,
			LastName:       p.Profile.LastName,
			ProfilePicture: p.Profile.ProfilePicture,
			Roles:          roles,
		},
	}
}

// Permissions fetches the active role, its permission set, and the profile.
// Any failure yields KindPermissionFetch.
func (c *APIClient) Permissions(ctx context.Context, bearer string) (*ResolvedPermissions, error) {
	const op = "permissions"
	resp, err := c.do(ctx, c.bearerClient(bearer), op, http.MethodGet, PathPermissions, nil)
	if err != nil {
		return nil, &Error{Kind: KindPermissionFetch, Op: op, Err: err}
	}
	if !resp.ok() {
		return nil, statusError(KindPermissionFetch, op, resp.status, resp.detail())
	}

	var payload permissionsJSON
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, &Error{Kind: KindPermissionFetch, Op: op, Status: resp.status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return payload.resolved(), nil
}

// SwitchRole asks the backend to change the active role. Any failure yields KindRoleSwitch.
func (c *APIClient) SwitchRole(ctx context.Context, bearer string, roleID int64) error {
	const op = "switch_role"
	payload := struct {
		RoleID int64 `json:"roleId"`
	}{RoleID: roleID}
	resp, err := c.do(ctx, c.bearerClient(bearer), op, http.MethodPost, PathSwitchRole, payload)
	if err != nil {
		return &Error{Kind: KindRoleSwitch, Op: op, Err: err}
	}
	if !resp.ok() {
		return statusError(KindRoleSwitch, op, resp.status, resp.detail())
	}
	return nil
}

// Logout revokes refresh on the backend.
func (c *APIClient) Logout(ctx context.Context, bearer, refresh string) error {
	const op = "logout"
	payload := struct {
		Refresh string `json:"refresh"`
	}{Refresh: refresh}

	client := c.httpClient
	if bearer != "" {
		client = c.bearerClient(bearer)
	}
	resp, err := c.do(ctx, client, op, http.MethodPost, PathLogout, payload)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return statusError(KindTransport, op, resp.status, resp.detail())
	}
	return nil
}
