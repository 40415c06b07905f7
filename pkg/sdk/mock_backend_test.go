package sdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

// mockBackend implements the five auth endpoints with overridable funcs.
// Each func returns an HTTP status and a JSON-encodable body.
type mockBackend struct {
	loginFunc       func(req sdk.LoginRequest) (int, any)
	verifyOTPFunc   func(req sdk.VerifyOTPRequest) (int, any)
	permissionsFunc func(bearer string) (int, any)
	switchRoleFunc  func(bearer string, roleID int64) (int, any)
	logoutFunc      func(bearer, refresh string) (int, any)

	mu    sync.Mutex
	calls map[string]int
}

func (m *mockBackend) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func (m *mockBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[r.URL.Path]++
	m.mu.Unlock()

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	status, body := http.StatusNotImplemented, any(map[string]string{"detail": "not implemented"})

	switch r.URL.Path {
	case sdk.PathLogin:
		var req sdk.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if m.loginFunc != nil {
			status, body = m.loginFunc(req)
		}
	case sdk.PathVerifyOTP:
		var req sdk.VerifyOTPRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if m.verifyOTPFunc != nil {
			status, body = m.verifyOTPFunc(req)
		}
	case sdk.PathPermissions:
		if m.permissionsFunc != nil {
			status, body = m.permissionsFunc(bearer)
		}
	case sdk.PathSwitchRole:
		var req struct {
			RoleID int64 `json:"roleId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if m.switchRoleFunc != nil {
			status, body = m.switchRoleFunc(bearer, req.RoleID)
		}
	case sdk.PathLogout:
		var req struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if m.logoutFunc != nil {
			status, body = m.logoutFunc(bearer, req.Refresh)
		}
	default:
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestAPIClient(handler http.Handler) *sdk.APIClient {
	transport := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Result(), nil
	})
	return sdk.NewAPIClient("http://staffgrid.test", sdk.WithHTTPClient(&http.Client{Transport: transport}))
}

const testSigningKey = "staffgrid-test-secret"

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func accessToken(t *testing.T, email, role string, roleID int64) string {
	t.Helper()
	return accessTokenExpiring(t, email, role, roleID, time.Now().Add(time.Hour).Unix())
}

func accessTokenExpiring(t *testing.T, email, role string, roleID, exp int64) string {
	t.Helper()
	return mintToken(t, jwt.MapClaims{
		"sub":        "user-42",
		"user_id":    42,
		"email":      email,
		"name":       "Ada Lovelace",
		"role":       role,
		"role_id":    roleID,
		"token_type": "access",
		"iat":        time.Now().Unix(),
		"exp":        exp,
	})
}

func refreshToken(t *testing.T) string {
	t.Helper()
	return mintToken(t, jwt.MapClaims{
		"sub":        "user-42",
		"token_type": "refresh",
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	})
}

func tokensBody(access, refresh string) map[string]any {
	return map[string]any{
		"access":  access,
		"refresh": refresh,
		"user":    map[string]any{"id": 42, "email": "a@x.com"},
	}
}

func grant(code string, view, create, edit, del bool) map[string]any {
	return map[string]any{
		"feature_code": code,
		"can_view":     view,
		"can_create":   create,
		"can_edit":     edit,
		"can_delete":   del,
	}
}

func roleBody(id int64, name string, primary bool, grants ...map[string]any) map[string]any {
	if grants == nil {
		grants = []map[string]any{}
	}
	return map[string]any{
		"id":          id,
		"name":        name,
		"is_primary":  primary,
		"is_active":   false,
		"permissions": grants,
	}
}

// twoRoleDirectory serves permissions for a user holding Manager (id 1) and
// Staff (id 7). The active role is whatever activeRole points at.
type twoRoleDirectory struct {
	mu         sync.Mutex
	activeRole int64
}

func (d *twoRoleDirectory) set(roleID int64) {
	d.mu.Lock()
	d.activeRole = roleID
	d.mu.Unlock()
}

func (d *twoRoleDirectory) permissions(string) (int, any) {
	d.mu.Lock()
	active := d.activeRole
	d.mu.Unlock()

	managerGrants := []map[string]any{
		grant("employees", true, true, true, true),
		grant("payroll", true, false, true, false),
	}
	staffGrants := []map[string]any{
		grant("timesheets", true, true, false, false),
	}

	role, grants := "Manager", managerGrants
	if active == 7 {
		role, grants = "Staff", staffGrants
	}
	return http.StatusOK, map[string]any{
		"role":        role,
		"permissions": grants,
		"profile": map[string]any{
			"id":              42,
			"email":           "a@x.com",
			"first_name":      "Ada",
			"last_name":       "Lovelace",
			"profile_picture": "https://cdn.example.com/ada.png",
			"roles": []map[string]any{
				roleBody(1, "Manager", true, managerGrants...),
				roleBody(7, "Staff", false, staffGrants...),
			},
		},
	}
}
