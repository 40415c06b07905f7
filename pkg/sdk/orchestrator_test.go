package sdk_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/staffgrid/internal/logging"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

type orchestratorFixture struct {
	backend *mockBackend
	dir     *twoRoleDirectory
	creds   *sdk.MemoryStore
	orch    *sdk.Orchestrator
	access  string
	refresh string
}

func newOrchestratorFixture(t *testing.T, opts ...sdk.Option) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		dir:     &twoRoleDirectory{activeRole: 1},
		creds:   sdk.NewMemoryStore(),
		access:  accessToken(t, "a@x.com", "Manager", 1),
		refresh: refreshToken(t),
	}
	f.backend = &mockBackend{
		loginFunc: func(sdk.LoginRequest) (int, any) {
			return http.StatusOK, tokensBody(f.access, f.refresh)
		},
		verifyOTPFunc: func(req sdk.VerifyOTPRequest) (int, any) {
			if req.Code != "123456" {
				return http.StatusBadRequest, map[string]string{"detail": "Invalid or expired code"}
			}
			return http.StatusOK, tokensBody(f.access, f.refresh)
		},
		permissionsFunc: f.dir.permissions,
		switchRoleFunc: func(_ string, roleID int64) (int, any) {
			f.dir.set(roleID)
			return http.StatusOK, map[string]string{"detail": "Role switched"}
		},
		logoutFunc: func(string, string) (int, any) {
			return http.StatusOK, map[string]string{"detail": "Logged out"}
		},
	}
	opts = append([]sdk.Option{sdk.WithLogger(logging.Discard())}, opts...)
	f.orch = sdk.NewOrchestrator(newTestAPIClient(f.backend), f.creds, opts...)
	return f
}

func (f *orchestratorFixture) login(t *testing.T) {
	t.Helper()
	res, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)
	require.False(t, res.OTPRequired)
	require.NoError(t, res.PermissionsErr)
}

func TestOrchestrator_LoginWithoutOTP(t *testing.T) {
	f := newOrchestratorFixture(t)

	res, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)
	assert.False(t, res.OTPRequired)

	stored, err := f.creds.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, f.access, stored.AccessToken)
	assert.Equal(t, f.refresh, stored.RefreshToken)

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())
	assert.Equal(t, f.access, snap.AccessToken)
	assert.Equal(t, "a@x.com", snap.Principal.Email)
	assert.Equal(t, "Manager", snap.Principal.ActiveRole.RoleName)
	assert.True(t, snap.Principal.Can("employees", sdk.ActionDelete))
	assert.True(t, snap.Principal.Can("payroll", sdk.ActionEdit))
	assert.False(t, snap.Principal.Can("payroll", sdk.ActionDelete))
	assert.Len(t, snap.Principal.AvailableRoles, 2)

	info, err := sdk.DecodeToken(f.access)
	require.NoError(t, err)
	assert.Equal(t, info.ExpiryMillis(), snap.TokenExpiry)
}

func TestOrchestrator_LoginUsesStoredDeviceID(t *testing.T) {
	f := newOrchestratorFixture(t)
	var got string
	f.backend.loginFunc = func(req sdk.LoginRequest) (int, any) {
		got = req.DeviceIdentifier
		return http.StatusOK, tokensBody(f.access, f.refresh)
	}

	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "")
	require.NoError(t, err)

	want, err := f.creds.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOrchestrator_LoginWithOTP(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusUnauthorized, map[string]string{"detail": sdk.DetailOTPRequired}
	}

	res, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)
	require.True(t, res.OTPRequired)
	require.NotNil(t, res.Challenge)
	assert.Equal(t, "a@x.com", res.Challenge.Email)
	assert.Equal(t, "dev-1", res.Challenge.DeviceIdentifier)

	assert.Equal(t, sdk.StateAwaitingOTP, f.orch.State())
	assert.Equal(t, 0, f.creds.Saves(), "credential store untouched while awaiting OTP")
	assert.False(t, f.orch.Snapshot().IsAuthenticated())

	var gotVerify sdk.VerifyOTPRequest
	f.backend.verifyOTPFunc = func(req sdk.VerifyOTPRequest) (int, any) {
		gotVerify = req
		return http.StatusOK, tokensBody(f.access, f.refresh)
	}
	vres, err := f.orch.VerifyOTP(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", gotVerify.DeviceIdentifier)
	assert.Equal(t, "a@x.com", gotVerify.Email)

	assert.Equal(t, sdk.PhaseAuthenticated, vres.Session.Phase)
	assert.Equal(t, "a@x.com", vres.Session.Principal.Email)
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())
	assert.Nil(t, f.orch.PendingChallenge())
	assert.Equal(t, 1, f.creds.Saves())
}

func TestOrchestrator_VerifyOTPWithoutChallenge(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.VerifyOTP(context.Background(), "123456")
	assert.True(t, sdk.IsKind(err, sdk.KindOTPRejected))
	assert.ErrorIs(t, err, sdk.ErrNoPendingChallenge)
	assert.Equal(t, 0, f.backend.count(sdk.PathVerifyOTP))
}

func TestOrchestrator_WrongOTPKeepsChallenge(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, map[string]string{"detail": sdk.DetailOTPRequired}
	}

	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)

	_, err = f.orch.VerifyOTP(context.Background(), "000000")
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindOTPRejected))
	assert.Equal(t, sdk.StateAwaitingOTP, f.orch.State())
	assert.Equal(t, sdk.PhaseFailed, f.orch.Snapshot().Phase)
	require.NotNil(t, f.orch.PendingChallenge())
	assert.Equal(t, 1, f.orch.PendingChallenge().Attempts)

	_, err = f.orch.VerifyOTP(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, sdk.PhaseAuthenticated, f.orch.Snapshot().Phase)
}

func TestOrchestrator_MaxOTPAttempts(t *testing.T) {
	f := newOrchestratorFixture(t, sdk.WithMaxOTPAttempts(2))
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, map[string]string{"detail": sdk.DetailOTPRequired}
	}
	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)

	_, err = f.orch.VerifyOTP(context.Background(), "000000")
	require.Error(t, err)
	assert.NotNil(t, f.orch.PendingChallenge())

	_, err = f.orch.VerifyOTP(context.Background(), "111111")
	require.Error(t, err)
	assert.Nil(t, f.orch.PendingChallenge())
	assert.Equal(t, sdk.StateFailed, f.orch.State())

	_, err = f.orch.VerifyOTP(context.Background(), "123456")
	assert.ErrorIs(t, err, sdk.ErrNoPendingChallenge)
}

func TestOrchestrator_AbandonOTP(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, map[string]string{"detail": sdk.DetailOTPRequired}
	}
	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)

	f.orch.AbandonOTP()
	assert.Nil(t, f.orch.PendingChallenge())
	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseIdle, snap.Phase)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, sdk.StateAnonymous, f.orch.State())
	assert.Equal(t, 0, f.creds.Saves())
}

func TestOrchestrator_AbandonOTPKeepsPriorSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)

	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, map[string]string{"detail": sdk.DetailOTPRequired}
	}
	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-2")
	require.NoError(t, err)
	require.Equal(t, sdk.StateAwaitingOTP, f.orch.State())

	f.orch.AbandonOTP()
	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, f.access, snap.AccessToken)
	assert.False(t, snap.Recoverable())
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())

	stored, err := f.creds.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, f.access, stored.AccessToken)
}

func TestOrchestrator_StepUpFailureKeepsSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)

	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, map[string]string{"detail": sdk.DetailOTPRequired}
	}
	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, f.access, f.orch.Snapshot().AccessToken, "loading snapshot keeps the working session")

	_, err = f.orch.VerifyOTP(context.Background(), "000000")
	require.Error(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.True(t, snap.Recoverable())
	assert.True(t, snap.Principal.HasPermissions())
}

func TestOrchestrator_LoginRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"}
	}

	_, err := f.orch.Login(context.Background(), "a@x.com", "bad", "dev-1")
	require.Error(t, err)
	assert.True(t, sdk.IsKind(err, sdk.KindTransport))
	assert.Equal(t, sdk.StateFailed, f.orch.State())

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseFailed, snap.Phase)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "Invalid credentials", snap.LastError.UserMessage())
	assert.Equal(t, 0, f.creds.Saves())
}

func TestOrchestrator_LoginMalformedToken(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		return http.StatusOK, tokensBody("not-a-jwt", "refresh")
	}

	_, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	assert.True(t, sdk.IsKind(err, sdk.KindMalformedToken))
	assert.Equal(t, sdk.PhaseFailed, f.orch.Snapshot().Phase)
}

func TestOrchestrator_PermissionFailureDuringLogin(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.permissionsFunc = func(string) (int, any) {
		return http.StatusInternalServerError, map[string]string{"detail": "boom"}
	}
	var (
		mu       sync.Mutex
		observed []sdk.Session
	)
	unsubscribe := f.orch.Subscribe(func(s sdk.Session) {
		mu.Lock()
		observed = append(observed, s)
		mu.Unlock()
	})

	res, err := f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	require.NoError(t, err)
	unsubscribe()

	mu.Lock()
	require.Len(t, observed, 2, "the recoverable error is published with the commit")
	assert.Equal(t, sdk.PhaseLoading, observed[0].Phase)
	assert.True(t, observed[1].Recoverable())
	mu.Unlock()
	assert.True(t, sdk.IsKind(res.PermissionsErr, sdk.KindPermissionFetch))

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.False(t, snap.Principal.HasPermissions())
	assert.Equal(t, "Manager", snap.Principal.ActiveRole.RoleName, "role comes from token claims")
	require.NotNil(t, snap.LastError)
	assert.Equal(t, sdk.KindPermissionFetch, snap.LastError.Kind)

	f.backend.permissionsFunc = f.dir.permissions
	require.NoError(t, f.orch.EnsurePermissionsLoaded(context.Background()))

	snap = f.orch.Snapshot()
	assert.True(t, snap.Principal.HasPermissions())
	assert.Nil(t, snap.LastError)
	assert.Len(t, snap.Principal.AvailableRoles, 2)
}

func TestOrchestrator_EnsurePermissionsLoadedSkipsWhenLoaded(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	before := f.backend.count(sdk.PathPermissions)

	require.NoError(t, f.orch.EnsurePermissionsLoaded(context.Background()))
	assert.Equal(t, before, f.backend.count(sdk.PathPermissions))
}

func TestOrchestrator_EnsurePermissionsLoadedRequiresSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	err := f.orch.EnsurePermissionsLoaded(context.Background())
	assert.ErrorIs(t, err, sdk.ErrNotAuthenticated)
	assert.Equal(t, 0, f.backend.count(sdk.PathPermissions))
}

func TestOrchestrator_RefreshPermissionsBypassesCache(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	before := f.backend.count(sdk.PathPermissions)

	require.NoError(t, f.orch.RefreshPermissions(context.Background()))
	assert.Equal(t, before+1, f.backend.count(sdk.PathPermissions))
}

func TestOrchestrator_SwitchRole(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	target, ok := f.orch.Snapshot().Principal.Role(7)
	require.True(t, ok)

	require.NoError(t, f.orch.SwitchRole(context.Background(), target))

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())
	assert.Equal(t, int64(7), snap.Principal.ActiveRole.RoleID)
	assert.Equal(t, "Staff", snap.Principal.ActiveRole.RoleName)
	assert.True(t, snap.Principal.Can("timesheets", sdk.ActionCreate))
	assert.False(t, snap.Principal.Can("employees", sdk.ActionView))
	for _, r := range snap.Principal.AvailableRoles {
		assert.Equal(t, r.RoleID == 7, r.IsActive)
	}
}

func TestOrchestrator_SwitchRoleRejectedByBackend(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	before := f.orch.Snapshot()
	f.backend.switchRoleFunc = func(string, int64) (int, any) {
		return http.StatusForbidden, map[string]string{"detail": "Role not assigned"}
	}

	err := f.orch.SwitchRoleByID(context.Background(), 7)
	require.Error(t, err)

	var serr *sdk.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, sdk.KindRoleSwitch, serr.Kind)
	assert.False(t, serr.BackendSwitched)

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, before.Principal.ActiveRole.RoleID, snap.Principal.ActiveRole.RoleID)
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())
}

func TestOrchestrator_SwitchRolePermissionRefreshFails(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	f.backend.permissionsFunc = func(string) (int, any) {
		return http.StatusBadGateway, map[string]string{"detail": "upstream"}
	}

	err := f.orch.SwitchRoleByID(context.Background(), 7)
	var serr *sdk.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, sdk.KindRoleSwitch, serr.Kind)
	assert.True(t, serr.BackendSwitched)

	snap := f.orch.Snapshot()
	assert.Equal(t, int64(1), snap.Principal.ActiveRole.RoleID, "active role unchanged until permissions load")
	assert.True(t, snap.Recoverable())

	f.backend.permissionsFunc = f.dir.permissions
	require.NoError(t, f.orch.RefreshPermissions(context.Background()))
	assert.Equal(t, int64(7), f.orch.Snapshot().Principal.ActiveRole.RoleID)
}

func TestOrchestrator_SwitchRoleValidation(t *testing.T) {
	f := newOrchestratorFixture(t)

	err := f.orch.SwitchRoleByID(context.Background(), 7)
	assert.ErrorIs(t, err, sdk.ErrNotAuthenticated)

	f.login(t)
	err = f.orch.SwitchRoleByID(context.Background(), 99)
	assert.ErrorIs(t, err, sdk.ErrRoleNotAvailable)
	assert.Equal(t, 0, f.backend.count(sdk.PathSwitchRole))
}

func TestOrchestrator_LogoutWithBackendDown(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	f.backend.logoutFunc = func(string, string) (int, any) {
		return http.StatusServiceUnavailable, map[string]string{"detail": "down"}
	}

	require.NoError(t, f.orch.Logout(context.Background()))

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseIdle, snap.Phase)
	assert.Nil(t, snap.Principal)
	assert.Equal(t, sdk.StateAnonymous, f.orch.State())

	stored, err := f.creds.LoadCredentials()
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestOrchestrator_LogoutSendsRefreshToken(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)
	var gotRefresh string
	f.backend.logoutFunc = func(_ string, refresh string) (int, any) {
		gotRefresh = refresh
		return http.StatusOK, map[string]string{}
	}

	require.NoError(t, f.orch.Logout(context.Background()))
	assert.Equal(t, f.refresh, gotRefresh)
}

func TestOrchestrator_LogoutWinsOverInFlightLogin(t *testing.T) {
	f := newOrchestratorFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.loginFunc = func(sdk.LoginRequest) (int, any) {
		close(entered)
		<-release
		return http.StatusOK, tokensBody(f.access, f.refresh)
	}

	var (
		wg       sync.WaitGroup
		loginErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, loginErr = f.orch.Login(context.Background(), "a@x.com", "pw", "dev-1")
	}()

	<-entered
	require.NoError(t, f.orch.Logout(context.Background()))
	close(release)
	wg.Wait()

	assert.ErrorIs(t, loginErr, sdk.ErrStaleIntent)
	assert.Equal(t, sdk.KindTransport, sdk.KindOf(loginErr))
	assert.Equal(t, sdk.PhaseIdle, f.orch.Snapshot().Phase)
	stored, err := f.creds.LoadCredentials()
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty(), "superseded login must not write credentials")
}

func TestOrchestrator_RoleSwitchSupersedesPermissionLoad(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.backend.permissionsFunc = func(bearer string) (int, any) {
		status, body := f.dir.permissions(bearer)
		if status == http.StatusOK {
			f.dir.mu.Lock()
			role := f.dir.activeRole
			f.dir.mu.Unlock()
			if role == 1 {
				once.Do(func() { close(entered) })
				<-release
			}
		}
		return status, body
	}

	var (
		wg         sync.WaitGroup
		refreshErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshErr = f.orch.RefreshPermissions(context.Background())
	}()
	<-entered

	switchDone := make(chan error, 1)
	go func() { switchDone <- f.orch.SwitchRoleByID(context.Background(), 7) }()

	require.Eventually(t, func() bool {
		return f.backend.count(sdk.PathSwitchRole) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-switchDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("role switch did not finish")
	}
	close(release)
	wg.Wait()

	assert.ErrorIs(t, refreshErr, sdk.ErrStaleIntent)
	assert.Equal(t, sdk.KindPermissionFetch, sdk.KindOf(refreshErr))
	assert.Equal(t, int64(7), f.orch.Snapshot().Principal.ActiveRole.RoleID, "stale Manager permissions never overwrite the switch")
}

func TestOrchestrator_RefreshDuringRoleSwitchWaitsForSwitch(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.switchRoleFunc = func(_ string, roleID int64) (int, any) {
		close(entered)
		<-release
		f.dir.set(roleID)
		return http.StatusOK, map[string]string{"detail": "Role switched"}
	}

	switchDone := make(chan error, 1)
	go func() { switchDone <- f.orch.SwitchRoleByID(context.Background(), 7) }()
	<-entered

	before := f.backend.count(sdk.PathPermissions)
	refreshDone := make(chan error, 1)
	go func() { refreshDone <- f.orch.RefreshPermissions(context.Background()) }()

	assert.Never(t, func() bool {
		return f.backend.count(sdk.PathPermissions) > before
	}, 50*time.Millisecond, 5*time.Millisecond, "no permission fetch while the switch is pending")
	close(release)

	require.NoError(t, <-switchDone)
	require.NoError(t, <-refreshDone)

	snap := f.orch.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, int64(7), snap.Principal.ActiveRole.RoleID)
	assert.Equal(t, "Staff", snap.Principal.ActiveRole.RoleName)
	assert.Equal(t, sdk.StateAuthenticated, f.orch.State())
}

func TestOrchestrator_LogoutSupersedesRoleSwitch(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.login(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.switchRoleFunc = func(_ string, roleID int64) (int, any) {
		close(entered)
		<-release
		f.dir.set(roleID)
		return http.StatusOK, map[string]string{"detail": "Role switched"}
	}

	switchDone := make(chan error, 1)
	go func() { switchDone <- f.orch.SwitchRoleByID(context.Background(), 7) }()
	<-entered
	require.NoError(t, f.orch.Logout(context.Background()))
	close(release)

	err := <-switchDone
	assert.ErrorIs(t, err, sdk.ErrStaleIntent)
	assert.Equal(t, sdk.KindRoleSwitch, sdk.KindOf(err))
	assert.Equal(t, sdk.PhaseIdle, f.orch.Snapshot().Phase)
}

func TestOrchestrator_LoadUser(t *testing.T) {
	t.Run("restores from stored credentials", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		exp := time.Now().Add(30 * time.Minute).Unix()
		access := accessTokenExpiring(t, "a@x.com", "Manager", 1, exp)
		require.NoError(t, f.creds.SaveCredentials(&sdk.Credentials{AccessToken: access, RefreshToken: f.refresh}))

		snap := f.orch.LoadUser(context.Background())
		assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
		assert.Equal(t, exp*1000, snap.TokenExpiry)
		assert.True(t, snap.Principal.FromClaims)
		assert.Equal(t, "a@x.com", snap.Principal.Email)
		assert.Equal(t, "Manager", snap.Principal.ActiveRole.RoleName)
		assert.False(t, snap.Principal.HasPermissions())
		assert.Equal(t, 0, f.backend.count(sdk.PathPermissions), "no network call")

		require.NoError(t, f.orch.EnsurePermissionsLoaded(context.Background()))
		assert.True(t, f.orch.Snapshot().Principal.HasPermissions())
	})

	t.Run("missing refresh token", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		require.NoError(t, f.creds.SaveCredentials(&sdk.Credentials{AccessToken: f.access}))
		assert.Equal(t, sdk.PhaseIdle, f.orch.LoadUser(context.Background()).Phase)
	})

	t.Run("malformed token", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		require.NoError(t, f.creds.SaveCredentials(&sdk.Credentials{AccessToken: "garbage", RefreshToken: "r"}))
		assert.Equal(t, sdk.PhaseIdle, f.orch.LoadUser(context.Background()).Phase)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newOrchestratorFixture(t)
		expired := mintToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})
		require.NoError(t, f.creds.SaveCredentials(&sdk.Credentials{AccessToken: expired, RefreshToken: "r"}))
		assert.Equal(t, sdk.PhaseIdle, f.orch.LoadUser(context.Background()).Phase)
	})

	t.Run("clock override", func(t *testing.T) {
		f := newOrchestratorFixture(t, sdk.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) }))
		require.NoError(t, f.creds.SaveCredentials(&sdk.Credentials{AccessToken: f.access, RefreshToken: f.refresh}))
		assert.Equal(t, sdk.PhaseIdle, f.orch.LoadUser(context.Background()).Phase)
	})
}

func TestOrchestrator_ObserversSeeLoginSequence(t *testing.T) {
	f := newOrchestratorFixture(t)
	var (
		mu     sync.Mutex
		phases []sdk.Phase
	)
	unsubscribe := f.orch.Subscribe(func(s sdk.Session) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	defer unsubscribe()

	f.login(t)
	require.NoError(t, f.orch.Logout(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []sdk.Phase{sdk.PhaseLoading, sdk.PhaseAuthenticated, sdk.PhaseIdle}, phases)
}
