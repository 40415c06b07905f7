package sdk_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

func testPrincipal() *sdk.Principal {
	return sdk.AssemblePrincipal(twoRoleResolution("Manager"), nil)
}

func TestSessionStore_StartsIdle(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseIdle, snap.Phase)
	assert.Nil(t, snap.Principal)
	assert.Empty(t, snap.AccessToken)
}

func TestSessionStore_CommitPublishesAuthenticated(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access, refresh := accessToken(t, "a@x.com", "Manager", 1), refreshToken(t)

	intent := store.BeginLoading()
	assert.Equal(t, sdk.PhaseLoading, store.Snapshot().Phase)

	require.NoError(t, store.Commit(intent, access, refresh, testPrincipal()))

	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, access, snap.AccessToken)
	assert.Equal(t, refresh, snap.RefreshToken)
	assert.NotZero(t, snap.TokenExpiry)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, "a@x.com", snap.Principal.Email)
}

func TestSessionStore_CommitRejectsMalformedToken(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	intent := store.BeginLoading()

	err := store.Commit(intent, "garbage", "refresh", testPrincipal())
	assert.True(t, sdk.IsKind(err, sdk.KindMalformedToken))
	assert.Equal(t, sdk.PhaseLoading, store.Snapshot().Phase)
}

func TestSessionStore_StaleIntentDropped(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)

	first := store.BeginLoading()
	second := store.BeginLoading()

	err := store.Commit(first, access, "r", testPrincipal())
	assert.ErrorIs(t, err, sdk.ErrStaleIntent)
	assert.ErrorIs(t, store.Fail(first, errors.New("late")), sdk.ErrStaleIntent)
	assert.Equal(t, sdk.PhaseLoading, store.Snapshot().Phase)

	require.NoError(t, store.Commit(second, access, "r", testPrincipal()))
	assert.Equal(t, sdk.PhaseAuthenticated, store.Snapshot().Phase)
}

func TestSessionStore_CommitConsumesIntent(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)

	intent := store.BeginLoading()
	require.NoError(t, store.Commit(intent, access, "r", testPrincipal()))
	assert.ErrorIs(t, store.Commit(intent, access, "r", testPrincipal()), sdk.ErrStaleIntent)
	assert.False(t, store.Valid(intent))
	assert.True(t, store.Valid(store.Current()))
}

func TestSessionStore_IssueSupersedesCapturedIntent(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)
	require.NoError(t, store.Commit(store.Current(), access, "r", testPrincipal()))
	before := store.Snapshot()

	captured := store.Current()
	switchIntent := store.Issue()

	assert.ErrorIs(t, store.Commit(captured, access, "r", testPrincipal()), sdk.ErrStaleIntent)
	assert.Equal(t, before.Version, store.Snapshot().Version, "Issue publishes nothing")
	assert.True(t, store.Valid(switchIntent))
}

func TestSessionStore_FailFromLoadingClearsTokens(t *testing.T) {
	creds := sdk.NewMemoryStore()
	require.NoError(t, creds.SaveCredentials(&sdk.Credentials{AccessToken: "a", RefreshToken: "r"}))
	store := sdk.NewSessionStore(creds)

	intent := store.BeginLoading()
	require.NoError(t, store.Fail(intent, &sdk.Error{Kind: sdk.KindTransport, Op: "login", Status: 401}))

	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseFailed, snap.Phase)
	assert.Empty(t, snap.AccessToken)
	assert.Nil(t, snap.Principal)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, sdk.KindTransport, snap.LastError.Kind)

	stored, err := creds.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "a", stored.AccessToken, "fail leaves durable credentials alone")
}

func TestSessionStore_FailKeepsAuthenticatedSession(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)
	require.NoError(t, store.Commit(store.Current(), access, "r", testPrincipal()))

	require.NoError(t, store.Fail(store.Current(), &sdk.Error{Kind: sdk.KindPermissionFetch, Op: "permissions"}))

	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, access, snap.AccessToken)
	assert.True(t, snap.Recoverable())
	assert.Equal(t, sdk.KindPermissionFetch, snap.LastError.Kind)
}

func TestSessionStore_FailDuringStepUpResumesSession(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)
	require.NoError(t, store.Commit(store.Current(), access, "r", testPrincipal()))

	intent := store.BeginLoading()
	require.NoError(t, store.Fail(intent, &sdk.Error{Kind: sdk.KindOTPRejected, Op: "verify_otp"}))

	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, access, snap.AccessToken)
	assert.Equal(t, sdk.KindOTPRejected, snap.LastError.Kind)
}

func TestSessionStore_FailClassifiesPlainErrors(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	intent := store.BeginLoading()
	require.NoError(t, store.Fail(intent, errors.New("dial tcp: connection refused")))
	assert.Equal(t, sdk.KindTransport, store.Snapshot().LastError.Kind)
}

func TestSessionStore_AbandonRestoresPriorState(t *testing.T) {
	creds := sdk.NewMemoryStore()
	require.NoError(t, creds.SaveCredentials(&sdk.Credentials{AccessToken: "stored", RefreshToken: "r"}))
	store := sdk.NewSessionStore(creds)
	access := accessToken(t, "a@x.com", "Manager", 1)

	intent := store.BeginLoading()
	require.NoError(t, store.Abandon(intent))
	assert.Equal(t, sdk.PhaseIdle, store.Snapshot().Phase)
	assert.Nil(t, store.Snapshot().LastError)

	require.NoError(t, store.Commit(store.BeginLoading(), access, "r", testPrincipal()))
	intent = store.BeginLoading()
	require.NoError(t, store.Abandon(intent))
	snap := store.Snapshot()
	assert.Equal(t, sdk.PhaseAuthenticated, snap.Phase)
	assert.Equal(t, access, snap.AccessToken)

	assert.ErrorIs(t, store.Abandon(intent), sdk.ErrStaleIntent)
	stored, err := creds.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "stored", stored.AccessToken)
}

func TestSessionStore_ResetAlwaysWins(t *testing.T) {
	creds := sdk.NewMemoryStore()
	require.NoError(t, creds.SaveCredentials(&sdk.Credentials{AccessToken: "a", RefreshToken: "r"}))
	deviceID, err := creds.DeviceID()
	require.NoError(t, err)
	store := sdk.NewSessionStore(creds)
	access := accessToken(t, "a@x.com", "Manager", 1)

	intent := store.BeginLoading()
	require.NoError(t, store.Reset())

	assert.ErrorIs(t, store.Commit(intent, access, "r", testPrincipal()), sdk.ErrStaleIntent)
	_, err = store.Persist(intent, access, "r")
	assert.ErrorIs(t, err, sdk.ErrStaleIntent)

	assert.Equal(t, sdk.PhaseIdle, store.Snapshot().Phase)
	stored, err := creds.LoadCredentials()
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())

	again, err := creds.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, deviceID, again, "device identifier survives reset")
}

func TestSessionStore_PersistWritesAndReadsBack(t *testing.T) {
	creds := sdk.NewMemoryStore()
	store := sdk.NewSessionStore(creds)
	intent := store.BeginLoading()

	bearer, err := store.Persist(intent, "access-1", "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", bearer)
	assert.Equal(t, 1, creds.Saves())
	assert.True(t, store.Valid(intent), "persist does not consume the intent")
}

func TestSessionStore_ObserversSeeOrderedVersions(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)

	var seen []sdk.Session
	unsubscribe := store.Subscribe(func(s sdk.Session) { seen = append(seen, s) })

	intent := store.BeginLoading()
	require.NoError(t, store.Commit(intent, access, "r", testPrincipal()))
	require.NoError(t, store.Reset())

	require.Len(t, seen, 3)
	assert.Equal(t, sdk.PhaseLoading, seen[0].Phase)
	assert.Equal(t, sdk.PhaseAuthenticated, seen[1].Phase)
	assert.Equal(t, sdk.PhaseIdle, seen[2].Phase)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1].Version+1, seen[i].Version)
	}

	unsubscribe()
	unsubscribe()
	store.BeginLoading()
	assert.Len(t, seen, 3)
}

func TestSessionStore_ConcurrentTransitions(t *testing.T) {
	store := sdk.NewSessionStore(sdk.NewMemoryStore())
	access := accessToken(t, "a@x.com", "Manager", 1)
	principal := testPrincipal()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	store.Subscribe(func(s sdk.Session) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent := store.BeginLoading()
			_ = store.Snapshot()
			if i%5 == 0 {
				_ = store.Reset()
				return
			}
			if i%2 == 0 {
				_ = store.Fail(intent, errors.New("boom"))
				return
			}
			_ = store.Commit(intent, access, "r", principal)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i], "observers see every version in order")
	}
	assert.Equal(t, versions[len(versions)-1], store.Snapshot().Version)
}
