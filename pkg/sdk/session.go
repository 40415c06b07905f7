package sdk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terraconstructs/staffgrid/internal/logging"
)

// Phase is the lifecycle phase of a Session.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseLoading       Phase = "loading"
	PhaseAuthenticated Phase = "authenticated"
	PhaseFailed        Phase = "failed"
)

// Session is an immutable snapshot of the client's authentication state.
// Principal is shared between snapshots and must not be modified.
type Session struct {
	AccessToken  string
	RefreshToken string
	Principal    *Principal
	// TokenExpiry is the access-token expiry in epoch milliseconds.
	TokenExpiry int64
	Phase       Phase
	// LastError is the most recent failure. On an authenticated session it
	// marks a recoverable condition (e.g. permissions failed to load).
	LastError *Error
	// Version increases by one with every published snapshot.
	Version uint64
}

// IsAuthenticated reports whether the snapshot is in PhaseAuthenticated.
func (s Session) IsAuthenticated() bool {
	return s.Phase == PhaseAuthenticated
}

// ExpiresAt returns the access-token expiry.
func (s Session) ExpiresAt() time.Time {
	if s.TokenExpiry == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.TokenExpiry)
}

// Recoverable reports whether an authenticated session carries an error.
func (s Session) Recoverable() bool {
	return s.Phase == PhaseAuthenticated && s.LastError != nil
}

// Intent identifies the protocol run allowed to publish the next snapshot.
// Commit and Fail are accepted only for the current intent.
type Intent uint64

// SessionStore owns the current Session. Readers get the latest published
// snapshot without locking. The transitions are BeginLoading, Commit, Fail,
// and Reset, plus Abandon which only undoes a BeginLoading. Every accepted
// transition advances the intent, so a result computed under an older intent
// is dropped with ErrStaleIntent.
type SessionStore struct {
	mu      sync.Mutex
	current atomic.Pointer[Session]
	intent  Intent
	// resume is the authenticated snapshot displaced by BeginLoading. Fail
	// falls back to it instead of discarding a working session.
	resume *Session
	creds  CredentialStore

	notifyMu  sync.Mutex
	observers map[int]func(Session)
	nextObs   int

	logger *slog.Logger
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithSessionLogger sets the store's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore returns a store in PhaseIdle. creds is cleared by Reset
// and written by Persist.
func NewSessionStore(creds CredentialStore, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		creds:     creds,
		observers: make(map[int]func(Session)),
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&Session{Phase: PhaseIdle})
	return s
}

// Snapshot returns the latest published session.
func (s *SessionStore) Snapshot() Session {
	return *s.current.Load()
}

// Current returns the live intent. A caller that captures it and later
// commits succeeds only if no other transition happened in between.
func (s *SessionStore) Current() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intent
}

// Issue supersedes every outstanding intent without publishing a snapshot.
func (s *SessionStore) Issue() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intent++
	return s.intent
}

// Valid reports whether intent is still the live intent.
func (s *SessionStore) Valid(intent Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intent == intent
}

// BeginLoading moves to PhaseLoading and returns a fresh intent. Tokens and
// principal of the previous snapshot are carried so an authenticated caller
// keeps working while a step-up login runs.
func (s *SessionStore) BeginLoading() Intent {
	s.mu.Lock()
	prev := s.current.Load()
	if prev.Phase == PhaseAuthenticated {
		s.resume = prev
	}
	next := *prev
	next.Phase = PhaseLoading
	next.LastError = nil
	s.intent++
	intent := s.intent
	s.publishLocked(&next)
	return intent
}

// Persist writes tokens to the credential store and reads back the bearer
// for the next request, atomically with respect to other transitions.
func (s *SessionStore) Persist(intent Intent, access, refresh string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent != s.intent {
		return "", ErrStaleIntent
	}
	if err := s.creds.SaveCredentials(&Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		SavedAt:      time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("save credentials: %w", err)
	}
	creds, err := s.creds.LoadCredentials()
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	return creds.AccessToken, nil
}

// Commit publishes an authenticated snapshot for intent. The access token
// must decode; its expiry becomes TokenExpiry.
func (s *SessionStore) Commit(intent Intent, access, refresh string, principal *Principal) error {
	return s.commit(intent, access, refresh, principal, nil)
}

// commit is Commit with an optional recoverable error published in the same
// snapshot, so a newer intent can never be charged with it.
func (s *SessionStore) commit(intent Intent, access, refresh string, principal *Principal, recoverable *Error) error {
	if principal == nil {
		return errors.New("commit requires a principal")
	}
	info, err := DecodeToken(access)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if intent != s.intent {
		s.mu.Unlock()
		s.logger.Debug("dropping stale commit", "intent", intent)
		return ErrStaleIntent
	}
	s.intent++
	s.resume = nil
	s.publishLocked(&Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Principal:    principal,
		TokenExpiry:  info.ExpiryMillis(),
		Phase:        PhaseAuthenticated,
		LastError:    recoverable,
	})
	return nil
}

// Fail records err for intent. A session that is authenticated, or was
// authenticated when loading began, stays authenticated with LastError set.
// Otherwise the session moves to PhaseFailed and its in-memory tokens and
// principal are cleared. The credential store is not touched.
func (s *SessionStore) Fail(intent Intent, err error) error {
	serr := asError(err, KindTransport, "session")

	s.mu.Lock()
	if intent != s.intent {
		s.mu.Unlock()
		s.logger.Debug("dropping stale failure", "intent", intent, "error", err)
		return ErrStaleIntent
	}
	s.intent++

	prev := s.current.Load()
	var next Session
	switch {
	case prev.Phase == PhaseAuthenticated:
		next = *prev
	case s.resume != nil:
		next = *s.resume
	default:
		next = Session{Phase: PhaseFailed}
	}
	next.LastError = serr
	s.resume = nil
	s.publishLocked(&next)
	return nil
}

// Abandon ends a loading phase for intent without an error. The session
// displaced by BeginLoading comes back if it was authenticated; otherwise
// the session returns to PhaseIdle. The credential store is not touched.
func (s *SessionStore) Abandon(intent Intent) error {
	s.mu.Lock()
	if intent != s.intent {
		s.mu.Unlock()
		return ErrStaleIntent
	}
	s.intent++

	next := Session{Phase: PhaseIdle}
	if s.resume != nil {
		next = *s.resume
	}
	s.resume = nil
	s.publishLocked(&next)
	return nil
}

// Reset returns to PhaseIdle and clears the credential store. It always
// wins: every outstanding intent is superseded. The session is reset even
// if clearing the credential store fails; that error is returned.
func (s *SessionStore) Reset() error {
	s.mu.Lock()
	s.intent++
	s.resume = nil
	err := s.creds.DeleteCredentials()
	s.publishLocked(&Session{Phase: PhaseIdle})
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// Subscribe registers fn to receive every published snapshot, in order.
// fn runs synchronously after the transition and must not call back into
// the store's transitions. The returned func unsubscribes.
func (s *SessionStore) Subscribe(fn func(Session)) func() {
	s.notifyMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.observers, id)
			s.notifyMu.Unlock()
		})
	}
}

// publishLocked stores next with the following version and notifies
// observers. It must be called with s.mu held and releases it before any
// observer runs.
func (s *SessionStore) publishLocked(next *Session) {
	next.Version = s.current.Load().Version + 1
	s.current.Store(next)
	s.logger.Debug("session transition", "phase", next.Phase, "version", next.Version)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	snapshot := *next
	for _, fn := range s.observers {
		fn(snapshot)
	}
}
