package sdk

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Credentials are the durable tokens that survive a restart.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	SavedAt      time.Time `json:"saved_at,omitempty"`
}

// Complete reports whether both tokens are present.
func (c *Credentials) Complete() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != ""
}

// IsEmpty reports whether no token is stored.
func (c *Credentials) IsEmpty() bool {
	return c == nil || (c.AccessToken == "" && c.RefreshToken == "")
}

// CredentialStore is the durable key-value store for tokens and the device
// identifier. Implementations must be safe for concurrent use.
type CredentialStore interface {
	// SaveCredentials replaces the stored tokens.
	SaveCredentials(creds *Credentials) error
	// LoadCredentials returns the stored tokens. A store with nothing in it
	// returns empty Credentials and a nil error.
	LoadCredentials() (*Credentials, error)
	// DeleteCredentials removes the stored tokens. The device identifier is kept.
	DeleteCredentials() error
	// DeviceID returns a stable identifier for this installation, creating
	// one on first use.
	DeviceID() (string, error)
}

// MemoryStore is an in-memory CredentialStore.
type MemoryStore struct {
	mu       sync.Mutex
	creds    Credentials
	deviceID string
	saves    int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveCredentials implements CredentialStore.
func (m *MemoryStore) SaveCredentials(creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if creds == nil {
		m.creds = Credentials{}
	} else {
		m.creds = *creds
	}
	m.saves++
	return nil
}

// LoadCredentials implements CredentialStore.
func (m *MemoryStore) LoadCredentials() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.creds
	return &c, nil
}

// DeleteCredentials implements CredentialStore.
func (m *MemoryStore) DeleteCredentials() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = Credentials{}
	return nil
}

// DeviceID implements CredentialStore.
func (m *MemoryStore) DeviceID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceID == "" {
		m.deviceID = uuid.NewString()
	}
	return m.deviceID, nil
}

// Saves returns how many times SaveCredentials was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
