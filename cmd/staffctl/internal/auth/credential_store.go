package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

const (
	credentialsFile = "credentials.json"
	deviceFile      = "device.json"
)

// FileStore implements sdk.CredentialStore using JSON files under a
// directory (~/.staffgrid by default). Tokens live in credentials.json and
// the device identifier in device.json, so logging out keeps the device.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Ensure FileStore implements sdk.CredentialStore at compile time.
var _ sdk.CredentialStore = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at ~/.staffgrid.
func NewFileStore() (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return NewFileStoreAt(filepath.Join(home, ".staffgrid"))
}

// NewFileStoreAt creates a FileStore rooted at dir, creating it with 0700.
func NewFileStoreAt(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the store's files.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveCredentials saves the credentials to the file.
func (s *FileStore) SaveCredentials(credentials *sdk.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credentials == nil {
		credentials = &sdk.Credentials{}
	}
	return s.writeJSON(credentialsFile, credentials)
}

// LoadCredentials loads the credentials from the file. A missing file means
// nothing is stored and yields empty credentials.
func (s *FileStore) LoadCredentials() (*sdk.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var creds sdk.Credentials
	found, err := s.readJSON(credentialsFile, &creds)
	if err != nil {
		return nil, err
	}
	if !found {
		return &sdk.Credentials{}, nil
	}
	return &creds, nil
}

// DeleteCredentials deletes the credentials file.
func (s *FileStore) DeleteCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, credentialsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credentials file: %w", err)
	}
	return nil
}

type deviceRecord struct {
	DeviceID string `json:"device_id"`
}

// DeviceID returns the installation's device identifier, generating and
// saving a new UUID on first use.
func (s *FileStore) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec deviceRecord
	found, err := s.readJSON(deviceFile, &rec)
	if err != nil {
		return "", err
	}
	if found && rec.DeviceID != "" {
		return rec.DeviceID, nil
	}
	rec.DeviceID = uuid.NewString()
	if err := s.writeJSON(deviceFile, &rec); err != nil {
		return "", err
	}
	return rec.DeviceID, nil
}

func (s *FileStore) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}

// writeJSON replaces name atomically: a reader sees the old or the new file,
// never a partial one.
func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
