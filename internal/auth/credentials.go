package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Credentials is the persisted authentication material.
type Credentials struct {
	Token   string    `json:"token"`
	UID     string    `json:"uid"`
	SavedAt time.Time `json:"saved_at"`
}

// CredentialStore persists and retrieves credentials across process runs.
type CredentialStore interface {
	// Load returns the stored credentials, or nil when none exist.
	Load() (*Credentials, error)

	// Save stores credentials with owner-only permissions.
	Save(creds *Credentials) error

	// Clear removes stored credentials. Clearing absent credentials is
	// not an error.
	Clear() error
}

// FileStore keeps credentials in a JSON file under the user's config
// directory.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ CredentialStore = (*FileStore)(nil)

// NewFileStore creates a credential store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the stored credentials, or nil when none exist.
func (s *FileStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, fmt.Errorf("invalid credentials: missing token")
	}

	return &creds, nil
}

// Save stores credentials atomically with proper file permissions.
func (s *FileStore) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tempFile := s.path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp credentials file: %w", err)
	}
	defer func() {
		file.Close()
		os.Remove(tempFile) // Clean up on error
	}()

	if err := file.Chmod(0600); err != nil && runtime.GOOS != "windows" {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync credentials file: %w", err)
	}

	file.Close()

	// Atomic rename
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to save credentials file: %w", err)
	}

	return nil
}

// Clear removes the credentials file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}
	return nil
}
