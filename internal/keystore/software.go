package keystore

import (
	"fmt"
	"os"
	"path/filepath"

	"shieldd/internal/security"
)

// SoftwareProvider keeps the master secret in a mode-0600 seed file.
// It is the fallback on machines without a TPM.
type SoftwareProvider struct {
	path   string
	secret *security.SecureBytes
}

func openSoftware(seedPath string) (*SoftwareProvider, error) {
	if seedPath == "" {
		return nil, fmt.Errorf("keystore: empty seed path")
	}

	data, err := os.ReadFile(seedPath)
	switch {
	case err == nil:
		if len(data) != MasterSecretSize {
			security.Wipe(data)
			return nil, fmt.Errorf("keystore: seed file %s has %d bytes, want %d",
				seedPath, len(data), MasterSecretSize)
		}
		if err := security.ValidateKeyStrength(data); err != nil {
			security.Wipe(data)
			return nil, fmt.Errorf("keystore: seed file %s: %w", seedPath, err)
		}
		return &SoftwareProvider{path: seedPath, secret: security.FromBytes(data)}, nil

	case os.IsNotExist(err):
		return generateSoftwareSeed(seedPath)

	default:
		return nil, fmt.Errorf("keystore: read seed file: %w", err)
	}
}

func generateSoftwareSeed(seedPath string) (*SoftwareProvider, error) {
	seed, err := security.GenerateKey(MasterSecretSize)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate seed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(seedPath), 0700); err != nil {
		security.Wipe(seed)
		return nil, fmt.Errorf("keystore: create seed directory: %w", err)
	}

	// Write-then-rename so a crash never leaves a truncated seed behind.
	tmp := seedPath + ".tmp"
	if err := os.WriteFile(tmp, seed, 0600); err != nil {
		security.Wipe(seed)
		return nil, fmt.Errorf("keystore: write seed file: %w", err)
	}
	if err := os.Rename(tmp, seedPath); err != nil {
		os.Remove(tmp)
		security.Wipe(seed)
		return nil, fmt.Errorf("keystore: install seed file: %w", err)
	}

	return &SoftwareProvider{path: seedPath, secret: security.FromBytes(seed)}, nil
}

// MasterSecret returns a locked copy of the seed.
func (s *SoftwareProvider) MasterSecret() (*security.SecureBytes, error) {
	if s.secret == nil || s.secret.Len() == 0 {
		return nil, fmt.Errorf("keystore: provider closed")
	}
	return security.FromBytes(s.secret.Copy()), nil
}

// Describe identifies the backend.
func (s *SoftwareProvider) Describe() string {
	return "software seed file"
}

// Close wipes the in-memory seed. The seed file stays on disk.
func (s *SoftwareProvider) Close() error {
	if s.secret != nil {
		s.secret.Destroy()
		s.secret = nil
	}
	return nil
}
