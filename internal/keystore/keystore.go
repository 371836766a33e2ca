// Package keystore manages the master secret that everything else
// derives its keys from. The secret never leaves the machine: it is
// either sealed to a TPM 2.0 device or kept in a mode-0600 seed file,
// and callers receive it in locked memory.
package keystore

import (
	"errors"
	"fmt"

	"shieldd/internal/config"
	"shieldd/internal/logging"
	"shieldd/internal/security"
)

// MasterSecretSize is the size of the generated master secret in bytes.
const MasterSecretSize = 32

var (
	// ErrTPMUnavailable indicates no usable TPM device was found.
	ErrTPMUnavailable = errors.New("keystore: no usable TPM device")

	// ErrSealedCorrupted indicates the stored sealed blob cannot be parsed.
	ErrSealedCorrupted = errors.New("keystore: sealed blob corrupted")
)

// Provider hands out the master secret from a platform backend.
type Provider interface {
	// MasterSecret returns the master secret in locked memory.
	// The caller owns the returned buffer and must Destroy it.
	MasterSecret() (*security.SecureBytes, error)

	// Describe returns a short human-readable backend description.
	Describe() string

	// Close releases backend resources.
	Close() error
}

// Open selects and initializes a provider according to the configuration.
// Provider "auto" prefers the TPM and falls back to the software backend,
// "tpm" fails hard when no device is usable, and "software" skips the
// TPM entirely.
func Open(cfg config.KeystoreConfig, log *logging.Logger) (Provider, error) {
	switch cfg.Provider {
	case "tpm":
		p, err := openTPM(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("keystore opened", "backend", p.Describe())
		return p, nil

	case "software":
		p, err := openSoftware(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		log.Info("keystore opened", "backend", p.Describe())
		return p, nil

	case "auto", "":
		if p, err := openTPM(cfg); err == nil {
			log.Info("keystore opened", "backend", p.Describe())
			return p, nil
		} else if !errors.Is(err, ErrTPMUnavailable) {
			log.Warn("tpm keystore failed, falling back to software", "error", err)
		}
		p, err := openSoftware(cfg.SeedPath)
		if err != nil {
			return nil, err
		}
		log.Info("keystore opened", "backend", p.Describe())
		return p, nil

	default:
		return nil, fmt.Errorf("keystore: unknown provider %q", cfg.Provider)
	}
}
