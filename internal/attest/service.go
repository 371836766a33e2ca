package attest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"
	"golang.org/x/crypto/curve25519"

	"shieldd/internal/keystore"
	"shieldd/internal/security"
)

// signKeyLabel separates the attestation signing key from every other
// key derived off the master secret.
const signKeyLabel = "attest-sign"

// verifierWrapLabel separates the per-message verifier wrap key.
const verifierWrapLabel = "verifier-wrap"

// ErrNoVerifierKey indicates the verifier public key is missing or malformed.
var ErrNoVerifierKey = errors.New("attest: verifier public key must be 32 bytes")

// Service is the capability surface sync needs: sign a payload so the
// verifier can authenticate the device, and encrypt it so only the
// verifier can read it.
type Service interface {
	// Sign wraps payload in a COSE_Sign1 envelope.
	Sign(payload []byte) ([]byte, error)

	// EncryptForVerifier encrypts payload to the verifier's X25519
	// public key. The blob is ephemeralPub(32) || nonce(12) || ciphertext.
	EncryptForVerifier(payload, verifierPub []byte) ([]byte, error)

	// PublicKey returns the device's Ed25519 verification key.
	PublicKey() ed25519.PublicKey
}

// LocalService implements Service with an Ed25519 key derived from the
// platform key store's master secret. The same machine always derives
// the same identity.
type LocalService struct {
	priv ed25519.PrivateKey
}

// NewLocalService derives the device signing key from the key store.
func NewLocalService(ks keystore.Provider) (*LocalService, error) {
	master, err := ks.MasterSecret()
	if err != nil {
		return nil, fmt.Errorf("attest: obtain master secret: %w", err)
	}
	defer master.Destroy()

	seed, err := security.DeriveKeyWithLabel(master.Bytes(), signKeyLabel, ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("attest: derive signing seed: %w", err)
	}
	defer security.Wipe(seed)

	return &LocalService{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign produces a COSE_Sign1 message over payload.
func (s *LocalService) Sign(payload []byte) ([]byte, error) {
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, s.priv)
	if err != nil {
		return nil, fmt.Errorf("attest: create signer: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: cose.AlgorithmEdDSA,
		},
	}

	msg, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("attest: sign payload: %w", err)
	}

	return msg, nil
}

// EncryptForVerifier seals payload with an ephemeral X25519 agreement
// against the verifier key, HKDF key derivation, and AES-256-GCM.
func (s *LocalService) EncryptForVerifier(payload, verifierPub []byte) ([]byte, error) {
	if len(verifierPub) != curve25519.ScalarSize {
		return nil, ErrNoVerifierKey
	}

	ephPriv, err := security.GenerateKey(curve25519.ScalarSize)
	if err != nil {
		return nil, fmt.Errorf("attest: ephemeral key: %w", err)
	}
	defer security.Wipe(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("attest: ephemeral public: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv, verifierPub)
	if err != nil {
		return nil, fmt.Errorf("attest: key agreement: %w", err)
	}
	defer security.Wipe(shared)

	key, err := security.DeriveKeyWithLabel(shared, verifierWrapLabel, 32)
	if err != nil {
		return nil, fmt.Errorf("attest: derive wrap key: %w", err)
	}
	defer security.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("attest: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("attest: gcm init: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if err := security.GenerateSecureRandom(nonce); err != nil {
		return nil, fmt.Errorf("attest: nonce: %w", err)
	}

	blob := make([]byte, 0, len(ephPub)+len(nonce)+len(payload)+gcm.Overhead())
	blob = append(blob, ephPub...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, payload, nil)

	return blob, nil
}

// PublicKey returns the Ed25519 verification key for this device.
func (s *LocalService) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
