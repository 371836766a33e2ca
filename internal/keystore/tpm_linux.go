//go:build linux

package keystore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"shieldd/internal/config"
	"shieldd/internal/security"
)

// TPMProvider seals the master secret to a TPM 2.0 device. The sealed
// blob lives next to the software seed path and is only usable on the
// TPM that created it.
type TPMProvider struct {
	mu         sync.Mutex
	devicePath string
	sealedPath string
	transport  transport.TPMCloser
	secret     *security.SecureBytes
}

func openTPM(cfg config.KeystoreConfig) (*TPMProvider, error) {
	if cfg.TPMPath == "" {
		return nil, ErrTPMUnavailable
	}
	if _, err := os.Stat(cfg.TPMPath); err != nil {
		return nil, ErrTPMUnavailable
	}

	tr, err := transport.OpenTPM(cfg.TPMPath)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", cfg.TPMPath, err)
	}

	p := &TPMProvider{
		devicePath: cfg.TPMPath,
		sealedPath: cfg.SeedPath + ".tpm",
		transport:  tr,
	}

	if err := p.loadOrCreate(); err != nil {
		tr.Close()
		return nil, err
	}

	return p, nil
}

func (p *TPMProvider) loadOrCreate() error {
	blob, err := os.ReadFile(p.sealedPath)
	switch {
	case err == nil:
		secret, err := p.unseal(blob)
		if err != nil {
			return err
		}
		if err := security.ValidateKeyStrength(secret); err != nil {
			security.Wipe(secret)
			return fmt.Errorf("keystore: unsealed secret: %w", err)
		}
		p.secret = security.FromBytes(secret)
		return nil

	case os.IsNotExist(err):
		seed, err := security.GenerateKey(MasterSecretSize)
		if err != nil {
			return fmt.Errorf("keystore: generate seed: %w", err)
		}

		sealed, err := p.seal(seed)
		if err != nil {
			security.Wipe(seed)
			return err
		}

		if err := os.MkdirAll(filepath.Dir(p.sealedPath), 0700); err != nil {
			security.Wipe(seed)
			return fmt.Errorf("keystore: create seal directory: %w", err)
		}
		if err := os.WriteFile(p.sealedPath, sealed, 0600); err != nil {
			security.Wipe(seed)
			return fmt.Errorf("keystore: write sealed blob: %w", err)
		}

		p.secret = security.FromBytes(seed)
		return nil

	default:
		return fmt.Errorf("keystore: read sealed blob: %w", err)
	}
}

// createSRK builds the storage root key the sealed object hangs off.
// The key is primary and deterministic, so it does not need persisting.
func (p *TPMProvider) createSRK() (tpm2.TPMHandle, error) {
	createPrimaryCmd := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.TPMRHOwner,
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgECC,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				FixedTPM:            true,
				FixedParent:         true,
				SensitiveDataOrigin: true,
				UserWithAuth:        true,
				Restricted:          true,
				Decrypt:             true,
			},
			Parameters: tpm2.NewTPMUPublicParms(
				tpm2.TPMAlgECC,
				&tpm2.TPMSECCParms{
					CurveID: tpm2.TPMECCNistP256,
					Scheme: tpm2.TPMTECCScheme{
						Scheme: tpm2.TPMAlgNull,
					},
				},
			),
		}),
	}

	rsp, err := createPrimaryCmd.Execute(p.transport)
	if err != nil {
		return 0, fmt.Errorf("keystore: CreatePrimary failed: %w", err)
	}

	return rsp.ObjectHandle, nil
}

func (p *TPMProvider) flush(handle tpm2.TPMHandle) {
	flushCmd := tpm2.FlushContext{FlushHandle: handle}
	flushCmd.Execute(p.transport)
}

func (p *TPMProvider) seal(data []byte) ([]byte, error) {
	srk, err := p.createSRK()
	if err != nil {
		return nil, err
	}
	defer p.flush(srk)

	createCmd := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: srk,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(
					&tpm2.TPM2BSensitiveData{Buffer: data},
				),
			},
		},
		InPublic: tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgKeyedHash,
			NameAlg: tpm2.TPMAlgSHA256,
			ObjectAttributes: tpm2.TPMAObject{
				FixedTPM:     true,
				FixedParent:  true,
				UserWithAuth: true,
			},
		}),
	}

	createRsp, err := createCmd.Execute(p.transport)
	if err != nil {
		return nil, fmt.Errorf("keystore: Create failed: %w", err)
	}

	pubBytes := tpm2.Marshal(createRsp.OutPublic)
	privBytes := tpm2.Marshal(createRsp.OutPrivate)

	// Blob layout: len(pub) || pub || len(priv) || priv.
	sealed := make([]byte, 4+len(pubBytes)+4+len(privBytes))
	binary.BigEndian.PutUint32(sealed[0:4], uint32(len(pubBytes)))
	copy(sealed[4:], pubBytes)
	offset := 4 + len(pubBytes)
	binary.BigEndian.PutUint32(sealed[offset:offset+4], uint32(len(privBytes)))
	copy(sealed[offset+4:], privBytes)

	return sealed, nil
}

func (p *TPMProvider) unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < 8 {
		return nil, ErrSealedCorrupted
	}

	pubLen := binary.BigEndian.Uint32(sealed[0:4])
	if len(sealed) < int(4+pubLen+4) {
		return nil, ErrSealedCorrupted
	}
	pubBytes := sealed[4 : 4+pubLen]
	offset := 4 + pubLen
	privLen := binary.BigEndian.Uint32(sealed[offset : offset+4])
	if len(sealed) < int(offset+4+privLen) {
		return nil, ErrSealedCorrupted
	}
	privBytes := sealed[offset+4 : offset+4+privLen]

	outPublic, err := tpm2.Unmarshal[tpm2.TPM2BPublic](pubBytes)
	if err != nil {
		return nil, ErrSealedCorrupted
	}

	srk, err := p.createSRK()
	if err != nil {
		return nil, err
	}
	defer p.flush(srk)

	loadCmd := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: srk,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: *outPublic,
		InPrivate: tpm2.TPM2BPrivate{
			Buffer: privBytes,
		},
	}

	loadRsp, err := loadCmd.Execute(p.transport)
	if err != nil {
		return nil, fmt.Errorf("keystore: Load failed: %w", err)
	}
	defer p.flush(loadRsp.ObjectHandle)

	unsealCmd := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: loadRsp.ObjectHandle,
			Name:   loadRsp.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}

	unsealRsp, err := unsealCmd.Execute(p.transport)
	if err != nil {
		return nil, fmt.Errorf("keystore: Unseal failed: %w", err)
	}

	return unsealRsp.OutData.Buffer, nil
}

// MasterSecret returns a locked copy of the unsealed secret.
func (p *TPMProvider) MasterSecret() (*security.SecureBytes, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secret == nil || p.secret.Len() == 0 {
		return nil, fmt.Errorf("keystore: provider closed")
	}
	return security.FromBytes(p.secret.Copy()), nil
}

// Describe identifies the backend.
func (p *TPMProvider) Describe() string {
	return "tpm " + p.devicePath
}

// Close wipes the unsealed secret and releases the device.
func (p *TPMProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secret != nil {
		p.secret.Destroy()
		p.secret = nil
	}
	if p.transport != nil {
		err := p.transport.Close()
		p.transport = nil
		return err
	}
	return nil
}
